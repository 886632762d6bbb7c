package scoring

import (
	"math"
	"time"

	"github.com/kindled-app/kindled/internal/db"
)

// jaccard returns |A∩B| / |A∪B| and the intersection size.
func jaccardWithOverlap(a, b []string) (float64, int) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0
	}

	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}

	inter := 0
	bset := make(map[string]struct{}, len(b))
	for _, s := range b {
		if _, dup := bset[s]; dup {
			continue
		}
		bset[s] = struct{}{}
		if _, ok := set[s]; ok {
			inter++
		}
	}

	union := len(set) + len(bset) - inter
	if union == 0 {
		return 0, 0
	}
	return float64(inter) / float64(union), inter
}

func jaccard(a, b []string) float64 {
	j, _ := jaccardWithOverlap(a, b)
	return j
}

// interestScore is Jaccard similarity plus a bounded bonus for the raw
// overlap size, so two profiles sharing many interests edge out two sharing
// one even at equal Jaccard. Disjoint sets score 0.
func interestScore(a, b []string) float64 {
	j, inter := jaccardWithOverlap(a, b)
	if inter == 0 {
		return 0
	}
	bonus := math.Min(0.1*float64(inter), 0.3)
	return clamp(j+bonus, 0, 1)
}

// proximityScore decays exponentially with distance. The decay factor is a
// third of the exclusion radius, so a candidate right at the edge still
// scores about e^-3.
func proximityScore(distanceKm, maxDistanceKm float64) float64 {
	if maxDistanceKm <= 0 {
		return 0
	}
	decay := maxDistanceKm / 3
	return math.Exp(-distanceKm / decay)
}

// DistanceKm is the haversine great-circle distance between two coordinates.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadiusKm = 6371.0

	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLng := rad(lng2 - lng1)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// recencyBucket maps time-since-last-activity onto a step score.
func recencyBucket(since time.Duration) float64 {
	switch {
	case since < time.Hour:
		return 1.0
	case since < 6*time.Hour:
		return 0.9
	case since < 24*time.Hour:
		return 0.7
	case since < 72*time.Hour:
		return 0.5
	case since < 168*time.Hour:
		return 0.3
	default:
		return 0.1
	}
}

func activityScore(p *db.Profile, now time.Time) float64 {
	recency := recencyBucket(now.Sub(p.LastActiveAt))
	return clamp(0.5*recency+0.3*p.Completeness+0.2*p.ResponseRate, 0, 1)
}

func desirabilityScore(p *db.Profile) float64 {
	// Ratings live around 1500; normalize 1000..2000 onto 0..1.
	rating := clamp((p.Rating-1000)/1000, 0, 1)

	var likeRatio float64
	if p.ViewsReceived > 0 {
		likeRatio = clamp(float64(p.LikesReceived)/float64(p.ViewsReceived), 0, 1)
	}

	photo := clamp(p.PhotoQuality, 0, 1) * math.Min(1, float64(p.PhotoCount)/3)

	return clamp(0.5*rating+0.3*likeRatio+0.2*photo, 0, 1)
}

// behavioralScore averages five alignment checks of the candidate against
// the viewer's historical swipe pattern. Missing history substitutes a
// neutral 0.5 rather than failing.
func behavioralScore(p *db.Profile, hist *SwipeHistory, now time.Time) float64 {
	if hist == nil {
		return 0.5
	}

	checks := 0.0

	age := now.Year() - p.BirthYear
	if hist.AgeMin <= age && age <= hist.AgeMax {
		checks++
	}
	if !hist.PrefersVerified || p.Verified {
		checks++
	}
	if !hist.PrefersBio || p.Bio != "" {
		checks++
	}
	if p.PhotoCount >= hist.MinPhotoCount {
		checks++
	}
	if hourOverlap(hist, p.LastActiveAt) {
		checks++
	}

	return checks / 5
}

func hourOverlap(hist *SwipeHistory, lastActive time.Time) bool {
	if hist.ActiveHourStart == hist.ActiveHourEnd {
		return true
	}
	h := lastActive.Hour()
	if hist.ActiveHourStart < hist.ActiveHourEnd {
		return hist.ActiveHourStart <= h && h < hist.ActiveHourEnd
	}
	// window wraps midnight
	return h >= hist.ActiveHourStart || h < hist.ActiveHourEnd
}
