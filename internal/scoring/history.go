package scoring

import (
	"time"

	"github.com/kindled-app/kindled/internal/db"
)

// BuildHistory derives a viewer's swipe pattern from the profiles they
// actively liked. Returns nil when there is nothing to learn from, which
// the scorer treats as a neutral behavioral contribution.
func BuildHistory(liked []db.Profile, now time.Time) *SwipeHistory {
	if len(liked) == 0 {
		return nil
	}

	h := &SwipeHistory{
		AgeMin:        int(^uint(0) >> 1),
		MinPhotoCount: int(^uint(0) >> 1),
	}

	verified := 0
	withBio := 0
	minHour, maxHour := 23, 0
	for _, p := range liked {
		age := now.Year() - p.BirthYear
		if age < h.AgeMin {
			h.AgeMin = age
		}
		if age > h.AgeMax {
			h.AgeMax = age
		}
		if p.PhotoCount < h.MinPhotoCount {
			h.MinPhotoCount = p.PhotoCount
		}
		if p.Verified {
			verified++
		}
		if p.Bio != "" {
			withBio++
		}
		hr := p.LastActiveAt.Hour()
		if hr < minHour {
			minHour = hr
		}
		if hr > maxHour {
			maxHour = hr
		}
	}

	h.PrefersVerified = verified*2 > len(liked)
	h.PrefersBio = withBio*2 > len(liked)

	// Activity window spans the observed active hours, end exclusive. When
	// the likes cover the whole day there is nothing to prefer and the
	// window collapses to the no-preference zero value.
	if !(minHour == 0 && maxHour == 23) {
		h.ActiveHourStart = minHour
		h.ActiveHourEnd = (maxHour + 1) % 24
	}
	return h
}
