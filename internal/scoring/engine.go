// Package scoring computes multi-factor compatibility scores. Everything in
// here is pure: no I/O, no shared state, deterministic for a given input
// and timestamp.
package scoring

import (
	"time"

	"github.com/kindled-app/kindled/internal/db"
)

// Weights for the five score components. They sum to 1.0.
type Weights struct {
	Interest     float64
	Proximity    float64
	Activity     float64
	Desirability float64
	Behavioral   float64
}

// DefaultWeights are the production weights.
func DefaultWeights() Weights {
	return Weights{
		Interest:     0.30,
		Proximity:    0.25,
		Activity:     0.20,
		Desirability: 0.15,
		Behavioral:   0.10,
	}
}

// Breakdown carries the per-component scores (each 0..1), the weighted
// total (0..100) and the computation timestamp. It is derived, ephemeral
// state and never persisted as authoritative.
type Breakdown struct {
	Interest     float64
	Proximity    float64
	Activity     float64
	Desirability float64
	Behavioral   float64
	Total        float64
	ComputedAt   time.Time
}

// SwipeHistory summarizes a viewer's historical swipe pattern for the
// behavioral-fit component. A nil history contributes a neutral 0.5.
type SwipeHistory struct {
	AgeMin          int
	AgeMax          int
	PrefersVerified bool
	PrefersBio      bool
	MinPhotoCount   int
	// Preferred activity window, hours of day [start, end). Start == End
	// means no preference.
	ActiveHourStart int
	ActiveHourEnd   int
}

// Engine scores (viewer, candidate) pairs.
type Engine struct {
	weights       Weights
	maxDistanceKm float64
}

func NewEngine(weights Weights, maxDistanceKm float64) *Engine {
	return &Engine{weights: weights, maxDistanceKm: maxDistanceKm}
}

// MaxDistanceKm is the exclusion radius; candidates beyond it are filtered
// out upstream and never reach Score.
func (e *Engine) MaxDistanceKm() float64 { return e.maxDistanceKm }

// Score computes the compatibility breakdown of candidate for viewer at
// the given instant. It never errors for a well-formed candidate; missing
// behavioral data degrades to a neutral contribution.
func (e *Engine) Score(viewer, candidate *db.Profile, hist *SwipeHistory, now time.Time) Breakdown {
	b := Breakdown{
		Interest:     interestScore(viewer.InterestList(), candidate.InterestList()),
		Proximity:    proximityScore(DistanceKm(viewer.Lat, viewer.Lng, candidate.Lat, candidate.Lng), e.maxDistanceKm),
		Activity:     activityScore(candidate, now),
		Desirability: desirabilityScore(candidate),
		Behavioral:   behavioralScore(candidate, hist, now),
		ComputedAt:   now,
	}

	total := b.Interest*e.weights.Interest +
		b.Proximity*e.weights.Proximity +
		b.Activity*e.weights.Activity +
		b.Desirability*e.weights.Desirability +
		b.Behavioral*e.weights.Behavioral

	b.Total = clamp(total*100, 0, 100)
	return b
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
