package scoring

import "math"

// kFactor controls how fast desirability ratings move after each swipe
// outcome.
const kFactor = 32

// NextRating applies one ELO-style update to rating against opponent.
// won = the rated profile received a like; a pass counts as a loss.
func NextRating(rating, opponent float64, won bool) float64 {
	expected := 1 / (1 + math.Pow(10, (opponent-rating)/400))
	outcome := 0.0
	if won {
		outcome = 1.0
	}
	return rating + kFactor*(outcome-expected)
}
