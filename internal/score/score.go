// Package score computes the integrity score from session counters.
package score

import (
	"math"

	"github.com/verte-zerg/proctor/internal/model"
)

// Reason labels attached to deductions.
const (
	ReasonLookingAway    = "Looking Away"
	ReasonMobileDevice   = "Mobile Device"
	ReasonMultiplePeople = "Multiple People"
	ReasonNoFace         = "Face Not Visible"
)

type rule struct {
	reason    string
	count     func(model.Counters) int
	threshold float64 // percentage above which the rule triggers
	weight    float64 // multiplier applied to the percentage
	cap       float64 // maximum points the rule can subtract
}

// Rules are evaluated independently; the slice order fixes the display
// order of the resulting deductions.
var rules = []rule{
	{ReasonLookingAway, func(c model.Counters) int { return c.LookingAway }, 20, 1, 30},
	{ReasonMobileDevice, func(c model.Counters) int { return c.MobileDetected }, 5, 2, 25},
	{ReasonMultiplePeople, func(c model.Counters) int { return c.MultiplePeople }, 2, 5, 20},
	{ReasonNoFace, func(c model.Counters) int { return c.NoFace }, 10, 1, 15},
}

// Evaluate derives the integrity score and its deductions from counters.
// It is pure: identical counters always produce identical output, and it is
// used unchanged for both the live score and the final report score.
func Evaluate(c model.Counters) (int, []model.Deduction) {
	total := c.TotalFrames
	if total < 1 {
		total = 1
	}
	remaining := 100.0
	var deductions []model.Deduction
	for _, r := range rules {
		pct := float64(r.count(c)) / float64(total) * 100
		if pct <= r.threshold {
			continue
		}
		points := pct * r.weight
		if points > r.cap {
			points = r.cap
		}
		remaining -= points
		deductions = append(deductions, model.Deduction{
			Reason:     r.reason,
			Points:     points,
			Percentage: math.Round(pct*10) / 10,
		})
	}
	final := int(math.Floor(remaining))
	if final < 0 {
		final = 0
	}
	if final > 100 {
		final = 100
	}
	return final, deductions
}

// Band classifies a score into the ranges used by recommendations and
// report rendering.
type Band int

// Bands in decreasing order of trust.
const (
	BandExcellent Band = iota // >= 90
	BandGood                  // >= 75
	BandModerate              // >= 60
	BandPoor                  // below 60
)

// BandFor returns the band a score falls into.
func BandFor(score int) Band {
	switch {
	case score >= 90:
		return BandExcellent
	case score >= 75:
		return BandGood
	case score >= 60:
		return BandModerate
	default:
		return BandPoor
	}
}
