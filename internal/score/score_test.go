package score

import (
	"reflect"
	"testing"

	"github.com/verte-zerg/proctor/internal/model"
)

func TestEvaluateEmptySession(t *testing.T) {
	got, deductions := Evaluate(model.Counters{})
	if got != 100 {
		t.Fatalf("expected score 100 for empty counters, got %d", got)
	}
	if len(deductions) != 0 {
		t.Fatalf("expected no deductions, got %v", deductions)
	}
}

func TestEvaluateSingleDeduction(t *testing.T) {
	counters := model.Counters{TotalFrames: 100, LookingAway: 25}
	got, deductions := Evaluate(counters)
	if len(deductions) != 1 {
		t.Fatalf("expected exactly one deduction, got %v", deductions)
	}
	d := deductions[0]
	if d.Reason != ReasonLookingAway {
		t.Fatalf("unexpected reason: %q", d.Reason)
	}
	if d.Points != 25 {
		t.Fatalf("expected 25 points below the cap, got %v", d.Points)
	}
	if d.Percentage != 25.0 {
		t.Fatalf("expected percentage 25.0, got %v", d.Percentage)
	}
	if got != 75 {
		t.Fatalf("expected score 75, got %d", got)
	}
}

func TestEvaluateCapEnforcement(t *testing.T) {
	// 60% mobile frames: raw points 60*2=120, capped to 25.
	counters := model.Counters{TotalFrames: 100, MobileDetected: 60}
	got, deductions := Evaluate(counters)
	if len(deductions) != 1 {
		t.Fatalf("expected one deduction, got %v", deductions)
	}
	if deductions[0].Points != 25 {
		t.Fatalf("expected capped points 25, got %v", deductions[0].Points)
	}
	if got != 75 {
		t.Fatalf("expected score 75, got %d", got)
	}
}

func TestEvaluateThresholds(t *testing.T) {
	tests := []struct {
		name     string
		counters model.Counters
		reasons  []string
	}{
		{
			name:     "all below thresholds",
			counters: model.Counters{TotalFrames: 100, LookingAway: 20, MobileDetected: 5, MultiplePeople: 2, NoFace: 10},
			reasons:  nil,
		},
		{
			name:     "all above thresholds",
			counters: model.Counters{TotalFrames: 100, LookingAway: 21, MobileDetected: 6, MultiplePeople: 3, NoFace: 11},
			reasons:  []string{ReasonLookingAway, ReasonMobileDevice, ReasonMultiplePeople, ReasonNoFace},
		},
		{
			name:     "mobile below threshold ignored",
			counters: model.Counters{TotalFrames: 100, LookingAway: 30, MobileDetected: 3},
			reasons:  []string{ReasonLookingAway},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, deductions := Evaluate(tt.counters)
			var reasons []string
			for _, d := range deductions {
				reasons = append(reasons, d.Reason)
			}
			if !reflect.DeepEqual(reasons, tt.reasons) {
				t.Fatalf("expected reasons %v, got %v", tt.reasons, reasons)
			}
		})
	}
}

func TestEvaluateMonotonicPenalty(t *testing.T) {
	base := model.Counters{TotalFrames: 200}
	prev, _ := Evaluate(base)
	for la := 0; la <= 200; la += 10 {
		c := base
		c.LookingAway = la
		got, _ := Evaluate(c)
		if got > prev {
			t.Fatalf("score increased from %d to %d at looking_away=%d", prev, got, la)
		}
		prev = got
	}
}

func TestEvaluateBounds(t *testing.T) {
	tests := []struct {
		name     string
		counters model.Counters
	}{
		{"zero frames", model.Counters{}},
		{"everything violated", model.Counters{TotalFrames: 100, LookingAway: 100, MobileDetected: 100, MultiplePeople: 100, NoFace: 100}},
		// Out-of-contract input: category counts above the total must still
		// clamp rather than panic or go negative.
		{"counts exceed total", model.Counters{TotalFrames: 10, LookingAway: 500, MobileDetected: 500, MultiplePeople: 500, NoFace: 500}},
		{"huge magnitudes", model.Counters{TotalFrames: 1, LookingAway: 1 << 40, MobileDetected: 1 << 40}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Evaluate(tt.counters)
			if got < 0 || got > 100 {
				t.Fatalf("score %d out of [0,100]", got)
			}
		})
	}
}

func TestEvaluateIdempotent(t *testing.T) {
	counters := model.Counters{TotalFrames: 100, LookingAway: 25, MobileDetected: 7, NoFace: 12}
	score1, deductions1 := Evaluate(counters)
	score2, deductions2 := Evaluate(counters)
	if score1 != score2 {
		t.Fatalf("scores differ: %d vs %d", score1, score2)
	}
	if !reflect.DeepEqual(deductions1, deductions2) {
		t.Fatalf("deductions differ: %v vs %v", deductions1, deductions2)
	}
}

func TestBandFor(t *testing.T) {
	tests := []struct {
		score int
		want  Band
	}{
		{100, BandExcellent},
		{90, BandExcellent},
		{89, BandGood},
		{75, BandGood},
		{74, BandModerate},
		{60, BandModerate},
		{59, BandPoor},
		{0, BandPoor},
	}
	for _, tt := range tests {
		if got := BandFor(tt.score); got != tt.want {
			t.Fatalf("BandFor(%d) = %v, want %v", tt.score, got, tt.want)
		}
	}
}
