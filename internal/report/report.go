// Package report builds and renders end-of-session reports.
package report

import (
	"fmt"
	"time"

	"github.com/verte-zerg/proctor/internal/model"
	"github.com/verte-zerg/proctor/internal/score"
)

// Meta identifies the session a report describes.
type Meta struct {
	SessionID      string
	CandidateName  string
	StartedAt      time.Time
	EndedAt        time.Time
	ElapsedSeconds int
}

// Synthesize builds the immutable report from frozen session state. Apart
// from the informational GeneratedAt footer it is pure: identical inputs
// produce identical reports.
func Synthesize(meta Meta, counters model.Counters, alerts []model.Alert, finalScore int, deductions []model.Deduction) model.Report {
	return model.Report{
		SessionID:       meta.SessionID,
		CandidateName:   meta.CandidateName,
		StartedAt:       meta.StartedAt,
		EndedAt:         meta.EndedAt,
		DurationSeconds: meta.ElapsedSeconds,
		TotalFrames:     counters.TotalFrames,
		Counters:        counters,
		IntegrityScore:  finalScore,
		Deductions:      append([]model.Deduction(nil), deductions...),
		Alerts:          append([]model.Alert(nil), alerts...),
		AlertSummary:    summarizeAlerts(alerts),
		Recommendations: Recommendations(finalScore, deductions),
		GeneratedAt:     time.Now(),
	}
}

// Recommendations returns the deterministic advice list: one sentence for
// the score band, then one per distinct deduction reason in deduction
// order.
func Recommendations(finalScore int, deductions []model.Deduction) []string {
	var recs []string
	switch score.BandFor(finalScore) {
	case score.BandExcellent:
		recs = append(recs, "Excellent performance with minimal violations detected.")
	case score.BandGood:
		recs = append(recs, "Good performance with minor violations. Consider reviewing flagged incidents.")
	case score.BandModerate:
		recs = append(recs, "Moderate violations detected. Manual review recommended.")
	default:
		recs = append(recs, "Significant violations detected. Immediate review required.")
	}

	seen := make(map[string]bool, len(deductions))
	for _, d := range deductions {
		if seen[d.Reason] {
			continue
		}
		seen[d.Reason] = true
		switch d.Reason {
		case score.ReasonLookingAway:
			recs = append(recs, "Candidate frequently looked away from screen. Verify exam environment.")
		case score.ReasonMobileDevice:
			recs = append(recs, "Mobile device detected. Investigate potential unauthorized assistance.")
		case score.ReasonMultiplePeople:
			recs = append(recs, "Multiple people detected. Verify candidate identity and exam integrity.")
		case score.ReasonNoFace:
			recs = append(recs, "Face frequently not visible. Check camera setup and candidate positioning.")
		}
	}
	return recs
}

// FormatDuration renders elapsed seconds as m:ss.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

func summarizeAlerts(alerts []model.Alert) map[string]int {
	summary := make(map[string]int, 4)
	for _, a := range alerts {
		summary[a.Type]++
	}
	return summary
}
