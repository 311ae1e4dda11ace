// Package model defines shared proctoring data structures.
package model

import "time"

// Counters holds cumulative per-category detection frame counts for one
// session. The detection service reports them as authoritative totals, so
// they are adopted wholesale and never merged client-side.
type Counters struct {
	TotalFrames    int `json:"total_frames_captured"`
	LookingAway    int `json:"looking_away_frames"`
	MobileDetected int `json:"mobile_detected_frames"`
	MultiplePeople int `json:"multiple_people_frames"`
	NoFace         int `json:"no_face_frames"`
}

// Alert is a discrete, timestamped detection event shown to observers.
type Alert struct {
	Type      string `json:"type"`
	Details   string `json:"details"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

// Time returns the alert timestamp as a time.Time.
func (a Alert) Time() time.Time {
	return time.UnixMilli(a.Timestamp)
}

// Deduction is a scoring penalty derived from a counter percentage
// exceeding its threshold.
type Deduction struct {
	Reason     string  `json:"reason"`
	Points     float64 `json:"points"`
	Percentage float64 `json:"percentage"` // rounded to one decimal
}

// Report is the immutable end-of-session summary.
type Report struct {
	SessionID       string         `json:"session_id"`
	CandidateName   string         `json:"candidate_name"`
	StartedAt       time.Time      `json:"started_at"`
	EndedAt         time.Time      `json:"ended_at"`
	DurationSeconds int            `json:"duration_seconds"`
	TotalFrames     int            `json:"total_frames"`
	Counters        Counters       `json:"stats"`
	IntegrityScore  int            `json:"integrity_score"`
	Deductions      []Deduction    `json:"deductions"`
	Alerts          []Alert        `json:"alerts"`
	AlertSummary    map[string]int `json:"alert_summary"`
	Recommendations []string       `json:"recommendations"`
	GeneratedAt     time.Time      `json:"generated_at"`
}
