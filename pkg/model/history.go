package model

import "time"

// WalkOutcome is how a recorded walk ended.
type WalkOutcome string

const (
	OutcomeActive    WalkOutcome = "active"
	OutcomeCompleted WalkOutcome = "completed"
	OutcomeAbandoned WalkOutcome = "abandoned"
)

// WalkRecord is the persisted summary of one walk.
type WalkRecord struct {
	Token            string        `json:"token"`
	Origin           string        `json:"origin"`
	Destination      string        `json:"destination"`
	Style            GuardianStyle `json:"style"`
	Voice            string        `json:"voice"`
	DistanceMeters   float64       `json:"distance_meters"`
	DurationSeconds  int           `json:"duration_seconds"`
	TotalSegments    int           `json:"total_segments"`
	Plan             NarrationPlan `json:"plan"`
	StartedAt        time.Time     `json:"started_at"`
	EndedAt          *time.Time    `json:"ended_at,omitempty"`
	SegmentsRealized int           `json:"segments_realized"`
	Outcome          WalkOutcome   `json:"outcome"`
}
