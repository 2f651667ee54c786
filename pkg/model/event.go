package model

import "time"

// WalkEventType classifies entries of the walk event log.
type WalkEventType string

const (
	EventWalkStarted      WalkEventType = "walk_started"
	EventWalkEnded        WalkEventType = "walk_ended"
	EventSegmentRealized  WalkEventType = "segment_realized"
	EventSegmentFailed    WalkEventType = "segment_failed"
	EventSegmentChange    WalkEventType = "segment_change"
	EventStateChange      WalkEventType = "state_change"
	EventPlaybackFault    WalkEventType = "playback_fault"
	EventPortraitRendered WalkEventType = "portrait_rendered"
)

// WalkEvent is a notable moment of a walk, written to events.log and pushed to clients.
type WalkEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      WalkEventType  `json:"type"`
	Title     string         `json:"title"`
	Summary   string         `json:"summary,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}
