package model

import (
	"time"

	"safestep/pkg/audio"
)

// NarrationPlan holds one thematic beat per segment, index 1 at position 0.
type NarrationPlan []string

// Segment is one realized piece of narration with its decoded audio.
type Segment struct {
	Index int    `json:"index"` // 1-based
	Text  string `json:"text"`

	Audio *audio.Buffer `json:"-"`

	// GenerationLatency is how long text plus speech took.
	GenerationLatency time.Duration `json:"generation_latency"`
	CreatedAt         time.Time     `json:"created_at"`
}

// Realized reports whether the segment carries playable audio.
func (s *Segment) Realized() bool {
	return s != nil && s.Audio != nil
}

// Duration returns the audio length, or zero when unrealized.
func (s *Segment) Duration() time.Duration {
	if !s.Realized() {
		return 0
	}
	return s.Audio.Duration()
}
