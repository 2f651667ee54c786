package tts

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoAudio is returned when a provider answers without an audio payload.
var ErrNoAudio = errors.New("audio link failure: no audio payload")

// Payload is encoded audio as returned by a provider.
// Exactly one of Data or Base64 is set.
type Payload struct {
	Data     []byte
	Base64   string
	MIMEType string // e.g. "audio/L16;codec=pcm;rate=24000", "audio/mpeg"
}

// Empty reports whether the payload carries no audio bytes.
func (p *Payload) Empty() bool {
	return p == nil || (len(p.Data) == 0 && p.Base64 == "")
}

// Provider defines the interface for Text-To-Speech engines.
type Provider interface {
	// Synthesize turns text into an encoded audio payload.
	Synthesize(ctx context.Context, text, voice string) (*Payload, error)

	// Voices returns the voices the provider offers.
	Voices(ctx context.Context) ([]Voice, error)

	// Name identifies the provider in logs and stats.
	Name() string
}

// Voice represents an available TTS voice.
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Gender   string `json:"gender,omitempty"`
	Style    string `json:"style,omitempty"`
}

// SynthesisError reports a failed speech synthesis: remote error, missing payload or undecodable audio.
type SynthesisError struct {
	Provider string
	Voice    string
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis via %s (voice %s) failed: %v", e.Provider, e.Voice, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// StatusError is a non-2xx answer from a provider's HTTP endpoint.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}
