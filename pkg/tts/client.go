package tts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"safestep/pkg/audio"
	"safestep/pkg/config"
)

// Client turns text into decoded audio through a Provider.
// It does not retry; a failure is reported to the caller as a SynthesisError.
type Client struct {
	provider   Provider
	sampleRate int
	channels   int
	logger     *slog.Logger
}

// NewClient wraps p. cfg supplies the PCM format assumed when the payload does not state it.
func NewClient(p Provider, cfg *config.TTSConfig) *Client {
	return &Client{
		provider:   p,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		logger:     slog.With("component", "tts", "provider", p.Name()),
	}
}

// Synthesize speaks text with voice and returns the decoded buffer.
func (c *Client) Synthesize(ctx context.Context, text, voice string) (*audio.Buffer, error) {
	start := time.Now()
	script := CleanScript(text)

	fail := func(err error) (*audio.Buffer, error) {
		Log(c.provider.Name(), script, 0, err)
		c.logger.Warn("Synthesis failed", "voice", voice, "error", err)
		return nil, &SynthesisError{Provider: c.provider.Name(), Voice: voice, Err: err}
	}

	if script == "" {
		return fail(fmt.Errorf("empty script"))
	}

	payload, err := c.provider.Synthesize(ctx, script, voice)
	if err != nil {
		return fail(err)
	}
	if payload.Empty() {
		return fail(ErrNoAudio)
	}

	data := payload.Data
	if payload.Base64 != "" {
		if data, err = audio.Decode(payload.Base64); err != nil {
			return fail(err)
		}
	}

	mimeType := payload.MIMEType
	if mimeType == "" {
		mimeType = fmt.Sprintf("audio/L16;rate=%d;channels=%d", c.sampleRate, c.channels)
	}
	buf, err := audio.DecodeEncoded(mimeType, data, c.sampleRate, c.channels)
	if err != nil {
		return fail(err)
	}

	Log(c.provider.Name(), script, 200, nil)
	c.logger.Debug("Synthesized", "voice", voice, "duration", buf.Duration().Round(time.Millisecond), "took", time.Since(start).Round(time.Millisecond))
	return buf, nil
}
