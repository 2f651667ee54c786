// Package guardian writes and voices the narration of a walk.
package guardian

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"safestep/pkg/audio"
	"safestep/pkg/llm"
	"safestep/pkg/llm/prompts"
	"safestep/pkg/model"
	"safestep/pkg/tracker"
)

const (
	// FallbackText is spoken when narration text cannot be generated.
	FallbackText = "Protocol active. Stay focused."
	// FallbackBeat fills every plan position when the plan cannot be generated.
	FallbackBeat = "Maintain optimal pace and 360-degree awareness."

	DefaultSegmentSeconds = 45
	DefaultWordsPerMinute = 140

	statsProvider = "guardian"
)

// GenerationError reports a segment that could not be voiced.
type GenerationError struct {
	Index int
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("segment %d generation failed: %v", e.Index, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Synthesizer turns text into decoded audio. tts.Client satisfies it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (*audio.Buffer, error)
}

// Generator produces segments, plans and portraits for a walk.
type Generator struct {
	llm            llm.Provider
	prompts        *prompts.Manager
	tts            Synthesizer
	tracker        *tracker.Tracker
	segmentSeconds int
	wordsPerMinute int
	now            func() time.Time
	logger         *slog.Logger
}

// NewGenerator creates a generator. Zero sizing values use the defaults.
func NewGenerator(p llm.Provider, pm *prompts.Manager, s Synthesizer, t *tracker.Tracker, segmentSeconds, wordsPerMinute int) *Generator {
	if segmentSeconds <= 0 {
		segmentSeconds = DefaultSegmentSeconds
	}
	if wordsPerMinute <= 0 {
		wordsPerMinute = DefaultWordsPerMinute
	}
	if t == nil {
		t = tracker.New()
	}
	return &Generator{
		llm:            p,
		prompts:        pm,
		tts:            s,
		tracker:        t,
		segmentSeconds: segmentSeconds,
		wordsPerMinute: wordsPerMinute,
		now:            time.Now,
		logger:         slog.With("component", "guardian"),
	}
}

// TotalSegments estimates how many segments cover a walk.
func TotalSegments(durationSeconds, segmentSeconds int) int {
	if segmentSeconds <= 0 {
		segmentSeconds = DefaultSegmentSeconds
	}
	n := int(math.Ceil(float64(durationSeconds) / float64(segmentSeconds)))
	if n < 1 {
		return 1
	}
	return n
}

// WordsPerSegment is the narration length that fills one segment.
func WordsPerSegment(segmentSeconds, wordsPerMinute int) int {
	return int(math.Round(float64(segmentSeconds) / 60 * float64(wordsPerMinute)))
}

// TotalSegments estimates the segment count of route with this generator's sizing.
func (g *Generator) TotalSegments(route *model.RouteContext) int {
	return TotalSegments(route.DurationSeconds, g.segmentSeconds)
}

type segmentData struct {
	Index int
	Total int
	Beat  string
	Style model.GuardianStyle
	Words int
}

// Generate writes and voices segment index (1-based) of total.
// Text failures fall back to FallbackText; speech failures return a GenerationError.
func (g *Generator) Generate(ctx context.Context, route *model.RouteContext, index, total int, beat string) (*model.Segment, error) {
	start := g.now()

	text := g.text(ctx, route, index, total, beat)

	buf, err := g.tts.Synthesize(ctx, text, route.Voice)
	if err != nil {
		g.tracker.TrackAPIFailure(statsProvider)
		return nil, &GenerationError{Index: index, Err: err}
	}

	latency := g.now().Sub(start)
	g.tracker.TrackAPISuccess(statsProvider)
	g.tracker.TrackLatency(statsProvider, latency)
	g.logger.Debug("Segment generated", "index", index, "total", total, "words", len(strings.Fields(text)), "audio", buf.Duration().Round(time.Millisecond), "latency", latency.Round(time.Millisecond))

	return &model.Segment{
		Index:             index,
		Text:              text,
		Audio:             buf,
		GenerationLatency: latency,
		CreatedAt:         g.now(),
	}, nil
}

func (g *Generator) text(ctx context.Context, route *model.RouteContext, index, total int, beat string) string {
	prompt, err := g.prompts.Render(prompts.Segment, segmentData{
		Index: index,
		Total: total,
		Beat:  beat,
		Style: route.Style,
		Words: WordsPerSegment(g.segmentSeconds, g.wordsPerMinute),
	})
	if err != nil {
		g.logger.Error("Segment prompt failed", "index", index, "error", err)
		return FallbackText
	}

	text, err := g.llm.GenerateText(ctx, llm.IntentSegment, prompt)
	text = strings.TrimSpace(text)
	if err != nil || text == "" {
		g.logger.Warn("Narration text unavailable, using fallback", "index", index, "error", err)
		return FallbackText
	}
	return text
}
