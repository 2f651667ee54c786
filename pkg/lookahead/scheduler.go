// Package lookahead keeps a walk's narration ahead of playback with at most
// one generation in flight.
package lookahead

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"safestep/pkg/accompaniment"
	"safestep/pkg/model"
)

// DefaultLookahead is the number of segments kept realized past the current one.
const DefaultLookahead = 2

// Generator produces one realized segment.
type Generator interface {
	Generate(ctx context.Context, route *model.RouteContext, index, total int, beat string) (*model.Segment, error)
}

// Store is the accompaniment the scheduler fills.
type Store interface {
	Route() *model.RouteContext
	Count() int
	EstimatedTotal() int
	NextBeat(index int) string
	Append(seg *model.Segment) error
}

// Callbacks are invoked from the generation goroutine. Any may be nil.
type Callbacks struct {
	OnRealized func(seg *model.Segment)
	OnFailed   func(index int, err error)
	OnBusy     func(generating bool)
}

// Scheduler decides when the next segment is requested.
type Scheduler struct {
	gen       Generator
	store     Store
	lookahead int
	timeout   time.Duration
	cb        Callbacks
	logger    *slog.Logger

	mu         sync.Mutex
	current    int
	generating bool
	closed     bool
	attempts   int
	wg         sync.WaitGroup
}

// New creates a scheduler for one walk. lookahead <= 0 uses DefaultLookahead;
// timeout <= 0 leaves generation unbounded.
func New(gen Generator, store Store, lookahead int, timeout time.Duration, cb Callbacks) *Scheduler {
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	return &Scheduler{
		gen:       gen,
		store:     store,
		lookahead: lookahead,
		timeout:   timeout,
		cb:        cb,
		logger:    slog.With("component", "lookahead"),
	}
}

// Evaluate records the playback position (0-based; negative keeps the last one)
// and starts generating the next segment when the buffer is short.
// It reports whether a request started.
func (s *Scheduler) Evaluate(currentIndex int) bool {
	s.mu.Lock()
	if currentIndex >= 0 {
		s.current = currentIndex
	}
	index, ok := s.nextLocked()
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.generating = true
	s.attempts++
	s.wg.Add(1)
	s.mu.Unlock()

	s.notifyBusy(true)
	go s.run(index)
	return true
}

// nextLocked returns the segment number to generate, if the trigger holds.
func (s *Scheduler) nextLocked() (int, bool) {
	if s.closed || s.generating {
		return 0, false
	}
	count := s.store.Count()
	if count >= s.store.EstimatedTotal() || count >= s.current+s.lookahead {
		return 0, false
	}
	return count + 1, true
}

func (s *Scheduler) run(index int) {
	succeeded := false
	defer func() {
		s.mu.Lock()
		s.generating = false
		s.mu.Unlock()
		s.notifyBusy(false)

		// Only a grown buffer re-arms the trigger; a failure waits for the next state change.
		if succeeded {
			s.Evaluate(-1)
		}
		s.wg.Done()
	}()

	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	route := s.store.Route()
	total := s.store.EstimatedTotal()
	beat := s.store.NextBeat(index)
	s.logger.Debug("Generating segment", "index", index, "total", total)

	seg, err := s.gen.Generate(ctx, route, index, total, beat)
	if err != nil {
		s.logger.Warn("Segment generation failed", "index", index, "error", err)
		s.fail(index, err)
		return
	}

	if s.Closed() {
		s.logger.Debug("Dropping segment of closed walk", "index", index)
		return
	}
	if err := s.store.Append(seg); err != nil {
		if !errors.Is(err, accompaniment.ErrDiscarded) {
			s.logger.Warn("Segment append failed", "index", index, "error", err)
		}
		s.fail(index, err)
		return
	}

	succeeded = true
	s.logger.Info("Segment realized", "index", index, "buffered", s.store.Count(), "total", total)
	if s.cb.OnRealized != nil {
		s.cb.OnRealized(seg)
	}
}

func (s *Scheduler) fail(index int, err error) {
	if s.cb.OnFailed != nil && !s.Closed() {
		s.cb.OnFailed(index, err)
	}
}

func (s *Scheduler) notifyBusy(v bool) {
	if s.cb.OnBusy != nil {
		s.cb.OnBusy(v)
	}
}

// IsGenerating reports whether a generation is in flight.
func (s *Scheduler) IsGenerating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generating
}

// Attempts returns the number of generation requests issued.
func (s *Scheduler) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Current returns the last playback position passed to Evaluate.
func (s *Scheduler) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Close stops scheduling. An in-flight request completes and its result is dropped.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Closed reports whether Close was called.
func (s *Scheduler) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Wait blocks until no generation is in flight.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
