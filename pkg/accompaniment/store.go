// Package accompaniment holds the realized narration of one walk: the plan,
// the estimated segment count and the segments generated so far.
package accompaniment

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"safestep/pkg/model"
)

// FallbackBeat is used for indices the plan does not cover.
const FallbackBeat = "Maintain active monitoring."

var (
	// ErrDiscarded is returned when appending to the store of an ended walk.
	ErrDiscarded = errors.New("accompaniment discarded")
	// ErrFull is returned when the store already holds the estimated total.
	ErrFull = errors.New("accompaniment complete")
)

// Store is the single source of truth for what has been generated for a walk.
// Each instance carries a token so late results can be matched to their walk.
type Store struct {
	mu        sync.RWMutex
	token     string
	route     *model.RouteContext
	total     int
	plan      model.NarrationPlan
	segments  []*model.Segment
	discarded bool
}

// New creates the store of a walk once the plan and the first segment exist.
// total is clamped to at least 1.
func New(route *model.RouteContext, total int, plan model.NarrationPlan, first *model.Segment) *Store {
	if total < 1 {
		total = 1
	}
	s := &Store{
		token: uuid.NewString(),
		route: route,
		total: total,
		plan:  append(model.NarrationPlan(nil), plan...),
	}
	if first != nil {
		s.segments = []*model.Segment{first}
	}
	return s
}

// Token identifies the walk this store belongs to.
func (s *Store) Token() string {
	return s.token
}

// Route returns the immutable route of the walk.
func (s *Store) Route() *model.RouteContext {
	return s.route
}

// Append inserts seg keeping segments sorted by index.
// Duplicate indices are not merged; callers generate each index once.
func (s *Store) Append(seg *model.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.discarded {
		return ErrDiscarded
	}
	if len(s.segments) >= s.total {
		return ErrFull
	}
	s.segments = append(s.segments, seg)
	sort.SliceStable(s.segments, func(i, j int) bool {
		return s.segments[i].Index < s.segments[j].Index
	})
	return nil
}

// NextBeat returns the planned beat for a 1-based segment index.
func (s *Store) NextBeat(index int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index >= 1 && index <= len(s.plan) && s.plan[index-1] != "" {
		return s.plan[index-1]
	}
	return FallbackBeat
}

// At returns the segment at 0-based position pos.
func (s *Store) At(pos int) (*model.Segment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if pos < 0 || pos >= len(s.segments) {
		return nil, false
	}
	return s.segments[pos], true
}

// Count returns the number of realized segments.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.segments)
}

// EstimatedTotal returns the planned segment count.
func (s *Store) EstimatedTotal() int {
	return s.total
}

// Total is EstimatedTotal; it lets the store serve as a playback source.
func (s *Store) Total() int {
	return s.total
}

// Complete reports whether every planned segment is realized.
func (s *Store) Complete() bool {
	return s.Count() >= s.total
}

// Plan returns a copy of the narration plan.
func (s *Store) Plan() model.NarrationPlan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append(model.NarrationPlan(nil), s.plan...)
}

// Discard marks the store as belonging to an ended walk. Later appends fail.
func (s *Store) Discard() {
	s.mu.Lock()
	s.discarded = true
	s.mu.Unlock()
}
