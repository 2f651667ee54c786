package walk

import (
	"time"

	"safestep/pkg/logging"
	"safestep/pkg/model"
)

// Subscribe registers fn for walk events and returns its cancel function.
// fn runs on the emitting goroutine and must not block.
func (s *Session) Subscribe(fn func(*model.WalkEvent)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Session) emit(ev *model.WalkEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.Type != model.EventSegmentChange && ev.Type != model.EventStateChange {
		logging.LogEvent(ev)
	}

	s.subMu.Lock()
	fns := make([]func(*model.WalkEvent), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (s *Session) emitState(st model.AppState) {
	s.emit(&model.WalkEvent{
		Type:  model.EventStateChange,
		Title: st.String(),
		Data:  map[string]any{"state": st.String()},
	})
}
