package walk

import (
	"safestep/pkg/geo"
	"safestep/pkg/model"
	"safestep/pkg/playback"
)

// Status is what the presentation layer shows.
type Status struct {
	State   model.AppState `json:"state"`
	Loading string         `json:"loading_message,omitempty"`
	Error   string         `json:"error,omitempty"`
	Program model.Program  `json:"program"`

	Route *model.RouteContext `json:"route,omitempty"`
	Token string              `json:"token,omitempty"`

	CurrentIndex   int            `json:"current_index"`
	EstimatedTotal int            `json:"estimated_total"`
	Buffered       int            `json:"buffered"`
	FullyBuffered  bool           `json:"fully_buffered"`
	IsGenerating   bool           `json:"is_generating"`
	IsPlaying      bool           `json:"is_playing"`
	IsBuffering    bool           `json:"is_buffering"`
	Playback       playback.State `json:"playback"`
	OffsetSeconds  float64        `json:"offset_seconds"`
	SegmentSeconds float64        `json:"segment_seconds"`
	Finished       bool           `json:"finished"`
	CurrentText    string         `json:"current_text"`
	Progress       float64        `json:"progress"`
	Marker         *Marker        `json:"marker,omitempty"`
	Volume         float64        `json:"volume"`
	HasPortrait    bool           `json:"has_portrait"`
}

// Marker is the estimated position of the walker on the route.
type Marker struct {
	geo.Point
	Heading float64 `json:"heading"`
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		State:   s.state,
		Loading: s.loading,
		Error:   s.lastErr,
		Program: s.program,
		Route:   s.route,
		Volume:  s.volume,
	}
	w := s.active
	s.mu.Unlock()

	st.CurrentText = StandbyText
	if w == nil {
		return st
	}

	c := w.engine.Snapshot()
	st.Token = w.acc.Token()
	st.CurrentIndex = c.Index
	st.EstimatedTotal = w.acc.EstimatedTotal()
	st.Buffered = w.acc.Count()
	st.FullyBuffered = w.acc.Complete()
	st.IsGenerating = w.sched.IsGenerating()
	st.IsPlaying = c.Playing()
	st.IsBuffering = c.State == playback.Buffering
	st.Playback = c.State
	st.OffsetSeconds = c.Offset.Seconds()
	st.SegmentSeconds = c.Duration.Seconds()
	st.Finished = c.Finished
	st.CurrentText = w.currentText(c.Index)
	st.Progress = progress(c, st.EstimatedTotal)
	st.Marker = w.marker(st.Progress)
	img, _ := w.portraitImage()
	st.HasPortrait = img != nil
	return st
}

// CurrentText returns the narration text at the playback position, or the standby text.
func (s *Session) CurrentText() string {
	w := s.current()
	if w == nil {
		return StandbyText
	}
	return w.currentText(w.engine.CurrentIndex())
}

// ProgressFraction returns currentIndex / estimatedTotal in [0,1].
func (s *Session) ProgressFraction() float64 {
	w := s.current()
	if w == nil {
		return 0
	}
	return progress(w.engine.Snapshot(), w.acc.EstimatedTotal())
}

// Marker returns the estimated position on the route, or nil without a walk.
func (s *Session) Marker() *Marker {
	w := s.current()
	if w == nil {
		return nil
	}
	return w.marker(progress(w.engine.Snapshot(), w.acc.EstimatedTotal()))
}

func (w *walk) currentText(index int) string {
	seg, ok := w.acc.At(index)
	if !ok || seg.Text == "" {
		return StandbyText
	}
	return seg.Text
}

func (w *walk) marker(progress float64) *Marker {
	p, heading, ok := geo.Vertex(w.route.Path, progress)
	if !ok {
		return nil
	}
	return &Marker{Point: p, Heading: heading}
}

func progress(c playback.Cursor, total int) float64 {
	if total <= 0 {
		return 0
	}
	if c.Finished {
		return 1
	}
	f := float64(c.Index) / float64(total)
	if f > 1 {
		return 1
	}
	return f
}
