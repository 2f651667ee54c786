package walk

import (
	"context"
	"sync"
	"time"

	"safestep/pkg/accompaniment"
	"safestep/pkg/llm"
	"safestep/pkg/llm/imageutil"
	"safestep/pkg/lookahead"
	"safestep/pkg/model"
	"safestep/pkg/playback"
)

// ThumbnailSize is the edge of the portrait thumbnail in pixels.
const ThumbnailSize = 256

// walk is the state of one started walk. It is replaced, never reused.
type walk struct {
	s         *Session
	route     *model.RouteContext
	acc       *accompaniment.Store
	sched     *lookahead.Scheduler
	engine    *playback.Engine
	startedAt time.Time

	mu       sync.Mutex
	portrait *llm.Image
	thumb    []byte
	ended    bool
}

func newWalk(s *Session, route *model.RouteContext, total int, plan model.NarrationPlan, first *model.Segment) *walk {
	w := &walk{s: s, route: route, startedAt: time.Now()}
	w.acc = accompaniment.New(route, total, plan, first)
	w.engine = playback.New(s.newDevice(), w.acc, s.cfg.EndTolerance.Std(), playback.Callbacks{
		OnIndexChange: w.onIndexChange,
		OnStateChange: w.onPlaybackState,
		OnFault:       w.onFault,
	})
	w.engine.SetVolume(s.Volume())
	w.sched = lookahead.New(s.gen, w.acc, s.cfg.Lookahead, s.cfg.GenerationTimeout.Std(), lookahead.Callbacks{
		OnRealized: w.onRealized,
		OnFailed:   w.onFailed,
	})
	return w
}

func (w *walk) live() bool {
	return w.s.current() == w
}

func (w *walk) onIndexChange(index int) {
	if !w.live() {
		return
	}
	w.sched.Evaluate(index)

	data := map[string]any{"index": index}
	if seg, ok := w.acc.At(index); ok {
		data["segment"] = seg.Index
	}
	w.s.emit(&model.WalkEvent{Type: model.EventSegmentChange, Title: "Segment change", Data: data})
}

func (w *walk) onRealized(seg *model.Segment) {
	w.engine.SegmentAvailable(seg.Index - 1)
	if !w.live() {
		return
	}
	w.s.emit(&model.WalkEvent{
		Type:  model.EventSegmentRealized,
		Title: "Segment realized",
		Data: map[string]any{
			"segment":  seg.Index,
			"buffered": w.acc.Count(),
			"total":    w.acc.EstimatedTotal(),
			"latency":  seg.GenerationLatency.Round(time.Millisecond).String(),
		},
	})
}

func (w *walk) onFailed(index int, err error) {
	if !w.live() {
		return
	}
	w.s.emit(&model.WalkEvent{
		Type:    model.EventSegmentFailed,
		Title:   "Segment failed",
		Summary: err.Error(),
		Data:    map[string]any{"segment": index},
	})
}

func (w *walk) onPlaybackState(st playback.State) {
	if !w.live() {
		return
	}
	switch st {
	case playback.Buffering:
		// Playback is waiting on a segment whose generation may have failed.
		w.sched.Evaluate(-1)
	case playback.Idle:
		if w.engine.Snapshot().Finished {
			w.s.endRecord(w, model.OutcomeCompleted)
		}
	}
}

func (w *walk) onFault(err error) {
	if !w.live() {
		return
	}
	w.s.emit(&model.WalkEvent{Type: model.EventPlaybackFault, Title: "Playback fault", Summary: err.Error()})
}

// close releases the walk's resources. A generation still in flight is dropped.
func (w *walk) close() {
	w.sched.Close()
	w.acc.Discard()
	if err := w.engine.Close(); err != nil {
		w.s.logger.Warn("Failed to close audio device", "error", err)
	}
}

func (w *walk) renderPortrait(gen Generator, timeout time.Duration) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	img, err := gen.Portrait(ctx, w.route)
	if err != nil {
		w.s.logger.Warn("Guardian portrait unavailable", "error", err)
		return
	}
	thumb, err := imageutil.Thumbnail(img.Data, ThumbnailSize)
	if err != nil {
		w.s.logger.Warn("Portrait thumbnail failed", "mime", img.MIMEType, "error", err)
	}

	w.mu.Lock()
	w.portrait = img
	w.thumb = thumb
	w.mu.Unlock()

	if w.live() {
		w.s.emit(&model.WalkEvent{Type: model.EventPortraitRendered, Title: "Guardian portrait rendered", Data: map[string]any{"bytes": len(img.Data)}})
	}
}

func (w *walk) portraitImage() (*llm.Image, []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.portrait, w.thumb
}

// finish closes w and records its outcome.
func (s *Session) finish(w *walk, outcome model.WalkOutcome) {
	w.close()
	s.endRecord(w, outcome)
}

func (s *Session) record(w *walk) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r := w.route
	err := s.store.SaveWalk(ctx, &model.WalkRecord{
		Token:            w.acc.Token(),
		Origin:           r.StartAddress(),
		Destination:      r.EndAddress(),
		Style:            r.Style,
		Voice:            r.Voice,
		DistanceMeters:   r.DistanceMeters,
		DurationSeconds:  r.DurationSeconds,
		TotalSegments:    w.acc.EstimatedTotal(),
		Plan:             w.acc.Plan(),
		StartedAt:        w.startedAt,
		SegmentsRealized: w.acc.Count(),
		Outcome:          model.OutcomeActive,
	})
	if err != nil {
		s.logger.Warn("Failed to record walk", "error", err)
	}
}

// endRecord writes the outcome of w once and announces the end.
func (s *Session) endRecord(w *walk, outcome model.WalkOutcome) {
	w.mu.Lock()
	if w.ended {
		w.mu.Unlock()
		return
	}
	w.ended = true
	w.mu.Unlock()

	realized := w.acc.Count()
	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.FinishWalk(ctx, w.acc.Token(), time.Now(), realized, outcome); err != nil {
			s.logger.Warn("Failed to finish walk record", "error", err)
		}
	}
	s.emit(&model.WalkEvent{
		Type:  model.EventWalkEnded,
		Title: "Walk ended",
		Data: map[string]any{
			"token":    w.acc.Token(),
			"outcome":  string(outcome),
			"realized": realized,
			"elapsed":  time.Since(w.startedAt).Round(time.Second).String(),
		},
	})
}
