// Package playback plays a walk's segments back to back on an audio device.
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"safestep/pkg/audio"
	"safestep/pkg/logging"
	"safestep/pkg/model"
)

// DefaultEndTolerance separates a natural end from a manual stop.
const DefaultEndTolerance = 500 * time.Millisecond

// State is the engine's output state.
type State int

const (
	Idle State = iota
	Playing
	Paused
	Buffering // waiting for a segment that is not realized yet
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Buffering:
		return "buffering"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SegmentSource provides segments by 0-based position.
type SegmentSource interface {
	At(pos int) (*model.Segment, bool)
	Total() int
}

// Callbacks run outside the engine lock. Any may be nil.
type Callbacks struct {
	OnIndexChange func(index int)
	OnStateChange func(state State)
	OnFault       func(err error)
}

// Cursor is a snapshot of the playback position.
type Cursor struct {
	Index    int           `json:"index"`
	Offset   time.Duration `json:"offset"`
	Duration time.Duration `json:"duration"`
	State    State         `json:"state"`
	Finished bool          `json:"finished"`
}

// Playing reports whether output is active.
func (c Cursor) Playing() bool {
	return c.State == Playing
}

// Engine owns the audio device for one walk. At most one node is connected.
type Engine struct {
	device    audio.Device
	source    SegmentSource
	tolerance time.Duration
	cb        Callbacks
	logger    *slog.Logger

	mu       sync.Mutex
	opened   bool
	closed   bool
	state    State
	current  int           // position reported to observers
	target   int           // position to play on resume, or awaited while buffering
	offset   time.Duration // resume offset into target
	startRef time.Duration // device clock at offset 0 of the playing segment
	node     audio.Node
	playID   uint64
	finished bool
}

// New creates an idle engine at position 0. tolerance <= 0 uses DefaultEndTolerance.
func New(device audio.Device, source SegmentSource, tolerance time.Duration, cb Callbacks) *Engine {
	if tolerance <= 0 {
		tolerance = DefaultEndTolerance
	}
	return &Engine{
		device:    device,
		source:    source,
		tolerance: tolerance,
		cb:        cb,
		logger:    slog.With("component", "playback"),
	}
}

// Play starts the segment at pos from offset. An unrealized segment puts the
// engine in Buffering until SegmentAvailable reports it.
func (e *Engine) Play(pos int, offset time.Duration) error {
	return e.mutate(func() error {
		return e.playLocked(pos, offset)
	})
}

// Toggle pauses playback, or resumes at the remembered position and offset.
func (e *Engine) Toggle() error {
	return e.mutate(func() error {
		switch e.state {
		case Playing:
			e.offset = e.positionLocked()
			e.stopNodeLocked()
			e.state = Paused
			e.logger.Debug("Paused", "index", e.current, "offset", e.offset.Round(time.Millisecond))
			return nil
		case Buffering:
			e.state = Paused
			return nil
		default:
			return e.playLocked(e.target, e.offset)
		}
	})
}

// Seek moves within the current segment, clamped to its duration.
func (e *Engine) Seek(offset time.Duration) error {
	return e.mutate(func() error {
		if e.state == Buffering {
			return nil
		}
		if offset < 0 {
			offset = 0
		}
		if seg, ok := e.source.At(e.target); ok && seg.Realized() && offset > seg.Duration() {
			offset = seg.Duration()
		}
		if e.state == Playing {
			return e.playLocked(e.target, offset)
		}
		e.offset = offset
		return nil
	})
}

// Stop halts output and keeps the cursor. The completion handler is detached
// first so the stop is never taken for a natural end.
func (e *Engine) Stop() {
	_ = e.mutate(func() error {
		if e.state == Playing {
			e.offset = e.positionLocked()
		}
		e.stopNodeLocked()
		e.state = Idle
		return nil
	})
}

// SegmentAvailable resumes a buffering engine waiting on pos.
func (e *Engine) SegmentAvailable(pos int) {
	_ = e.mutate(func() error {
		if e.state != Buffering || e.target != pos {
			return nil
		}
		e.logger.Debug("Awaited segment realized", "index", pos)
		return e.playLocked(pos, e.offset)
	})
}

// Close stops output and releases the device. The engine cannot be reused.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.stopNodeLocked()
	e.state = Idle
	e.opened = false
	return e.device.Close()
}

// SetVolume sets the output volume (0.0 to 1.0).
func (e *Engine) SetVolume(vol float64) {
	e.device.SetVolume(vol)
}

// Volume returns the output volume.
func (e *Engine) Volume() float64 {
	return e.device.Volume()
}

// Snapshot returns the current cursor.
func (e *Engine) Snapshot() Cursor {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := Cursor{Index: e.current, State: e.state, Finished: e.finished, Offset: e.offset}
	if e.state == Playing {
		c.Offset = e.positionLocked()
	} else if e.target != e.current {
		c.Offset = 0
	}
	if seg, ok := e.source.At(e.current); ok {
		c.Duration = seg.Duration()
	}
	return c
}

// CurrentIndex returns the 0-based position reported to observers.
func (e *Engine) CurrentIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// State returns the output state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) playLocked(pos int, offset time.Duration) error {
	if e.closed {
		return &audio.DeviceError{Op: "start", Err: audio.ErrDeviceClosed}
	}
	if offset < 0 {
		offset = 0
	}
	e.finished = false

	seg, ok := e.source.At(pos)
	if !ok || !seg.Realized() {
		e.stopNodeLocked()
		e.state = Buffering
		e.target = pos
		e.offset = offset
		e.logger.Debug("Buffering", "index", pos)
		return nil
	}

	if !e.opened {
		if err := e.device.Open(); err != nil {
			e.failLocked(pos, offset)
			return asDeviceError("open", err)
		}
		e.opened = true
	}

	e.stopNodeLocked()
	if d := seg.Duration(); offset > d {
		offset = d
	}
	e.playID++
	id := e.playID
	node, err := e.device.Start(seg.Audio, offset, func() { e.handleEnded(id) })
	if err != nil {
		e.failLocked(pos, offset)
		return asDeviceError("start", err)
	}

	e.node = node
	e.current = pos
	e.target = pos
	e.offset = 0
	e.startRef = e.device.Now() - offset
	e.state = Playing
	logging.Trace(e.logger, "Started segment", "index", pos, "offset", offset, "duration", seg.Duration())
	return nil
}

func (e *Engine) failLocked(pos int, offset time.Duration) {
	e.node = nil
	e.state = Paused
	e.target = pos
	e.offset = offset
}

// handleEnded runs when node id completes. Stale or detached nodes are ignored.
func (e *Engine) handleEnded(id uint64) {
	err := e.mutate(func() error {
		if id != e.playID || e.state != Playing {
			return nil
		}
		e.node = nil
		elapsed := e.device.Now() - e.startRef

		var dur time.Duration
		if seg, ok := e.source.At(e.current); ok {
			dur = seg.Duration()
		}
		if elapsed < dur-e.tolerance {
			e.state = Paused
			e.offset = elapsed
			e.logger.Debug("Output ended early, treating as stop", "index", e.current, "elapsed", elapsed.Round(time.Millisecond), "duration", dur.Round(time.Millisecond))
			return nil
		}

		next := e.current + 1
		if next >= e.source.Total() {
			e.state = Idle
			e.target = e.current
			e.offset = 0
			e.finished = true
			e.logger.Info("Narration complete", "segments", e.source.Total())
			return nil
		}
		return e.playLocked(next, 0)
	})
	if err != nil {
		e.logger.Error("Auto-advance failed", "error", err)
	}
}

func (e *Engine) stopNodeLocked() {
	if e.node == nil {
		return
	}
	e.node.Detach()
	e.node.Stop()
	e.node = nil
}

func (e *Engine) positionLocked() time.Duration {
	pos := e.device.Now() - e.startRef
	if pos < 0 {
		return 0
	}
	if seg, ok := e.source.At(e.current); ok && pos > seg.Duration() {
		return seg.Duration()
	}
	return pos
}

// mutate runs f under the lock and reports changes to observers after releasing it.
func (e *Engine) mutate(f func() error) error {
	e.mu.Lock()
	prevIndex, prevState := e.current, e.state
	err := f()
	index, state := e.current, e.state
	e.mu.Unlock()

	if index != prevIndex && e.cb.OnIndexChange != nil {
		e.cb.OnIndexChange(index)
	}
	if state != prevState && e.cb.OnStateChange != nil {
		e.cb.OnStateChange(state)
	}
	if err != nil {
		e.logger.Warn("Playback device fault", "error", err)
		if e.cb.OnFault != nil {
			e.cb.OnFault(err)
		}
	}
	return err
}

func asDeviceError(op string, err error) error {
	var de *audio.DeviceError
	if errors.As(err, &de) {
		return err
	}
	return &audio.DeviceError{Op: op, Err: err}
}
