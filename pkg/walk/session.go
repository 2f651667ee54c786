// Package walk runs the lifecycle of a guided walk: route, guardian start-up,
// lookahead generation and playback.
package walk

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"safestep/pkg/audio"
	"safestep/pkg/config"
	"safestep/pkg/llm"
	"safestep/pkg/lookahead"
	"safestep/pkg/model"
	"safestep/pkg/store"
)

// User-facing texts.
const (
	UplinkFailedMessage = "Tactical uplink failed. Please check network connection."
	StandbyText         = "Guardian protocol standby. Stand by for environment ping."

	LoadingCalibrating = "Calibrating Spatial Awareness..."
	LoadingSyncing     = "Syncing AI Guardian..."
)

var (
	// ErrUplinkFailed is the single user-visible walk start failure.
	ErrUplinkFailed = errors.New(UplinkFailedMessage)
	// ErrNoActiveWalk is returned by playback operations outside a walk.
	ErrNoActiveWalk = errors.New("no active walk")
	// ErrNoRoute is returned when starting the guardian before a route is confirmed.
	ErrNoRoute = errors.New("no confirmed route")
	// ErrSuperseded is returned when a walk start is overtaken by another start or an abandon.
	ErrSuperseded = errors.New("walk start superseded")
)

// Planner resolves a route for a pair of addresses.
type Planner interface {
	Plan(ctx context.Context, origin, destination string, program model.Program) (*model.RouteContext, error)
}

// Generator writes the guardian's material. guardian.Generator satisfies it.
type Generator interface {
	lookahead.Generator
	TotalSegments(route *model.RouteContext) int
	Plan(ctx context.Context, route *model.RouteContext, total int) model.NarrationPlan
	Portrait(ctx context.Context, route *model.RouteContext) (*llm.Image, error)
}

// DeviceFactory opens a fresh output for each walk.
type DeviceFactory func() audio.Device

// Session is the single walk of the application.
type Session struct {
	cfg       config.WalkConfig
	planner   Planner
	gen       Generator
	newDevice DeviceFactory
	store     store.Store // optional
	logger    *slog.Logger

	mu      sync.Mutex
	state   model.AppState
	loading string
	lastErr string
	route   *model.RouteContext
	program model.Program
	epoch   uint64
	active  *walk
	volume  float64

	subMu  sync.Mutex
	subs   map[int]func(*model.WalkEvent)
	nextID int
}

// NewSession creates a session in the onboarding state. st may be nil.
func NewSession(cfg config.WalkConfig, planner Planner, gen Generator, newDevice DeviceFactory, st store.Store) *Session {
	return &Session{
		cfg:       cfg,
		planner:   planner,
		gen:       gen,
		newDevice: newDevice,
		store:     st,
		logger:    slog.With("component", "walk"),
		state:     model.StateOnboarding,
		volume:    1,
		program:   model.Programs[0],
		subs:      make(map[int]func(*model.WalkEvent)),
	}
}

// Restore loads persisted preferences (volume, last guardian).
func (s *Session) Restore(ctx context.Context) {
	if s.store == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.store.GetState(ctx, store.KeyVolume); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			s.volume = f
		}
	}
	if v, ok := s.store.GetState(ctx, store.KeyLastStyle); ok {
		s.program = model.ProgramFor(model.GuardianStyle(v))
	}
}

// CompleteOnboarding moves from onboarding to planning.
func (s *Session) CompleteOnboarding() {
	s.mu.Lock()
	changed := s.state == model.StateOnboarding
	if changed {
		s.state = model.StatePlanning
	}
	s.mu.Unlock()
	if changed {
		s.emitState(model.StatePlanning)
	}
}

// State returns the application state.
func (s *Session) State() model.AppState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Program returns the selected guardian.
func (s *Session) Program() model.Program {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.program
}

// Route returns the confirmed route, if any.
func (s *Session) Route() *model.RouteContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.route
}

// Toggle pauses or resumes narration. The first toggle of a walk makes it active.
func (s *Session) Toggle() error {
	s.mu.Lock()
	w := s.active
	activated := w != nil && s.state == model.StateReadyToWalk
	if activated {
		s.state = model.StateActive
	}
	s.mu.Unlock()

	if w == nil {
		return ErrNoActiveWalk
	}
	if activated {
		s.emitState(model.StateActive)
	}
	err := w.engine.Toggle()
	w.sched.Evaluate(-1)
	return err
}

// Seek moves within the current segment.
func (s *Session) Seek(offset time.Duration) error {
	w := s.current()
	if w == nil {
		return ErrNoActiveWalk
	}
	return w.engine.Seek(offset)
}

// SetVolume sets and persists the output volume (0.0 to 1.0).
func (s *Session) SetVolume(ctx context.Context, vol float64) {
	if vol < 0 {
		vol = 0
	}
	if vol > 1 {
		vol = 1
	}
	s.mu.Lock()
	s.volume = vol
	w := s.active
	s.mu.Unlock()

	if w != nil {
		w.engine.SetVolume(vol)
	}
	if s.store != nil {
		if err := s.store.SetState(ctx, store.KeyVolume, strconv.FormatFloat(vol, 'f', 2, 64)); err != nil {
			s.logger.Warn("Failed to persist volume", "error", err)
		}
	}
}

// Volume returns the output volume.
func (s *Session) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// IsGenerating reports whether a segment is being generated.
func (s *Session) IsGenerating() bool {
	w := s.current()
	return w != nil && w.sched.IsGenerating()
}

// Portrait returns the guardian portrait of the active walk, if rendered.
func (s *Session) Portrait() (img *llm.Image, thumbnail []byte) {
	w := s.current()
	if w == nil {
		return nil, nil
	}
	return w.portraitImage()
}

// Close ends any walk. The session can still start new walks.
func (s *Session) Close() {
	s.Abandon()
}

func (s *Session) current() *walk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
