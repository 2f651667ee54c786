package walk

import (
	"context"
	"errors"
	"fmt"

	"safestep/pkg/accompaniment"
	"safestep/pkg/model"
	"safestep/pkg/routing"
	"safestep/pkg/store"
)

// Start plans the route and starts the guardian in one call.
func (s *Session) Start(ctx context.Context, origin, destination string, style model.GuardianStyle) error {
	if _, err := s.PlanRoute(ctx, origin, destination, style); err != nil {
		return err
	}
	return s.Begin(ctx)
}

// PlanRoute resolves the route for a new walk, ending any walk in progress.
// On failure the session returns to planning with the error code as message.
func (s *Session) PlanRoute(ctx context.Context, origin, destination string, style model.GuardianStyle) (*model.RouteContext, error) {
	program := model.ProgramFor(style)

	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	old := s.active
	s.active = nil
	s.route = nil
	s.program = program
	s.lastErr = ""
	s.loading = ""
	s.state = model.StateCalculatingRoute
	s.mu.Unlock()

	if old != nil {
		s.finish(old, model.OutcomeAbandoned)
	}
	s.emitState(model.StateCalculatingRoute)

	route, err := s.planner.Plan(ctx, origin, destination, program)

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return nil, ErrSuperseded
	}
	if err != nil {
		s.state = model.StatePlanning
		s.lastErr = routeErrorMessage(err)
		s.mu.Unlock()
		s.logger.Warn("Route planning failed", "origin", origin, "destination", destination, "error", err)
		s.emitState(model.StatePlanning)
		return nil, err
	}
	s.route = route
	s.state = model.StateRouteConfirmed
	s.mu.Unlock()

	s.emitState(model.StateRouteConfirmed)
	if s.store != nil {
		if err := s.store.SetState(ctx, store.KeyLastStyle, string(program.Style)); err != nil {
			s.logger.Warn("Failed to persist guardian", "error", err)
		}
	}
	return route, nil
}

// Begin initializes the guardian for the confirmed route: plan, first segment,
// playback and lookahead. Any failure returns the session to planning with
// ErrUplinkFailed.
func (s *Session) Begin(ctx context.Context) error {
	s.mu.Lock()
	if s.route == nil || s.state != model.StateRouteConfirmed {
		s.mu.Unlock()
		return ErrNoRoute
	}
	route := s.route
	epoch := s.epoch
	s.state = model.StateInitializingGuardian
	s.loading = LoadingCalibrating
	s.lastErr = ""
	s.mu.Unlock()
	s.emitState(model.StateInitializingGuardian)

	total := s.gen.TotalSegments(route)
	planCtx, cancel := s.generationContext(ctx)
	plan := s.gen.Plan(planCtx, route, total)
	cancel()

	if !s.update(epoch, func() { s.loading = LoadingSyncing }) {
		return ErrSuperseded
	}

	beat := accompaniment.FallbackBeat
	if len(plan) > 0 && plan[0] != "" {
		beat = plan[0]
	}
	genCtx, cancel := s.generationContext(ctx)
	first, err := s.gen.Generate(genCtx, route, 1, total, beat)
	cancel()
	if err != nil {
		if !s.update(epoch, func() {
			s.state = model.StatePlanning
			s.loading = ""
			s.lastErr = UplinkFailedMessage
			s.route = nil
		}) {
			return ErrSuperseded
		}
		s.logger.Error("Guardian start failed", "error", err)
		s.emit(&model.WalkEvent{Type: model.EventSegmentFailed, Title: "Guardian start failed", Summary: err.Error(), Data: map[string]any{"index": 1}})
		s.emitState(model.StatePlanning)
		return fmt.Errorf("%w: %v", ErrUplinkFailed, err)
	}

	w := newWalk(s, route, total, plan, first)
	if !s.update(epoch, func() {
		s.active = w
		s.state = model.StateReadyToWalk
		s.loading = ""
	}) {
		w.close()
		return ErrSuperseded
	}

	s.emitState(model.StateReadyToWalk)
	s.emit(&model.WalkEvent{
		Type:    model.EventWalkStarted,
		Title:   "Walk started",
		Summary: route.StartAddress() + " -> " + route.EndAddress(),
		Data:    map[string]any{"token": w.acc.Token(), "segments": total, "style": string(route.Style)},
	})
	s.record(w)
	if s.cfg.PortraitEnabled {
		go w.renderPortrait(s.gen, s.cfg.GenerationTimeout.Std())
	}
	w.sched.Evaluate(0)
	return nil
}

// Abandon ends the walk in progress and returns to planning.
func (s *Session) Abandon() {
	s.mu.Lock()
	s.epoch++
	w := s.active
	s.active = nil
	s.route = nil
	s.loading = ""
	changed := s.state > model.StatePlanning
	if changed {
		s.state = model.StatePlanning
	}
	s.mu.Unlock()

	if w != nil {
		s.finish(w, model.OutcomeAbandoned)
	}
	if changed {
		s.emitState(model.StatePlanning)
	}
}

// generationContext bounds one guardian call by walk.generation_timeout, if set.
func (s *Session) generationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := s.cfg.GenerationTimeout.Std(); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// update applies f if no other start or abandon happened since epoch.
func (s *Session) update(epoch uint64, f func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return false
	}
	f()
	return true
}

func routeErrorMessage(err error) string {
	var re *routing.RouteResolutionError
	if errors.As(err, &re) {
		return re.Code
	}
	return routing.CodeUplinkFailure
}
