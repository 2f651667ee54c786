package walk

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safestep/pkg/audio"
	"safestep/pkg/config"
	"safestep/pkg/db"
	"safestep/pkg/guardian"
	"safestep/pkg/llm"
	"safestep/pkg/model"
	"safestep/pkg/playback"
	"safestep/pkg/routing"
	"safestep/pkg/store"
)

type fakePlanner struct {
	err error
}

func (p *fakePlanner) Plan(ctx context.Context, origin, destination string, program model.Program) (*model.RouteContext, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &model.RouteContext{
		Origin:          model.Place{Query: origin},
		Destination:     model.Place{Query: destination},
		DurationSeconds: 135,
		Voice:           program.Voice,
		Style:           program.Style,
		Path:            orb.LineString{{13.41, 52.52}, {13.40, 52.52}, {13.39, 52.52}, {13.38, 52.51}},
	}, nil
}

type fakeGen struct {
	mu        sync.Mutex
	failFirst bool
	failures  map[int]int   // remaining failures per segment number
	gate      chan struct{} // blocks the first segment when set
	hang      bool          // the first segment waits for its context
	planTimed bool          // Plan saw a deadline
	portrait  *llm.Image
	indices   []int
}

func (g *fakeGen) Generate(ctx context.Context, route *model.RouteContext, index, total int, beat string) (*model.Segment, error) {
	g.mu.Lock()
	g.indices = append(g.indices, index)
	fail := g.failFirst && index == 1
	if g.failures[index] > 0 {
		g.failures[index]--
		fail = true
	}
	gate := g.gate
	g.mu.Unlock()

	if index == 1 && gate != nil {
		<-gate
	}
	if index == 1 && g.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fail {
		return nil, &guardian.GenerationError{Index: index, Err: errors.New("synthesis failed")}
	}
	buf, err := audio.DecodeAudioData(make([]byte, 2000), 1000, 1) // 1 s
	if err != nil {
		return nil, err
	}
	return &model.Segment{Index: index, Text: "Segment " + beat, Audio: buf}, nil
}

func (g *fakeGen) TotalSegments(route *model.RouteContext) int {
	return guardian.TotalSegments(route.DurationSeconds, 45)
}

func (g *fakeGen) Plan(ctx context.Context, route *model.RouteContext, total int) model.NarrationPlan {
	_, timed := ctx.Deadline()
	g.mu.Lock()
	g.planTimed = timed
	g.mu.Unlock()
	plan := make(model.NarrationPlan, total)
	for i := range plan {
		plan[i] = string(rune('A' + i))
	}
	return plan
}

func (g *fakeGen) Portrait(ctx context.Context, route *model.RouteContext) (*llm.Image, error) {
	if g.portrait == nil {
		return nil, errors.New("no image")
	}
	return g.portrait, nil
}

// manualDevice ends nodes only when told to.
type manualDevice struct {
	mu     sync.Mutex
	now    time.Duration
	nodes  []*manualNode
	closed bool
}

type manualNode struct {
	mu      sync.Mutex
	onEnded func()
}

func (n *manualNode) Detach() { n.mu.Lock(); n.onEnded = nil; n.mu.Unlock() }
func (n *manualNode) Stop()   {}
func (n *manualNode) end() {
	n.mu.Lock()
	f := n.onEnded
	n.onEnded = nil
	n.mu.Unlock()
	if f != nil {
		f()
	}
}

func (d *manualDevice) Open() error { return nil }
func (d *manualDevice) Start(buf *audio.Buffer, offset time.Duration, onEnded func()) (audio.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := &manualNode{onEnded: onEnded}
	d.nodes = append(d.nodes, n)
	return n, nil
}
func (d *manualDevice) Now() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now
}
func (d *manualDevice) SetVolume(float64) {}
func (d *manualDevice) Volume() float64   { return 1 }
func (d *manualDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *manualDevice) finishCurrent(dt time.Duration) {
	d.mu.Lock()
	d.now += dt
	n := d.nodes[len(d.nodes)-1]
	d.mu.Unlock()
	n.end()
}

type fixture struct {
	s       *Session
	gen     *fakeGen
	planner *fakePlanner
	store   *store.SQLiteStore
	devices []*manualDevice

	evMu   sync.Mutex
	events []model.WalkEventType
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d, err := db.Init(filepath.Join(t.TempDir(), "walk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	f := &fixture{gen: &fakeGen{}, planner: &fakePlanner{}, store: store.NewSQLiteStore(d)}
	cfg := config.DefaultConfig().Walk
	cfg.PortraitEnabled = false
	f.s = NewSession(cfg, f.planner, f.gen, func() audio.Device {
		dev := &manualDevice{}
		f.devices = append(f.devices, dev)
		return dev
	}, f.store)
	f.s.Subscribe(func(ev *model.WalkEvent) {
		f.evMu.Lock()
		f.events = append(f.events, ev.Type)
		f.evMu.Unlock()
	})
	t.Cleanup(f.s.Close)
	return f
}

func (f *fixture) has(tp model.WalkEventType) bool {
	f.evMu.Lock()
	defer f.evMu.Unlock()
	for _, e := range f.events {
		if e == tp {
			return true
		}
	}
	return false
}

func (f *fixture) settle() {
	if w := f.s.current(); w != nil {
		w.sched.Wait()
	}
}

func TestSession_StartAndLookahead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, model.StateOnboarding, f.s.State())
	f.s.CompleteOnboarding()
	assert.Equal(t, model.StatePlanning, f.s.State())
	assert.Equal(t, StandbyText, f.s.CurrentText())

	require.NoError(t, f.s.Start(ctx, "Alexanderplatz", "Tiergarten", model.StyleScout))
	f.settle()

	st := f.s.Status()
	assert.Equal(t, model.StateReadyToWalk, st.State)
	assert.Equal(t, 3, st.EstimatedTotal)
	assert.Equal(t, 2, st.Buffered, "one segment of lookahead past the first")
	assert.False(t, st.FullyBuffered)
	assert.Equal(t, "Puck", st.Route.Voice)
	assert.Equal(t, "Segment A", st.CurrentText)
	assert.Zero(t, st.Progress)
	require.NotNil(t, st.Marker)
	assert.Equal(t, 52.52, st.Marker.Lat)
	assert.Equal(t, 13.41, st.Marker.Lon)
	assert.True(t, f.has(model.EventWalkStarted))
	assert.True(t, f.has(model.EventSegmentRealized))

	rec, err := f.store.GetWalk(ctx, st.Token)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, model.OutcomeActive, rec.Outcome)
	assert.Equal(t, model.NarrationPlan{"A", "B", "C"}, rec.Plan)

	// Playing into segment 2 asks for segment 3.
	require.NoError(t, f.s.Toggle())
	assert.Equal(t, model.StateActive, f.s.State())
	f.devices[0].finishCurrent(time.Second)
	f.settle()

	st = f.s.Status()
	assert.Equal(t, 1, st.CurrentIndex)
	assert.Equal(t, 3, st.Buffered)
	assert.True(t, st.FullyBuffered)
	assert.Equal(t, "Segment B", st.CurrentText)
	assert.InDelta(t, 1.0/3.0, f.s.ProgressFraction(), 1e-9)
	assert.Equal(t, []int{1, 2, 3}, f.gen.indices)

	f.s.Abandon()
	assert.Equal(t, model.StatePlanning, f.s.State())
	assert.Nil(t, f.s.Route())
	assert.True(t, f.devices[0].closed)
	assert.ErrorIs(t, f.s.Toggle(), ErrNoActiveWalk)

	rec, err = f.store.GetWalk(ctx, st.Token)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeAbandoned, rec.Outcome)
	assert.Equal(t, 3, rec.SegmentsRealized)
}

func TestSession_Completion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.s.Start(ctx, "A", "B", model.StyleLocal))
	f.settle()

	require.NoError(t, f.s.Toggle())
	for i := 0; i < 3; i++ {
		f.devices[0].finishCurrent(time.Second)
		f.settle()
	}

	st := f.s.Status()
	assert.True(t, st.Finished)
	assert.Equal(t, 1.0, st.Progress)
	assert.Equal(t, 13.38, st.Marker.Lon)
	assert.True(t, f.has(model.EventWalkEnded))

	rec, err := f.store.GetWalk(ctx, st.Token)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeCompleted, rec.Outcome)

	// A later abandon keeps the recorded outcome.
	f.s.Abandon()
	rec, err = f.store.GetWalk(ctx, st.Token)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeCompleted, rec.Outcome)
}

func TestSession_RetriesFailedSegmentWhenPlaybackCatchesUp(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		toggles  int
		want     []int
	}{
		{"retried on buffering", 1, 0, []int{1, 2, 3, 3}},
		{"retried on toggle", 2, 2, []int{1, 2, 3, 3, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.gen.failures = map[int]int{3: tt.failures}
			require.NoError(t, f.s.Start(context.Background(), "A", "B", model.StyleTactical))
			f.settle()

			require.NoError(t, f.s.Toggle())
			f.devices[0].finishCurrent(time.Second)
			f.settle()
			assert.Equal(t, 2, f.s.Status().Buffered, "segment 3 failed while segment 2 played")

			// Segment 2 ends with nothing behind it.
			f.devices[0].finishCurrent(time.Second)
			f.settle()
			for i := 0; i < tt.toggles; i++ {
				require.NoError(t, f.s.Toggle())
				f.settle()
			}

			st := f.s.Status()
			assert.Equal(t, tt.want, f.gen.indices)
			assert.Equal(t, 3, st.Buffered)
			assert.Equal(t, 2, st.CurrentIndex)
			assert.Equal(t, playback.Playing, st.Playback)
			assert.Equal(t, "Segment C", st.CurrentText)
		})
	}
}

func TestSession_StartGivesUpOnHungGuardian(t *testing.T) {
	f := newFixture(t)
	f.gen.hang = true
	f.s.cfg.GenerationTimeout = config.Duration(50 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- f.s.Start(context.Background(), "A", "B", model.StyleTactical) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrUplinkFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("start did not give up on a hung generation")
	}

	st := f.s.Status()
	assert.Equal(t, model.StatePlanning, st.State)
	assert.Equal(t, UplinkFailedMessage, st.Error)
	f.gen.mu.Lock()
	assert.True(t, f.gen.planTimed, "plan request carries the generation timeout")
	f.gen.mu.Unlock()
}

func TestSession_StartFailures(t *testing.T) {
	tests := []struct {
		name      string
		planErr   error
		failFirst bool
		wantIs    error
		wantMsg   string
	}{
		{
			name:    "route not found",
			planErr: &routing.RouteResolutionError{Code: routing.CodeLocationFailure, Err: routing.ErrNotFound},
			wantIs:  routing.ErrNotFound,
			wantMsg: routing.CodeLocationFailure,
		},
		{
			name:    "planner transport error",
			planErr: errors.New("connection refused"),
			wantMsg: routing.CodeUplinkFailure,
		},
		{
			name:      "first segment fails",
			failFirst: true,
			wantIs:    ErrUplinkFailed,
			wantMsg:   UplinkFailedMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.planner.err = tt.planErr
			f.gen.failFirst = tt.failFirst

			err := f.s.Start(context.Background(), "A", "B", model.StyleTactical)
			require.Error(t, err)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}

			st := f.s.Status()
			assert.Equal(t, model.StatePlanning, st.State)
			assert.Equal(t, tt.wantMsg, st.Error)
			assert.Empty(t, st.Loading)
			assert.Empty(t, st.Token)
			assert.Empty(t, f.devices)
		})
	}
}

func TestSession_BeginRequiresRoute(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.s.Begin(context.Background()), ErrNoRoute)

	route, err := f.s.PlanRoute(context.Background(), "A", "B", "tactical")
	require.NoError(t, err)
	assert.Equal(t, model.StyleTactical, route.Style)
	assert.Equal(t, model.StateRouteConfirmed, f.s.State())
	assert.Equal(t, model.StyleTactical, f.s.Program().Style)
}

func TestSession_AbandonDuringStart(t *testing.T) {
	f := newFixture(t)
	f.gen.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- f.s.Start(context.Background(), "A", "B", model.StyleScout)
	}()

	require.Eventually(t, func() bool {
		return f.s.Status().Loading == LoadingSyncing
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, model.StateInitializingGuardian, f.s.State())

	f.s.Abandon()
	close(f.gen.gate)

	assert.ErrorIs(t, <-done, ErrSuperseded)
	assert.Equal(t, model.StatePlanning, f.s.State())
	assert.Nil(t, f.s.current())
}

func TestSession_NewWalkReplacesOld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.s.Start(ctx, "A", "B", model.StyleScout))
	f.settle()
	first := f.s.Status().Token

	require.NoError(t, f.s.Start(ctx, "C", "D", model.StyleLocal))
	f.settle()
	second := f.s.Status().Token

	assert.NotEqual(t, first, second)
	require.Len(t, f.devices, 2)
	assert.True(t, f.devices[0].closed)
	assert.False(t, f.devices[1].closed)

	rec, err := f.store.GetWalk(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeAbandoned, rec.Outcome)
}

func TestSession_VolumePersisted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.s.SetVolume(ctx, 1.8)
	assert.Equal(t, 1.0, f.s.Volume())
	f.s.SetVolume(ctx, 0.35)

	_, err := f.s.PlanRoute(ctx, "A", "B", model.StyleTactical)
	require.NoError(t, err)

	restored := NewSession(config.DefaultConfig().Walk, f.planner, f.gen, nil, f.store)
	restored.Restore(ctx)
	assert.Equal(t, 0.35, restored.Volume())
	assert.Equal(t, model.StyleTactical, restored.Program().Style)
}

func TestSession_Portrait(t *testing.T) {
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 400, 300))
	img.Set(10, 10, color.RGBA{R: 255, A: 255})
	require.NoError(t, png.Encode(&buf, img))

	f := newFixture(t)
	f.s.cfg.PortraitEnabled = true
	f.gen.portrait = &llm.Image{Data: buf.Bytes(), MIMEType: "image/png"}

	require.NoError(t, f.s.Start(context.Background(), "A", "B", model.StyleScout))
	require.Eventually(t, func() bool { return f.s.Status().HasPortrait }, 2*time.Second, 5*time.Millisecond)

	full, thumb := f.s.Portrait()
	assert.Equal(t, "image/png", full.MIMEType)
	decoded, format, err := image.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, ThumbnailSize, decoded.Bounds().Dx())
	assert.Equal(t, ThumbnailSize, decoded.Bounds().Dy())
}
