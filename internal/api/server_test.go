package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safestep/pkg/audio"
	"safestep/pkg/geo"
	"safestep/pkg/llm"
	"safestep/pkg/model"
	"safestep/pkg/routing"
	"safestep/pkg/tracker"
	"safestep/pkg/walk"
)

type fakeSession struct {
	mu sync.Mutex

	planErr   error
	route     *model.RouteContext
	marker    *walk.Marker
	status    walk.Status
	toggleErr error
	seekErr   error
	seeked    time.Duration
	volume    float64
	thumb     []byte
	image     *llm.Image

	began      chan struct{}
	onboarded  bool
	abandoned  bool
	subscriber func(*model.WalkEvent)
}

func newFakeSession() *fakeSession {
	return &fakeSession{began: make(chan struct{}, 1), volume: 0.8}
}

func (f *fakeSession) CompleteOnboarding() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onboarded = true
	f.status.State = model.StatePlanning
}

func (f *fakeSession) PlanRoute(ctx context.Context, origin, destination string, style model.GuardianStyle) (*model.RouteContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.planErr != nil {
		return nil, f.planErr
	}
	f.route = &model.RouteContext{
		Origin:      model.Place{Query: origin, Lat: 52.52, Lon: 13.40},
		Destination: model.Place{Query: destination, Lat: 52.51, Lon: 13.37},
		Distance:    "2.5 km",
		Duration:    "30 min",
		Style:       model.ProgramFor(style).Style,
	}
	f.status.State = model.StateRouteConfirmed
	return f.route, nil
}

func (f *fakeSession) Begin(ctx context.Context) error {
	f.began <- struct{}{}
	return nil
}

func (f *fakeSession) Abandon() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abandoned = true
}

func (f *fakeSession) Status() walk.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeSession) Route() *model.RouteContext {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.route
}

func (f *fakeSession) Marker() *walk.Marker {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.marker
}

func (f *fakeSession) Portrait() (*llm.Image, []byte) {
	return f.image, f.thumb
}

func (f *fakeSession) Toggle() error {
	return f.toggleErr
}

func (f *fakeSession) Seek(offset time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeked = offset
	return f.seekErr
}

func (f *fakeSession) SetVolume(ctx context.Context, vol float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = min(max(vol, 0), 1)
}

func (f *fakeSession) Volume() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volume
}

func (f *fakeSession) Subscribe(fn func(*model.WalkEvent)) func() {
	f.mu.Lock()
	f.subscriber = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.subscriber = nil
		f.mu.Unlock()
	}
}

func (f *fakeSession) publish(ev *model.WalkEvent) {
	f.mu.Lock()
	fn := f.subscriber
	f.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

type fakeWalkStore struct {
	walks []*model.WalkRecord
	limit int
}

func (s *fakeWalkStore) SaveWalk(ctx context.Context, w *model.WalkRecord) error { return nil }
func (s *fakeWalkStore) FinishWalk(ctx context.Context, token string, endedAt time.Time, realized int, outcome model.WalkOutcome) error {
	return nil
}

func (s *fakeWalkStore) GetWalk(ctx context.Context, token string) (*model.WalkRecord, error) {
	for _, w := range s.walks {
		if w.Token == token {
			return w, nil
		}
	}
	return nil, nil
}

func (s *fakeWalkStore) RecentWalks(ctx context.Context, limit int) ([]*model.WalkRecord, error) {
	s.limit = limit
	return s.walks, nil
}

type testServer struct {
	handler  http.Handler
	session  *fakeSession
	hub      *EventHub
	history  *fakeWalkStore
	shutdown chan struct{}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		session:  newFakeSession(),
		history:  &fakeWalkStore{},
		shutdown: make(chan struct{}, 1),
	}
	ts.hub = NewEventHub(ts.session)
	t.Cleanup(ts.hub.Close)

	srv := NewServer("localhost:0",
		NewWalkHandler(context.Background(), ts.session),
		NewPlaybackHandler(ts.session),
		NewStatsHandler(tracker.New()),
		NewHistoryHandler(ts.history),
		ts.hub,
		func() { ts.shutdown <- struct{}{} },
	)
	ts.handler = srv.Handler
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndVersion(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/version", "")
	var v map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.NotEmpty(t, v["version"])
}

func TestPrograms(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/programs", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var programs []model.Program
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &programs))
	assert.Len(t, programs, len(model.Programs))
	assert.Equal(t, model.StyleReassuring, programs[0].Style)
}

func TestStartWalk(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/walk", `{"origin":"Alexanderplatz","destination":"Brandenburger Tor","style":"scout"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var route model.RouteContext
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &route))
	assert.Equal(t, "Alexanderplatz", route.Origin.Query)
	assert.Equal(t, model.StyleScout, route.Style)

	select {
	case <-ts.session.began:
	case <-time.After(2 * time.Second):
		t.Fatal("guardian initialization was not started")
	}
}

func TestStartWalk_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		planErr  error
		wantCode int
		wantErr  string
	}{
		{name: "malformed body", body: `{`, wantCode: http.StatusBadRequest},
		{name: "unknown guardian", body: `{"origin":"a","destination":"b","style":"ninja"}`, wantCode: http.StatusBadRequest, wantErr: "UNKNOWN_GUARDIAN"},
		{
			name:     "missing params",
			body:     `{"origin":"","destination":""}`,
			planErr:  &routing.RouteResolutionError{Code: routing.CodeParamsRequired, Err: errors.New("empty")},
			wantCode: http.StatusBadRequest,
			wantErr:  routing.CodeParamsRequired,
		},
		{
			name:     "unknown place",
			body:     `{"origin":"Nowhere","destination":"b"}`,
			planErr:  &routing.RouteResolutionError{Code: routing.CodeLocationFailure, Query: "Nowhere", Err: routing.ErrNotFound},
			wantCode: http.StatusNotFound,
			wantErr:  routing.CodeLocationFailure,
		},
		{
			name:     "too far",
			body:     `{"origin":"Berlin","destination":"Paris"}`,
			planErr:  &routing.RouteResolutionError{Code: routing.CodeOutOfBounds, Err: errors.New("1050 km")},
			wantCode: http.StatusUnprocessableEntity,
			wantErr:  routing.CodeOutOfBounds,
		},
		{
			name:     "router down",
			body:     `{"origin":"a","destination":"b"}`,
			planErr:  &routing.RouteResolutionError{Code: routing.CodeUplinkFailure, Err: errors.New("503")},
			wantCode: http.StatusBadGateway,
			wantErr:  routing.CodeUplinkFailure,
		},
		{
			name:     "superseded",
			body:     `{"origin":"a","destination":"b"}`,
			planErr:  walk.ErrSuperseded,
			wantCode: http.StatusConflict,
			wantErr:  "SUPERSEDED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.session.planErr = tt.planErr

			rec := ts.do(t, http.MethodPost, "/api/walk", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantErr != "" {
				var resp ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, tt.wantErr, resp.Error)
			}
			assert.Empty(t, ts.session.began, "initialization must not start after a planning failure")
		})
	}
}

func TestPlanThenBegin(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/walk/begin", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/walk/route", `{"origin":"a","destination":"b"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, ts.session.began)

	rec = ts.do(t, http.MethodPost, "/api/walk/begin", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case <-ts.session.began:
	case <-time.After(2 * time.Second):
		t.Fatal("guardian initialization was not started")
	}
}

func TestOnboardingAndAbandon(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/onboarding/complete", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ts.session.onboarded)
	assert.Contains(t, rec.Body.String(), `"state":"PLANNING"`)

	rec = ts.do(t, http.MethodDelete, "/api/walk", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, ts.session.abandoned)
}

func TestWalkStatus(t *testing.T) {
	ts := newTestServer(t)
	ts.session.status = walk.Status{
		State:          model.StateActive,
		CurrentIndex:   1,
		EstimatedTotal: 4,
		Buffered:       3,
		IsPlaying:      true,
		CurrentText:    "Eyes up at the crossing.",
		Progress:       0.25,
	}

	rec := ts.do(t, http.MethodGet, "/api/walk/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "ACTIVE", got["state"])
	assert.EqualValues(t, 1, got["current_index"])
	assert.EqualValues(t, 4, got["estimated_total"])
	assert.EqualValues(t, 0.25, got["progress"])
	assert.Equal(t, true, got["is_playing"])
	assert.Equal(t, "Eyes up at the crossing.", got["current_text"])
}

func TestPlayback(t *testing.T) {
	t.Run("toggle without walk", func(t *testing.T) {
		ts := newTestServer(t)
		ts.session.toggleErr = walk.ErrNoActiveWalk
		rec := ts.do(t, http.MethodPost, "/api/playback/toggle", "")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("toggle device fault", func(t *testing.T) {
		ts := newTestServer(t)
		ts.session.toggleErr = &audio.DeviceError{Op: "start", Err: errors.New("no output")}
		rec := ts.do(t, http.MethodPost, "/api/playback/toggle", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("toggle", func(t *testing.T) {
		ts := newTestServer(t)
		ts.session.status = walk.Status{CurrentIndex: 2, IsPlaying: true, OffsetSeconds: 1.5}
		rec := ts.do(t, http.MethodPost, "/api/playback/toggle", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp PlaybackResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.CurrentIndex)
		assert.True(t, resp.IsPlaying)
	})

	t.Run("seek", func(t *testing.T) {
		ts := newTestServer(t)
		rec := ts.do(t, http.MethodPost, "/api/playback/seek", `{"offset_seconds": 12.5}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 12500*time.Millisecond, ts.session.seeked)

		rec = ts.do(t, http.MethodPost, "/api/playback/seek", `nope`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("volume", func(t *testing.T) {
		ts := newTestServer(t)
		rec := ts.do(t, http.MethodPost, "/api/playback/volume", `{"volume": 1.4}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.EqualValues(t, 1, resp["volume"])

		rec = ts.do(t, http.MethodGet, "/api/playback/volume", "")
		assert.Contains(t, rec.Body.String(), `"volume":1`)
	})
}

func TestRouteGeoJSON(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/walk/route.geojson", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.session.route = &model.RouteContext{
		Origin:      model.Place{Query: "A", Lat: 52.0, Lon: 13.0},
		Destination: model.Place{Query: "B", Lat: 52.1, Lon: 13.1},
		Path:        orb.LineString{{13.0, 52.0}, {13.05, 52.05}, {13.1, 52.1}},
	}
	ts.session.marker = &walk.Marker{Point: geo.Point{Lat: 52.05, Lon: 13.05}, Heading: 33}

	rec = ts.do(t, http.MethodGet, "/api/walk/route.geojson", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))

	fc, err := geojson.UnmarshalFeatureCollection(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)

	line, ok := fc.Features[0].Geometry.(orb.LineString)
	require.True(t, ok)
	assert.Len(t, line, 3)
	assert.Equal(t, "route", fc.Features[0].Properties["kind"])

	pt, ok := fc.Features[1].Geometry.(orb.Point)
	require.True(t, ok)
	assert.InDelta(t, 13.05, pt.Lon(), 1e-9)
	assert.InDelta(t, 52.05, pt.Lat(), 1e-9)
	assert.EqualValues(t, 33, fc.Features[1].Properties["heading"])
}

func TestRouteGeoJSON_StraightFallback(t *testing.T) {
	ts := newTestServer(t)
	ts.session.route = &model.RouteContext{
		Origin:      model.Place{Lat: 1, Lon: 2},
		Destination: model.Place{Lat: 3, Lon: 4},
	}

	rec := ts.do(t, http.MethodGet, "/api/walk/route.geojson", "")
	require.Equal(t, http.StatusOK, rec.Code)

	fc, err := geojson.UnmarshalFeatureCollection(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, orb.LineString{{2, 1}, {4, 3}}, fc.Features[0].Geometry)
}

func TestPortrait(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/guardian/image", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.session.thumb = []byte{0xFF, 0xD8, 0xFF}
	ts.session.image = &llm.Image{Data: []byte("png-bytes"), MIMEType: "image/png"}

	rec = ts.do(t, http.MethodGet, "/api/guardian/image", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF}, rec.Body.Bytes())

	rec = ts.do(t, http.MethodGet, "/api/guardian/image?size=full", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "png-bytes", rec.Body.String())
}

func TestHistory(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/walks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.Equal(t, defaultHistoryLimit, ts.history.limit)

	ts.history.walks = []*model.WalkRecord{{Token: "abc", Origin: "A", Destination: "B", Outcome: model.OutcomeCompleted}}

	rec = ts.do(t, http.MethodGet, "/api/walks?limit=5000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxHistoryLimit, ts.history.limit)

	rec = ts.do(t, http.MethodGet, "/api/walks?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/walks/abc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"outcome":"completed"`)

	rec = ts.do(t, http.MethodGet, "/api/walks/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStats(t *testing.T) {
	tr := tracker.New()
	tr.TrackAPISuccess("gemini")
	tr.TrackCacheHit("nominatim")
	tr.TrackCacheMiss("nominatim")

	rec := httptest.NewRecorder()
	NewStatsHandler(tr).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 1, resp.Providers["gemini"].APISuccess)
	assert.EqualValues(t, 50, resp.Providers["nominatim"].HitRate)
	assert.Positive(t, resp.Server.Goroutines)
}

func TestShutdown(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/shutdown", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	select {
	case <-ts.shutdown:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown was not called")
	}
}

func TestEventStream(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return ts.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	for i := 1; i <= 3; i++ {
		ts.session.publish(&model.WalkEvent{
			Type:  model.EventSegmentRealized,
			Title: fmt.Sprintf("Segment %d ready", i),
			Data:  map[string]any{"index": i},
		})
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 1; i <= 3; i++ {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var ev model.WalkEvent
		require.NoError(t, json.NewDecoder(bytes.NewReader(data)).Decode(&ev))
		assert.Equal(t, model.EventSegmentRealized, ev.Type)
		assert.Equal(t, fmt.Sprintf("Segment %d ready", i), ev.Title)
	}

	ts.hub.Close()
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "closing the hub disconnects clients")
}
