package api

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"safestep/pkg/logging"
	"safestep/pkg/version"
)

// NewServer creates and configures the HTTP server.
// It accepts handlers for all API endpoints and a shutdownFunc for graceful shutdown.
func NewServer(addr string, walkH *WalkHandler, playH *PlaybackHandler, stats *StatsHandler, historyH *HistoryHandler, events *EventHub, shutdown func()) *http.Server {
	mux := http.NewServeMux()

	// 1. Health Endpoint
	mux.HandleFunc("GET /health", handleHealth)

	// 2. Version, Stats and Logs
	mux.HandleFunc("GET /api/version", handleVersion)
	mux.Handle("GET /api/stats", stats)
	mux.HandleFunc("GET /api/log/latest", handleLatestLog)
	mux.HandleFunc("GET /api/log/events", handleEventLog)

	// 3. Walk Endpoints
	mux.HandleFunc("GET /api/programs", handlePrograms)
	mux.HandleFunc("POST /api/onboarding/complete", walkH.HandleOnboarding)
	mux.HandleFunc("POST /api/walk", walkH.HandleStart)
	mux.HandleFunc("POST /api/walk/route", walkH.HandlePlanRoute)
	mux.HandleFunc("POST /api/walk/begin", walkH.HandleBegin)
	mux.HandleFunc("DELETE /api/walk", walkH.HandleAbandon)
	mux.HandleFunc("GET /api/walk/status", walkH.HandleStatus)
	mux.HandleFunc("GET /api/walk/route.geojson", walkH.HandleRouteGeoJSON)
	mux.HandleFunc("GET /api/guardian/image", walkH.HandlePortrait)

	// 4. Playback Endpoints
	mux.HandleFunc("POST /api/playback/toggle", playH.HandleToggle)
	mux.HandleFunc("POST /api/playback/seek", playH.HandleSeek)
	mux.HandleFunc("POST /api/playback/volume", playH.HandleVolume)
	mux.HandleFunc("GET /api/playback/volume", playH.HandleGetVolume)

	// 5. History and Events
	if historyH != nil {
		mux.HandleFunc("GET /api/walks", historyH.HandleRecent)
		mux.HandleFunc("GET /api/walks/{token}", historyH.HandleGet)
	}
	if events != nil {
		mux.Handle("GET /api/events", events)
	}

	// 6. Shutdown Endpoint
	mux.HandleFunc("POST /api/shutdown", func(w http.ResponseWriter, r *http.Request) {
		slog.Info("Graceful shutdown initiated via API")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("Shutting down...")); err != nil {
			slog.Error("Failed to write shutdown response", "error", err)
		}
		// Call shutdown in a goroutine to allow response to flush
		go func() {
			time.Sleep(100 * time.Millisecond)
			shutdown()
		}()
	})

	return &http.Server{
		Addr:         addr,
		Handler:      logRequests(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := fmt.Fprintf(w, `{"version": "%s"}`, version.Version); err != nil {
		slog.Error("Failed to write version response", "error", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack hands the connection to the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// logRequests writes one line per request to the request log.
// Status polling is logged at debug level.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		if r.URL.Path == "/api/walk/status" || r.URL.Path == "/health" {
			level = slog.LevelDebug
		}
		logging.RequestLogger.Log(r.Context(), level, "HTTP",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"took", time.Since(start).Round(time.Millisecond),
		)
	})
}
