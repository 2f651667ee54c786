package api

import (
	"net/http"
	"runtime"
	"sync"

	"safestep/pkg/tracker"
)

// StatsHandler reports provider usage and server resource figures.
type StatsHandler struct {
	tracker *tracker.Tracker
	mu      sync.Mutex
	maxMem  uint64
}

func NewStatsHandler(t *tracker.Tracker) *StatsHandler {
	return &StatsHandler{tracker: t}
}

type ProviderStatsDTO struct {
	CacheHits    int64 `json:"cache_hits"`
	CacheMisses  int64 `json:"cache_misses"`
	APISuccess   int64 `json:"api_success"`
	APIFailures  int64 `json:"api_errors"`
	HitRate      int64 `json:"hit_rate"`
	AvgLatencyMS int64 `json:"avg_latency_ms"`
}

type ServerStats struct {
	MemoryMB    uint64 `json:"memory_mb"`
	MemoryMaxMB uint64 `json:"memory_max_mb"`
	Goroutines  int    `json:"goroutines"`
}

type StatsResponse struct {
	Server    ServerStats                 `json:"server"`
	Providers map[string]ProviderStatsDTO `json:"providers"`
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Server:    h.serverStats(),
		Providers: make(map[string]ProviderStatsDTO),
	}

	for provider, stats := range h.tracker.Snapshot() {
		totalCache := stats.CacheHits + stats.CacheMisses
		hitRate := int64(0)
		if totalCache > 0 {
			hitRate = (stats.CacheHits * 100) / totalCache
		}
		resp.Providers[provider] = ProviderStatsDTO{
			CacheHits:    stats.CacheHits,
			CacheMisses:  stats.CacheMisses,
			APISuccess:   stats.APISuccess,
			APIFailures:  stats.APIFailures,
			HitRate:      hitRate,
			AvgLatencyMS: stats.AvgLatencyMS,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *StatsHandler) serverStats() ServerStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	h.mu.Lock()
	if ms.Sys > h.maxMem {
		h.maxMem = ms.Sys
	}
	peak := h.maxMem
	h.mu.Unlock()

	return ServerStats{
		MemoryMB:    bToMb(ms.Sys),
		MemoryMaxMB: bToMb(peak),
		Goroutines:  runtime.NumGoroutine(),
	}
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
