package tracker

import (
	"sync"
	"sync/atomic"
	"time"
)

// Tracker tracks usage statistics per provider.
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*ProviderStats
}

// ProviderStats holds metrics for a specific provider.
// Fields are accessed atomically.
type ProviderStats struct {
	CacheHits    int64 `json:"cache_hits"`
	CacheMisses  int64 `json:"cache_misses"`
	APISuccess   int64 `json:"api_success"`
	APIFailures  int64 `json:"api_failures"`
	LatencyTotal int64 `json:"-"` // nanoseconds across timed calls
	LatencyCount int64 `json:"-"`

	AvgLatencyMS int64 `json:"avg_latency_ms"` // derived in Snapshot
}

// New creates a new Tracker.
func New() *Tracker {
	return &Tracker{
		stats: make(map[string]*ProviderStats),
	}
}

// getStats returns the stats object for a provider, creating it if needed.
func (t *Tracker) getStats(provider string) *ProviderStats {
	t.mu.RLock()
	s, ok := t.stats[provider]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.stats[provider]; ok {
		return s
	}
	s = &ProviderStats{}
	t.stats[provider] = s
	return s
}

// TrackCacheHit increments the cache hit counter.
func (t *Tracker) TrackCacheHit(provider string) {
	atomic.AddInt64(&t.getStats(provider).CacheHits, 1)
}

func (t *Tracker) TrackCacheMiss(provider string) {
	atomic.AddInt64(&t.getStats(provider).CacheMisses, 1)
}

func (t *Tracker) TrackAPISuccess(provider string) {
	atomic.AddInt64(&t.getStats(provider).APISuccess, 1)
}

func (t *Tracker) TrackAPIFailure(provider string) {
	atomic.AddInt64(&t.getStats(provider).APIFailures, 1)
}

// TrackLatency records the duration of one timed call, e.g. a segment generation.
func (t *Tracker) TrackLatency(provider string, d time.Duration) {
	s := t.getStats(provider)
	atomic.AddInt64(&s.LatencyTotal, int64(d))
	atomic.AddInt64(&s.LatencyCount, 1)
}

// Snapshot returns a copy of the current stats.
func (t *Tracker) Snapshot() map[string]ProviderStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]ProviderStats, len(t.stats))
	for k, v := range t.stats {
		s := ProviderStats{
			CacheHits:    atomic.LoadInt64(&v.CacheHits),
			CacheMisses:  atomic.LoadInt64(&v.CacheMisses),
			APISuccess:   atomic.LoadInt64(&v.APISuccess),
			APIFailures:  atomic.LoadInt64(&v.APIFailures),
			LatencyTotal: atomic.LoadInt64(&v.LatencyTotal),
			LatencyCount: atomic.LoadInt64(&v.LatencyCount),
		}
		if s.LatencyCount > 0 {
			s.AvgLatencyMS = time.Duration(s.LatencyTotal / s.LatencyCount).Milliseconds()
		}
		result[k] = s
	}
	return result
}
