package request

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Cooldown spaces out requests to hosts that recently throttled or failed.
// Each failure doubles the pause up to the limit; each success halves the streak.
type Cooldown struct {
	mu    sync.RWMutex
	hosts map[string]*cooldownState
	base  time.Duration
	limit time.Duration
}

type cooldownState struct {
	streak int
	until  time.Time
}

// NewCooldown creates a Cooldown starting at base and capped at limit.
func NewCooldown(base, limit time.Duration) *Cooldown {
	return &Cooldown{
		hosts: make(map[string]*cooldownState),
		base:  base,
		limit: limit,
	}
}

// Wait blocks until host is out of cooldown or ctx ends.
func (c *Cooldown) Wait(ctx context.Context, host string) error {
	_, until := c.State(host)
	wait := time.Until(until)
	if wait <= 0 {
		return nil
	}
	slog.Debug("Host cooling down", "host", host, "wait", wait.Round(time.Millisecond))

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fail extends the cooldown for host. A server supplied Retry-After (hint)
// wins when it is longer than the computed pause.
func (c *Cooldown) Fail(host string, hint time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.hosts[host]
	if st == nil {
		st = &cooldownState{}
		c.hosts[host] = st
	}
	st.streak++
	pause := c.pause(st.streak)
	if hint > pause {
		pause = min(hint, c.limit)
	}
	st.until = time.Now().Add(pause)
}

// Succeed shortens the streak for host and lifts the cooldown once it reaches zero.
func (c *Cooldown) Succeed(host string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.hosts[host]
	if st == nil {
		return
	}
	st.streak /= 2
	if st.streak == 0 {
		delete(c.hosts, host)
	}
}

// State reports the failure streak and the end of the cooldown for host.
func (c *Cooldown) State(host string) (streak int, until time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if st := c.hosts[host]; st != nil {
		return st.streak, st.until
	}
	return 0, time.Time{}
}

// pause is base * 2^(streak-1), capped, plus up to 10% jitter.
func (c *Cooldown) pause(streak int) time.Duration {
	d := c.limit
	if shift := streak - 1; shift < 30 {
		if v := c.base << shift; v > 0 && v < c.limit {
			d = v
		}
	}
	return d + time.Duration(rand.Float64()*0.1*float64(d))
}

// retryAfter parses a Retry-After header in seconds or HTTP date form.
func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
