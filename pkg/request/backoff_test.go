package request

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestCooldown_Fail(t *testing.T) {
	tests := []struct {
		name    string
		fails   int
		hint    time.Duration
		wantMin time.Duration
		wantMax time.Duration
	}{
		{"first failure", 1, 0, 900 * time.Millisecond, 1200 * time.Millisecond},
		{"third failure doubles twice", 3, 0, 3900 * time.Millisecond, 4800 * time.Millisecond},
		{"capped", 12, 0, 29 * time.Second, 33 * time.Second},
		{"retry-after wins", 1, 10 * time.Second, 9 * time.Second, 10 * time.Second},
		{"retry-after capped", 1, time.Hour, 29 * time.Second, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCooldown(time.Second, 30*time.Second)
			for i := 0; i < tt.fails; i++ {
				c.Fail("nominatim.openstreetmap.org", tt.hint)
			}

			streak, until := c.State("nominatim.openstreetmap.org")
			if streak != tt.fails {
				t.Errorf("streak = %d, want %d", streak, tt.fails)
			}
			if wait := time.Until(until); wait < tt.wantMin || wait > tt.wantMax {
				t.Errorf("wait = %v, want between %v and %v", wait, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestCooldown_SucceedHalvesStreak(t *testing.T) {
	c := NewCooldown(time.Second, time.Minute)
	for i := 0; i < 4; i++ {
		c.Fail("router.project-osrm.org", 0)
	}

	c.Succeed("router.project-osrm.org")
	if streak, _ := c.State("router.project-osrm.org"); streak != 2 {
		t.Errorf("after one success streak = %d, want 2", streak)
	}

	c.Succeed("router.project-osrm.org")
	c.Succeed("router.project-osrm.org")
	streak, until := c.State("router.project-osrm.org")
	if streak != 0 || !until.IsZero() {
		t.Errorf("expected cooldown lifted, got streak %d until %v", streak, until)
	}
}

func TestCooldown_WaitHonoursContext(t *testing.T) {
	c := NewCooldown(time.Minute, time.Minute)
	c.Fail("generativelanguage.googleapis.com", 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.Wait(ctx, "generativelanguage.googleapis.com"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if err := c.Wait(context.Background(), "speech.platform.bing.com"); err != nil {
		t.Errorf("host without failures should not wait, got %v", err)
	}
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{"absent", "", 0},
		{"seconds", "7", 7 * time.Second},
		{"garbage", "soon", 0},
		{"past date", "Mon, 02 Jan 2006 15:04:05 GMT", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set("Retry-After", tt.header)
			}
			if got := retryAfter(h); got != tt.want {
				t.Errorf("retryAfter(%q) = %v, want %v", tt.header, got, tt.want)
			}
		})
	}
}

func TestThrottleHint(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantHint time.Duration
		wantOK   bool
	}{
		{"too many requests", &HTTPError{StatusCode: 429, RetryAfter: 3 * time.Second}, 3 * time.Second, true},
		{"server error", &HTTPError{StatusCode: 503}, 0, true},
		{"not found", &HTTPError{StatusCode: 404}, 0, false},
		{"transport", errors.New("dial tcp: refused"), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hint, ok := throttleHint(tt.err)
			if hint != tt.wantHint || ok != tt.wantOK {
				t.Errorf("throttleHint() = %v, %v, want %v, %v", hint, ok, tt.wantHint, tt.wantOK)
			}
		})
	}
}
