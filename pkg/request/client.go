package request

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"safestep/pkg/cache"
	"safestep/pkg/config"
	"safestep/pkg/logging"
	"safestep/pkg/tracker"
	"safestep/pkg/version"
)

var (
	defaultUserAgent = fmt.Sprintf("SafeStep Walking Guardian (SafeStep/%s)", version.Version)
)

// HTTPError is a non-2xx response that survived all attempts.
type HTTPError struct {
	StatusCode int
	Body       string
	// RetryAfter is the server's Retry-After hint, zero when absent.
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Body)
}

// Client handles HTTP requests with queuing, caching, and tracking.
// Requests to the same provider run one at a time.
type Client struct {
	httpClient *http.Client
	cache      cache.Cacher
	tracker    *tracker.Tracker
	cooldown   *Cooldown

	maxAttempts int
	baseDelay   time.Duration
	gap         time.Duration

	// Queues per provider (domain)
	queues map[string]chan job
	mu     sync.Mutex // Protects queues map
}

// job represents a queued request.
type job struct {
	req      *http.Request
	headers  map[string]string
	cacheKey string
	attempts int
	respChan chan jobResult
}

type jobResult struct {
	body []byte
	err  error
}

// New creates a new Client.
func New(c cache.Cacher, t *tracker.Tracker, cfg config.RequestConfig) *Client {
	attempts := cfg.Retries
	if attempts < 1 {
		attempts = 1
	}
	base := time.Duration(cfg.Backoff.BaseDelay)
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxDelay := time.Duration(cfg.Backoff.MaxDelay)
	if maxDelay < base {
		maxDelay = base
	}
	timeout := time.Duration(cfg.Timeout)
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	if c == nil {
		c = cache.NewMemory()
	}
	if t == nil {
		t = tracker.New()
	}
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		cache:       c,
		tracker:     t,
		cooldown:    NewCooldown(base, maxDelay),
		maxAttempts: attempts,
		baseDelay:   base,
		gap:         100 * time.Millisecond,
		queues:      make(map[string]chan job),
	}
}

// Get performs a GET request with queuing and caching if key is provided.
func (c *Client) Get(ctx context.Context, u, cacheKey string) ([]byte, error) {
	return c.GetWithHeaders(ctx, u, nil, cacheKey)
}

// GetWithHeaders performs a GET request with custom headers and optional caching.
func (c *Client) GetWithHeaders(ctx context.Context, u string, headers map[string]string, cacheKey string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, u, nil, headers, cacheKey, c.maxAttempts)
}

// Post performs a POST request with queuing.
func (c *Client) Post(ctx context.Context, u string, body []byte, contentType string) ([]byte, error) {
	return c.PostWithHeaders(ctx, u, body, map[string]string{"Content-Type": contentType})
}

// PostWithHeaders performs a POST request with custom headers and queuing.
func (c *Client) PostWithHeaders(ctx context.Context, u string, body []byte, headers map[string]string) ([]byte, error) {
	return c.do(ctx, http.MethodPost, u, body, headers, "", c.maxAttempts)
}

// PostWithCache performs a POST request with queuing and caching.
func (c *Client) PostWithCache(ctx context.Context, u string, body []byte, headers map[string]string, cacheKey string) ([]byte, error) {
	return c.do(ctx, http.MethodPost, u, body, headers, cacheKey, c.maxAttempts)
}

// PostOnce performs a queued POST with a single attempt.
// Callers that own their retry policy (or have none) use it so a failure surfaces immediately.
func (c *Client) PostOnce(ctx context.Context, u string, body []byte, headers map[string]string) ([]byte, error) {
	return c.do(ctx, http.MethodPost, u, body, headers, "", 1)
}

func (c *Client) do(ctx context.Context, method, u string, body []byte, headers map[string]string, cacheKey string, attempts int) ([]byte, error) {
	parsedURL, err := url.Parse(u)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	provider := normalizeProvider(parsedURL.Host)

	if cacheKey != "" {
		if val, hit := c.cache.GetCache(ctx, cacheKey); hit {
			c.tracker.TrackCacheHit(provider)
			slog.Debug("Cache Hit", "provider", provider, "key", cacheKey)
			return val, nil
		}
		c.tracker.TrackCacheMiss(provider)
		slog.Debug("Cache Miss", "provider", provider, "key", cacheKey)
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	respChan := make(chan jobResult, 1)
	c.dispatch(provider, job{req: req, headers: headers, cacheKey: cacheKey, attempts: attempts, respChan: respChan})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-respChan:
		return res.body, res.err
	}
}

func normalizeProvider(host string) string {
	host = strings.ToLower(host)
	if h, _, found := strings.Cut(host, ":"); found {
		host = h
	}
	switch {
	case strings.Contains(host, "nominatim"):
		return "nominatim"
	case strings.Contains(host, "osrm"):
		return "osrm"
	case strings.HasSuffix(host, "googleapis.com"):
		return "gemini"
	}
	return host
}

// dispatch sends the job to the provider's queue, creating the queue/worker if needed.
func (c *Client) dispatch(provider string, j job) {
	c.mu.Lock()
	q, ok := c.queues[provider]
	if !ok {
		q = make(chan job, 100)
		c.queues[provider] = q
		go c.worker(provider, q)
	}
	c.mu.Unlock()

	// Blocks when the queue is full, throttling the caller.
	select {
	case q <- j:
	case <-j.req.Context().Done():
		j.respChan <- jobResult{err: j.req.Context().Err()}
	}
}

// worker processes requests for a specific provider sequentially.
func (c *Client) worker(provider string, q <-chan job) {
	for j := range q {
		ctx := j.req.Context()
		if ctx.Err() != nil {
			slog.Warn("Job dropped from queue (context expired)", "provider", provider, "error", ctx.Err())
			j.respChan <- jobResult{err: ctx.Err()}
			continue
		}

		if err := c.cooldown.Wait(ctx, provider); err != nil {
			j.respChan <- jobResult{err: err}
			continue
		}

		uaMatch := false
		for k, v := range j.headers {
			j.req.Header.Set(k, v)
			if http.CanonicalHeaderKey(k) == "User-Agent" {
				uaMatch = true
			}
		}
		if !uaMatch {
			j.req.Header.Set("User-Agent", defaultUserAgent)
		}

		start := time.Now()
		body, err := c.executeWithBackoff(j.req, j.attempts)
		logging.RequestLogger.Info("Outbound",
			"provider", provider,
			"method", j.req.Method,
			"path", j.req.URL.Path,
			"took", time.Since(start).Round(time.Millisecond),
			"error", err)

		if err == nil {
			c.tracker.TrackAPISuccess(provider)
			c.cooldown.Succeed(provider)
			if j.cacheKey != "" {
				if err := c.cache.SetCache(context.Background(), j.cacheKey, body); err != nil {
					slog.Error("Failed to cache response", "url", j.req.URL, "error", err)
				}
			}
		} else {
			c.tracker.TrackAPIFailure(provider)
			if hint, ok := throttleHint(err); ok {
				c.cooldown.Fail(provider, hint)
			}
		}

		j.respChan <- jobResult{body: body, err: err}

		// Safety gap against rate limits.
		time.Sleep(c.gap)
	}
}

// throttleHint reports whether err should cool the host down, with the server's hint.
func throttleHint(err error) (time.Duration, bool) {
	var he *HTTPError
	if !errors.As(err, &he) || (he.StatusCode != http.StatusTooManyRequests && he.StatusCode < 500) {
		return 0, false
	}
	return he.RetryAfter, true
}

// executeWithBackoff attempts the request with exponential backoff on retryable errors.
func (c *Client) executeWithBackoff(req *http.Request, maxAttempts int) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		if attempt > 0 {
			sleepDur := time.Duration(math.Pow(2, float64(attempt-1))) * c.baseDelay
			select {
			case <-time.After(sleepDur):
			case <-req.Context().Done():
				return nil, req.Context().Err()
			}
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("rewind body: %w", err)
				}
				req.Body = body
			}
		}

		slog.Debug("Network Request", "host", req.URL.Host, "path", req.URL.Path, "attempt", attempt+1)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, req.Context().Err()
			}
			slog.Warn("Request failed", "host", req.URL.Host, "attempt", attempt+1, "error", err)
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode < 600) {
			slog.Warn("API Backoff", "status", resp.StatusCode, "host", req.URL.Host, "attempt", attempt+1)
			lastErr = &HTTPError{StatusCode: resp.StatusCode, Body: snippet(body), RetryAfter: retryAfter(resp.Header)}
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, &HTTPError{StatusCode: resp.StatusCode, Body: snippet(body)}
		}
		if readErr != nil {
			return nil, fmt.Errorf("read error: %w", readErr)
		}
		return body, nil
	}

	if maxAttempts > 1 {
		return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
	}
	return nil, lastErr
}

func snippet(b []byte) string {
	const limit = 300
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
