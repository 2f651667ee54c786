package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"safestep/pkg/db"
)

// Cacher defines the caching interface.
type Cacher interface {
	GetCache(ctx context.Context, key string) ([]byte, bool)
	SetCache(ctx context.Context, key string, val []byte) error
}

// SQLiteCache implements Cacher on the cache table. Values are gzip-compressed at rest.
type SQLiteCache struct {
	db  *db.DB
	ttl time.Duration
	now func() time.Time
}

// NewSQLiteCache creates a new cache. Entries older than ttl read as misses; zero disables expiry.
func NewSQLiteCache(d *db.DB, ttl time.Duration) *SQLiteCache {
	return &SQLiteCache{db: d, ttl: ttl, now: time.Now}
}

func (c *SQLiteCache) GetCache(ctx context.Context, key string) ([]byte, bool) {
	var val []byte
	var created time.Time
	err := c.db.QueryRowContext(ctx, "SELECT value, created_at FROM cache WHERE key = ?", key).Scan(&val, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		slog.Debug("Cache read failed", "key", key, "error", err)
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(created) > c.ttl {
		return nil, false
	}

	if len(val) > 2 && val[0] == 0x1f && val[1] == 0x8b {
		if decompressed, err := decompress(val); err == nil {
			return decompressed, true
		}
	}
	return val, true
}

func (c *SQLiteCache) SetCache(ctx context.Context, key string, val []byte) error {
	if compressed, err := compress(val); err == nil {
		val = compressed
	}
	_, err := c.db.ExecContext(ctx, `INSERT OR REPLACE INTO cache (key, value, created_at) VALUES (?, ?, ?)`, key, val, c.now().UTC())
	return err
}

var (
	gzipWriterPool = sync.Pool{
		New: func() interface{} {
			return gzip.NewWriter(io.Discard)
		},
	}
	bufferPool = sync.Pool{
		New: func() interface{} {
			return new(bytes.Buffer)
		},
	}
)

func compress(data []byte) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	w := gzipWriterPool.Get().(*gzip.Writer)
	defer gzipWriterPool.Put(w)
	w.Reset(buf)

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	// buf goes back to the pool
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Memory is an in-process Cacher for tests and database-less runs.
type Memory struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{m: make(map[string][]byte)}
}

func (c *Memory) GetCache(ctx context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *Memory) SetCache(ctx context.Context, key string, val []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = append([]byte(nil), val...)
	return nil
}
