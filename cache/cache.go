package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lxw15337674/memox-sub000/monitor"
)

// Meta describes how a response was served.
type Meta struct {
	Hit       bool      `json:"hit"`
	Key       string    `json:"key,omitempty"`
	AgeSec    int64     `json:"ageSec"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Stats struct {
	Backend string `json:"backend"`
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
	// Entries is -1 when the backend cannot count cheaply.
	Entries int `json:"entries"`
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l.With("component", "cache") }
}

func WithMetrics(m *monitor.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// Cache fronts a Backend. Backend failures degrade to cache misses and are
// never surfaced to callers.
type Cache struct {
	backend Backend
	now     func() time.Time
	logger  *slog.Logger
	metrics *monitor.Metrics

	hits   atomic.Int64
	misses atomic.Int64
}

func New(b Backend, opts ...Option) *Cache {
	c := &Cache{
		backend: b,
		now:     time.Now,
		logger:  slog.Default().With("component", "cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithCache returns the cached result of op for params, computing and
// storing it on a miss. Errors from compute are returned unchanged and
// nothing is stored.
func WithCache[T any](ctx context.Context, c *Cache, op Operation, params any, compute func(context.Context) (T, error)) (T, Meta, error) {
	var zero T

	key, err := Key(op, params)
	if err != nil {
		c.logger.Warn("cache key derivation failed, bypassing cache", "operation", op.Name, "error", err)
		v, err := compute(ctx)
		if err != nil {
			return zero, Meta{}, err
		}
		return v, Meta{}, nil
	}

	now := c.now()
	if v, meta, ok := lookup[T](ctx, c, key, now); ok {
		c.record(op, true)
		return v, meta, nil
	}
	c.record(op, false)

	v, err := compute(ctx)
	if err != nil {
		return zero, Meta{}, err
	}

	created := c.now()
	meta := Meta{Key: key, CreatedAt: created, ExpiresAt: created.Add(op.TTL)}

	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("cache payload encode failed", "key", key, "error", err)
		return v, meta, nil
	}
	entry := Entry{Key: key, Payload: payload, CreatedAt: meta.CreatedAt, ExpiresAt: meta.ExpiresAt}
	if err := c.backend.Set(ctx, entry); err != nil {
		c.logger.Warn("cache store failed", "key", key, "error", err)
	}
	return v, meta, nil
}

func lookup[T any](ctx context.Context, c *Cache, key string, now time.Time) (T, Meta, bool) {
	var v T
	e, err := c.backend.Get(ctx, key, now)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.logger.Warn("cache read failed", "key", key, "error", err)
		}
		return v, Meta{}, false
	}
	if err := json.Unmarshal(e.Payload, &v); err != nil {
		c.logger.Warn("cache payload undecodable, dropping", "key", key, "error", err)
		_ = c.backend.Delete(ctx, key)
		var zero T
		return zero, Meta{}, false
	}

	age := now.Sub(e.CreatedAt)
	if age < 0 {
		age = 0
	}
	return v, Meta{
		Hit:       true,
		Key:       key,
		AgeSec:    int64(age / time.Second),
		CreatedAt: e.CreatedAt,
		ExpiresAt: e.ExpiresAt,
	}, true
}

func (c *Cache) record(op Operation, hit bool) {
	if hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	c.metrics.CacheRequest(op.Name, hit)
}

// Clear drops every entry.
func (c *Cache) Clear(ctx context.Context) error {
	return c.backend.Clear(ctx)
}

func (c *Cache) Stats() Stats {
	s := Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Entries: -1}
	switch b := c.backend.(type) {
	case *MemoryBackend:
		s.Backend = "memory"
		s.Entries = b.Len()
	case *RedisBackend:
		s.Backend = "redis"
	}
	return s
}

// Sweeper removes expired entries every interval until ctx is done.
// Lookups evict lazily, so running it is optional.
func (c *Cache) Sweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.backend.Sweep(ctx, c.now())
			if err != nil {
				c.logger.Warn("cache sweep failed", "error", err)
				continue
			}
			if n > 0 {
				c.logger.Debug("cache sweep removed expired entries", "count", n)
			}
		}
	}
}

func (c *Cache) Close() error {
	return c.backend.Close()
}
