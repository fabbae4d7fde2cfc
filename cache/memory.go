package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrMiss is returned by backends when no live entry exists.
var ErrMiss = errors.New("cache: miss")

// Entry is a stored response.
type Entry struct {
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Backend stores entries. Get must never return an entry that is expired
// at now.
type Backend interface {
	Get(ctx context.Context, key string, now time.Time) (Entry, error)
	Set(ctx context.Context, e Entry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	// Sweep removes expired entries and reports how many it removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
	Close() error
}

// MemoryBackend keeps entries in process memory. Concurrent writers of
// the same key race and the last one wins.
type MemoryBackend struct {
	entries sync.Map // string -> *Entry
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) Get(_ context.Context, key string, now time.Time) (Entry, error) {
	v, ok := m.entries.Load(key)
	if !ok {
		return Entry{}, ErrMiss
	}
	e := v.(*Entry)
	if e.Expired(now) {
		m.entries.CompareAndDelete(key, v)
		return Entry{}, ErrMiss
	}
	return *e, nil
}

func (m *MemoryBackend) Set(_ context.Context, e Entry) error {
	m.entries.Store(e.Key, &e)
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.entries.Delete(key)
	return nil
}

func (m *MemoryBackend) Clear(_ context.Context) error {
	m.entries.Clear()
	return nil
}

func (m *MemoryBackend) Sweep(_ context.Context, now time.Time) (int, error) {
	removed := 0
	m.entries.Range(func(k, v any) bool {
		if v.(*Entry).Expired(now) && m.entries.CompareAndDelete(k, v) {
			removed++
		}
		return true
	})
	return removed, nil
}

// Len counts stored entries, including expired ones not yet evicted.
func (m *MemoryBackend) Len() int {
	n := 0
	m.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (m *MemoryBackend) Close() error {
	return nil
}
