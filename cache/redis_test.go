package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := NewRedisBackend(context.Background(), RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b, mr
}

func TestRedisBackend_RoundTrip(t *testing.T) {
	b, mr := newTestRedis(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	e := Entry{Key: "search:v1:abc", Payload: []byte(`{"text":"hi"}`), CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, b.Set(ctx, e))

	assert.True(t, mr.Exists(redisKeyPrefix+"search:v1:abc"))
	assert.Equal(t, time.Hour, mr.TTL(redisKeyPrefix+"search:v1:abc"))

	got, err := b.Get(ctx, "search:v1:abc", now.Add(time.Minute))
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"hi"}`, string(got.Payload))
	assert.True(t, now.Equal(got.CreatedAt))

	_, err = b.Get(ctx, "missing", now)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisBackend_Expiry(t *testing.T) {
	b, mr := newTestRedis(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, b.Set(ctx, Entry{Key: "k", Payload: []byte(`1`), CreatedAt: now, ExpiresAt: now.Add(time.Minute)}))

	_, err := b.Get(ctx, "k", now.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, b.Set(ctx, Entry{Key: "k2", Payload: []byte(`1`), CreatedAt: now, ExpiresAt: now.Add(time.Minute)}))
	mr.FastForward(2 * time.Minute)
	_, err = b.Get(ctx, "k2", now)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisBackend_ClearLeavesOtherKeys(t *testing.T) {
	b, mr := newTestRedis(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, mr.Set("unrelated", "keep"))
	for _, k := range []string{"a", "b"} {
		require.NoError(t, b.Set(ctx, Entry{Key: k, Payload: []byte(`1`), CreatedAt: now, ExpiresAt: now.Add(time.Hour)}))
	}

	require.NoError(t, b.Clear(ctx))
	assert.False(t, mr.Exists(redisKeyPrefix+"a"))
	assert.False(t, mr.Exists(redisKeyPrefix+"b"))
	assert.True(t, mr.Exists("unrelated"))
}

func TestWithCache_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := New(NewRedisBackendFromClient(client))
	defer c.Close()

	calls := 0
	_, first, err := WithCache(context.Background(), c, OpSearch, map[string]string{"query": "q"}, counted(&calls, answer{Text: "v"}))
	require.NoError(t, err)
	assert.False(t, first.Hit)

	v, second, err := WithCache(context.Background(), c, OpSearch, map[string]string{"query": "q"}, counted(&calls, answer{Text: "other"}))
	require.NoError(t, err)
	assert.True(t, second.Hit)
	assert.GreaterOrEqual(t, second.AgeSec, int64(0))
	assert.Equal(t, "v", v.Text)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "redis", c.Stats().Backend)
}

func TestNewRedisBackend_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisBackend(context.Background(), RedisConfig{Addr: addr})
	assert.Error(t, err)
}
