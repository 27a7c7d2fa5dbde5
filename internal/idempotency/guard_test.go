package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/richardliu001/eventkernel/internal/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memoryCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	ttls   map[string]time.Duration
	getErr error
	setErr error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memoryCache) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.data[key] = val
	c.ttls[key] = ttl
	return nil
}

type receipt struct {
	N int `json:"n"`
}

func counterFn(calls *int) func(context.Context) (any, error) {
	return func(context.Context) (any, error) {
		*calls++
		return receipt{N: *calls}, nil
	}
}

func TestKey_StableAndTypeScoped(t *testing.T) {
	assert.Equal(t, Key("deposit", "k1"), Key("deposit", "k1"))
	assert.NotEqual(t, Key("deposit", "k1"), Key("withdraw", "k1"))
	assert.NotEqual(t, Key("ab", "c"), Key("a", "bc"))
	assert.Len(t, Key("deposit", string(make([]byte, 4096))), len(keyPrefix)+64)
}

func TestGuard_SameKeyRunsOnce(t *testing.T) {
	cache := newMemoryCache()
	g := NewGuard(cache, Options{}, zap.NewNop().Sugar())
	ctx := context.Background()
	calls := 0

	first, err := g.Do(ctx, "deposit", "key-1", counterFn(&calls))
	require.NoError(t, err)
	second, err := g.Do(ctx, "deposit", "key-1", counterFn(&calls))
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.JSONEq(t, `{"n":1}`, string(first))
	assert.Equal(t, first, second)
	assert.Equal(t, DefaultTTL, cache.ttls[Key("deposit", "key-1")])
}

func TestGuard_DifferentCommandTypesDoNotCollide(t *testing.T) {
	cache := newMemoryCache()
	g := NewGuard(cache, Options{TTL: time.Minute}, zap.NewNop().Sugar())
	ctx := context.Background()
	calls := 0

	a, err := g.Do(ctx, "deposit", "shared", counterFn(&calls))
	require.NoError(t, err)
	b, err := g.Do(ctx, "withdraw", "shared", counterFn(&calls))
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
	assert.NotEqual(t, a, b)
	assert.Len(t, cache.data, 2)
}

func TestGuard_ErrorsAreNotCached(t *testing.T) {
	cache := newMemoryCache()
	g := NewGuard(cache, Options{}, zap.NewNop().Sugar())
	boom := errors.New("insufficient funds")

	_, err := g.Do(context.Background(), "withdraw", "k", func(context.Context) (any, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, cache.data)
}

func TestGuard_EmptyKeyBypassesCache(t *testing.T) {
	cache := newMemoryCache()
	g := NewGuard(cache, Options{}, zap.NewNop().Sugar())
	calls := 0
	for i := 0; i < 2; i++ {
		_, err := g.Do(context.Background(), "deposit", "", counterFn(&calls))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls)
	assert.Empty(t, cache.data)
}

func TestGuard_CacheDownStrict(t *testing.T) {
	cache := newMemoryCache()
	cache.getErr = errors.New("connection refused")
	g := NewGuard(cache, Options{Strict: true}, zap.NewNop().Sugar())
	calls := 0

	_, err := g.Do(context.Background(), "deposit", "k", counterFn(&calls))
	assert.ErrorIs(t, err, ErrCacheUnavailable)
	assert.Zero(t, calls)
}

func TestGuard_CacheDownLenient(t *testing.T) {
	cache := newMemoryCache()
	cache.getErr = errors.New("connection refused")
	g := NewGuard(cache, Options{}, zap.NewNop().Sugar())
	calls := 0

	out, err := g.Do(context.Background(), "deposit", "k", counterFn(&calls))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.JSONEq(t, `{"n":1}`, string(out))
}

func TestGuard_SetFailureStillReturnsResult(t *testing.T) {
	cache := newMemoryCache()
	cache.setErr = errors.New("readonly replica")
	g := NewGuard(cache, Options{Strict: true}, zap.NewNop().Sugar())
	calls := 0

	out, err := g.Do(context.Background(), "deposit", "k", counterFn(&calls))
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(out))
}

type payCmd struct{ key string }

func (payCmd) CommandType() string      { return "pay" }
func (c payCmd) IdempotencyKey() string { return c.key }

type plainCmd struct{}

func (plainCmd) CommandType() string { return "plain" }

func TestGuard_Middleware(t *testing.T) {
	g := NewGuard(newMemoryCache(), Options{}, zap.NewNop().Sugar())
	calls := 0
	h := command.Chain(func(context.Context, command.Command) (any, error) {
		calls++
		return receipt{N: calls}, nil
	}, g.Middleware())
	ctx := context.Background()

	r1, err := h(ctx, payCmd{key: "abc"})
	require.NoError(t, err)
	r2, err := h(ctx, payCmd{key: "abc"})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, r1, r2)

	got, err := command.Decode[receipt](r2)
	require.NoError(t, err)
	assert.Equal(t, 1, got.N)

	_, err = h(ctx, plainCmd{})
	require.NoError(t, err)
	_, err = h(ctx, payCmd{})
	require.NoError(t, err)
	assert.Equal(t, 3, calls, "unkeyed commands always run")
}

func TestRedisCache(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := NewRedisCache(rdb)
	ctx := context.Background()

	mock.ExpectGet("idem:miss").RedisNil()
	_, found, err := c.Get(ctx, "idem:miss")
	require.NoError(t, err)
	assert.False(t, found)

	mock.ExpectSet("idem:hit", []byte(`{"n":1}`), time.Hour).SetVal("OK")
	require.NoError(t, c.Set(ctx, "idem:hit", []byte(`{"n":1}`), time.Hour))

	mock.ExpectGet("idem:hit").SetVal(`{"n":1}`)
	val, found, err := c.Get(ctx, "idem:hit")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"n":1}`, string(val))

	mock.ExpectGet("idem:down").SetErr(errors.New("dial tcp: refused"))
	_, _, err = c.Get(ctx, "idem:down")
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}
