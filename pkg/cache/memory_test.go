package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryCacheExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)}
	mc := NewMemoryCache(WithMemoryClock(clock.Now))
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "quote:AAPL", []byte("v1"), time.Minute))

	got, err := mc.Get(ctx, "quote:AAPL")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	clock.Advance(61 * time.Second)
	_, err = mc.Get(ctx, "quote:AAPL")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Equal(t, 0, mc.Len())
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "a", []byte("1"), time.Hour))
	require.NoError(t, mc.Set(ctx, "b", []byte("2"), time.Hour))
	_, err := mc.Get(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, mc.Set(ctx, "c", []byte("3"), time.Hour))

	_, err = mc.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = mc.Get(ctx, "a")
	assert.NoError(t, err)
	_, err = mc.Get(ctx, "c")
	assert.NoError(t, err)
}

func TestMemoryCacheReturnsCopies(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	in := []byte("abc")
	require.NoError(t, mc.Set(ctx, "k", in, time.Hour))
	in[0] = 'x'

	out, err := mc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(out))
	out[0] = 'y'

	again, _ := mc.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestMemoryCacheDeleteByPrefix(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "quote:AAPL", []byte("1"), time.Hour))
	require.NoError(t, mc.Set(ctx, "quote:MSFT", []byte("1"), time.Hour))
	require.NoError(t, mc.Set(ctx, "history:AAPL", []byte("1"), time.Hour))

	require.NoError(t, mc.DeleteByPrefix(ctx, "quote:"))

	_, err := mc.Get(ctx, "quote:AAPL")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = mc.Get(ctx, "history:AAPL")
	assert.NoError(t, err)
}

func TestMemoryCacheLock(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	mc := NewMemoryCache(WithMemoryClock(clock.Now), WithMemoryMaxSize(1))
	defer mc.Close()
	ctx := context.Background()

	ok, err := mc.TryLock(ctx, "portfolio:p1", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	// filling the cache must not evict the lock
	require.NoError(t, mc.Set(ctx, "a", []byte("1"), time.Hour))
	require.NoError(t, mc.Set(ctx, "b", []byte("1"), time.Hour))

	ok, _ = mc.TryLock(ctx, "portfolio:p1", 10*time.Second)
	assert.False(t, ok)

	clock.Advance(11 * time.Second)
	ok, _ = mc.TryLock(ctx, "portfolio:p1", 10*time.Second)
	assert.True(t, ok, "expired lock is reacquirable")

	require.NoError(t, mc.Unlock(ctx, "portfolio:p1"))
	ok, _ = mc.TryLock(ctx, "portfolio:p1", 10*time.Second)
	assert.True(t, ok)
}

func TestGenerateKeyWithParams(t *testing.T) {
	assert.Equal(t, "history:AAPL:D", GenerateKeyWithParams("history", "AAPL", "D"))
	assert.Equal(t, "quote:AAPL", GenerateKeyWithParams("quote", "AAPL", ""))
	assert.Len(t, HashKey("x"), 32)
}
