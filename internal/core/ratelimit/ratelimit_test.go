package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Rehearsal/internal/core/logger"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func exerciseWindow(t *testing.T, l Limiter, clk *clock) {
	t.Helper()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "evaluate:s1", 3, time.Hour)
		require.NoError(t, err)
		require.True(t, d.Allowed, "call %d", i+1)
		assert.Equal(t, 2-i, d.Remaining)
		clk.advance(time.Minute)
	}

	d, err := l.Allow(ctx, "evaluate:s1", 3, time.Hour)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 57*time.Minute, d.RetryAfter)

	other, err := l.Allow(ctx, "evaluate:s2", 3, time.Hour)
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys are independent")

	// the first event leaves the window
	clk.advance(57 * time.Minute)
	d, err = l.Allow(ctx, "evaluate:s1", 3, time.Hour)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiterSlidingWindow(t *testing.T) {
	clk := &clock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	l := NewInMemory()
	l.now = clk.now
	exerciseWindow(t, l, clk)
}

func TestMemorySweepKeepsEachKeysWindow(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	l := NewInMemory()
	l.now = clk.now

	d, err := l.Allow(ctx, "evaluate:s1", 1, time.Hour)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	clk.advance(time.Minute)
	l.calls = sweepEvery - 1
	d, err = l.Allow(ctx, "login:ip", 5, time.Second)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	assert.Contains(t, l.events, "evaluate:s1", "an hourly key outlives a one-second sweep")

	d, err = l.Allow(ctx, "evaluate:s1", 1, time.Hour)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 59*time.Minute, d.RetryAfter)

	// quiet keys still go
	clk.advance(2 * time.Hour)
	l.calls = sweepEvery - 1
	_, err = l.Allow(ctx, "login:ip", 5, time.Second)
	require.NoError(t, err)
	assert.NotContains(t, l.events, "evaluate:s1")
}

func TestRedisLimiterSlidingWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clk := &clock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	l := NewRedis(rdb)
	l.now = clk.now
	exerciseWindow(t, l, clk)
}

func TestRejectsNonPositiveLimit(t *testing.T) {
	_, err := NewInMemory().Allow(context.Background(), "k", 0, time.Hour)
	assert.Error(t, err)
}

func TestOpenFallsBackToMemory(t *testing.T) {
	l, closeFn := Open(context.Background(), "", logger.NewNop())
	assert.IsType(t, &MemoryLimiter{}, l)
	assert.NoError(t, closeFn())

	l, closeFn = Open(context.Background(), "redis://127.0.0.1:1/0", logger.NewNop())
	assert.IsType(t, &MemoryLimiter{}, l)
	assert.NoError(t, closeFn())
}
