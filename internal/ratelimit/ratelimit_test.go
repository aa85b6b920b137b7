package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/volunteer-hub/internal/cache"
	"github.com/pribylovaa/volunteer-hub/internal/storage/memory"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func testCfg() Config {
	return Config{MaxAttempts: 5, Window: 15 * time.Minute}
}

func TestLimiter_FifthFailureBlocks(t *testing.T) {
	t.Parallel()

	clk := &clock{t: time.Now()}
	l := New(memory.New(), testCfg(), clk.Now)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, l.RecordFailure(ctx, "a@example.com"))
		clk.Advance(time.Second)
	}

	ok, err := l.IsAllowed(ctx, "a@example.com")
	require.NoError(t, err)
	require.True(t, ok, "4 failures must still allow")

	require.NoError(t, l.RecordFailure(ctx, "A@Example.com "))

	ok, err = l.IsAllowed(ctx, "a@example.com")
	require.NoError(t, err)
	require.False(t, ok, "5 failures must block")

	// другие identity не затронуты.
	ok, err = l.IsAllowed(ctx, "b@example.com")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLimiter_WindowSlides(t *testing.T) {
	t.Parallel()

	clk := &clock{t: time.Now()}
	l := New(memory.New(), testCfg(), clk.Now)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.RecordFailure(ctx, "a@example.com"))
	}

	ok, err := l.IsAllowed(ctx, "a@example.com")
	require.NoError(t, err)
	require.False(t, ok)

	clk.Advance(15*time.Minute + time.Second)

	ok, err = l.IsAllowed(ctx, "a@example.com")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLimiter_ClearResets(t *testing.T) {
	t.Parallel()

	clk := &clock{t: time.Now()}
	l := New(memory.New(), testCfg(), clk.Now)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.RecordFailure(ctx, "a@example.com"))
	}
	require.NoError(t, l.Clear(ctx, "a@example.com"))

	ok, err := l.IsAllowed(ctx, "a@example.com")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLimiter_RedisBackend(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clk := &clock{t: time.Now()}
	l := New(cache.NewAttemptLog(rdb, "vh:", 15*time.Minute), testCfg(), clk.Now)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.RecordFailure(ctx, "a@example.com"))
		clk.Advance(time.Millisecond)
	}

	ok, err := l.IsAllowed(ctx, "a@example.com")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, l.Clear(ctx, "a@example.com"))
	ok, err = l.IsAllowed(ctx, "a@example.com")
	require.NoError(t, err)
	require.True(t, ok)
}

type failingStore struct{ err error }

func (s failingStore) RecordLoginAttempt(context.Context, string, time.Time) error { return s.err }
func (s failingStore) CountLoginAttempts(context.Context, string, time.Time) (int, error) {
	return 0, s.err
}
func (s failingStore) ClearLoginAttempts(context.Context, string) error { return s.err }

func TestLimiter_StoreErrorsPropagate(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	l := New(failingStore{err: boom}, testCfg(), nil)
	ctx := context.Background()

	ok, err := l.IsAllowed(ctx, "a@example.com")
	require.ErrorIs(t, err, boom)
	require.False(t, ok)

	require.ErrorIs(t, l.RecordFailure(ctx, "a@example.com"), boom)
	require.ErrorIs(t, l.Clear(ctx, "a@example.com"), boom)
}
