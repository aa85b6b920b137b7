package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return mr, rdb
}

func TestConnect(t *testing.T) {
	t.Parallel()

	mr, _ := newTestRedis(t)

	rdb, err := Connect(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	require.NoError(t, rdb.Close())

	_, err = Connect(context.Background(), "not-a-url")
	require.Error(t, err)
}

func TestRefreshCache_RememberAndGet(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)
	c := NewRefreshCache(rdb, "vh:")
	ctx := context.Background()
	uid := uuid.New()

	_, ok, err := c.Get(ctx, "h1")
	require.NoError(t, err)
	require.False(t, ok)

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, c.Remember(ctx, "h1", &RefreshEntry{UserID: uid, ExpiresAt: exp}))

	e, ok, err := c.Get(ctx, "h1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uid, e.UserID)
	require.False(t, e.Revoked)
	require.True(t, e.ExpiresAt.Equal(exp))

	require.True(t, mr.Exists("vh:rt:h1"))
	require.Greater(t, mr.TTL("vh:rt:h1"), time.Duration(0))
}

func TestRefreshCache_RememberSkipsExpired(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)
	c := NewRefreshCache(rdb, "vh:")

	require.NoError(t, c.Remember(context.Background(), "old", &RefreshEntry{UserID: uuid.New(), ExpiresAt: time.Now().Add(-time.Second)}))
	require.False(t, mr.Exists("vh:rt:old"))
}

func TestRefreshCache_RevokedIsNotOverwritten(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedis(t)
	c := NewRefreshCache(rdb, "vh:")
	ctx := context.Background()
	uid := uuid.New()

	require.NoError(t, c.MarkRevoked(ctx, "h1", uid, time.Hour))
	require.NoError(t, c.Remember(ctx, "h1", &RefreshEntry{UserID: uid, ExpiresAt: time.Now().Add(time.Hour)}))

	e, ok, err := c.Get(ctx, "h1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, e.Revoked)
}

func TestRefreshCache_MarkRevokedOverwritesActive(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedis(t)
	c := NewRefreshCache(rdb, "vh:")
	ctx := context.Background()
	uid := uuid.New()

	require.NoError(t, c.Remember(ctx, "h1", &RefreshEntry{UserID: uid, ExpiresAt: time.Now().Add(time.Hour)}))
	require.NoError(t, c.MarkRevoked(ctx, "h1", uid, time.Hour))

	e, ok, err := c.Get(ctx, "h1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, e.Revoked)
}

func TestRefreshCache_MalformedValue(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)
	c := NewRefreshCache(rdb, "vh:")

	require.NoError(t, mr.Set("vh:rt:bad", "garbage"))

	_, ok, err := c.Get(context.Background(), "bad")
	require.Error(t, err)
	require.False(t, ok)
}

func TestRefreshCache_Unavailable(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)
	c := NewRefreshCache(rdb, "vh:")
	mr.Close()

	_, _, err := c.Get(context.Background(), "h1")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestAttemptLog_SlidingWindow(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)
	l := NewAttemptLog(rdb, "vh:", 15*time.Minute)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, l.RecordLoginAttempt(ctx, "User@Example.com", now.Add(-20*time.Minute)))
	require.NoError(t, l.RecordLoginAttempt(ctx, "user@example.com", now.Add(-time.Minute)))
	require.NoError(t, l.RecordLoginAttempt(ctx, "user@example.com", now))

	n, err := l.CountLoginAttempts(ctx, "USER@example.com", now.Add(-15*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// запись старше окна вычищена при последующих вставках.
	members, err := mr.ZMembers("vh:login:user@example.com")
	require.NoError(t, err)
	require.Len(t, members, 2)

	require.NoError(t, l.ClearLoginAttempts(ctx, "user@example.com"))
	n, err = l.CountLoginAttempts(ctx, "user@example.com", now.Add(-time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestAttemptLog_SameInstantCountedTwice(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedis(t)
	l := NewAttemptLog(rdb, "vh:", time.Minute)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, l.RecordLoginAttempt(ctx, "a@example.com", now))
	require.NoError(t, l.RecordLoginAttempt(ctx, "a@example.com", now))

	n, err := l.CountLoginAttempts(ctx, "a@example.com", now)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
