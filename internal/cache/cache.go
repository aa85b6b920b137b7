// cache — Redis-слой: кэш проверок refresh-токенов и журнал попыток входа.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrUnavailable — Redis не ответил; вызывающий решает, куда откатиться.
var ErrUnavailable = errors.New("redis unavailable")

// Connect создаёт клиент Redis из URL (например, redis://:pass@host:6379/0)
// и проверяет соединение.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	const op = "cache.Connect"

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rdb := redis.NewClient(opt)

	// Fail-fast на старте.
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return rdb, nil
}

// RefreshEntry описывает то, что известно о refresh-токене по его хэшу.
type RefreshEntry struct {
	UserID    uuid.UUID
	Revoked   bool
	ExpiresAt time.Time
}

// RefreshCache — контракт кэша refresh-токенов.
type RefreshCache interface {
	// Get возвращает запись и признак её наличия в кэше.
	Get(ctx context.Context, hash string) (*RefreshEntry, bool, error)
	// Remember сохраняет активную запись, только если ключа ещё нет:
	// отметка об отзыве никогда не перезаписывается.
	Remember(ctx context.Context, hash string, e *RefreshEntry) error
	// MarkRevoked безусловно записывает revoked=true на ttl.
	MarkRevoked(ctx context.Context, hash string, userID uuid.UUID, ttl time.Duration) error
}

type redisRefreshCache struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRefreshCache создаёт кэш поверх клиента. Ключи: <prefix>rt:<hash>.
func NewRefreshCache(rdb redis.UniversalClient, prefix string) RefreshCache {
	return &redisRefreshCache{rdb: rdb, prefix: prefix + "rt:", now: time.Now}
}

func (c *redisRefreshCache) key(hash string) string { return c.prefix + hash }

// Значение хранится строкой "uid|rev|exp_unix".
func (c *redisRefreshCache) Get(ctx context.Context, hash string) (*RefreshEntry, bool, error) {
	v, err := c.rdb.Get(ctx, c.key(hash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	e, err := decodeEntry(v)
	if err != nil {
		return nil, false, err
	}

	return e, true, nil
}

func (c *redisRefreshCache) Remember(ctx context.Context, hash string, e *RefreshEntry) error {
	ttl := e.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		return nil
	}

	if err := c.rdb.SetNX(ctx, c.key(hash), encodeEntry(e), ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return nil
}

func (c *redisRefreshCache) MarkRevoked(ctx context.Context, hash string, userID uuid.UUID, ttl time.Duration) error {
	e := &RefreshEntry{UserID: userID, Revoked: true, ExpiresAt: c.now().Add(ttl)}

	if err := c.rdb.Set(ctx, c.key(hash), encodeEntry(e), ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return nil
}

func encodeEntry(e *RefreshEntry) string {
	return e.UserID.String() + "|" + boolTo01(e.Revoked) + "|" + strconv.FormatInt(e.ExpiresAt.Unix(), 10)
}

func decodeEntry(v string) (*RefreshEntry, error) {
	parts := strings.Split(v, "|")
	if len(parts) != 3 {
		return nil, fmt.Errorf("cache: malformed refresh entry")
	}

	uid, err := uuid.Parse(parts[0])
	if err != nil {
		return nil, fmt.Errorf("cache: malformed refresh entry: %w", err)
	}

	exp, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("cache: malformed refresh entry: %w", err)
	}

	return &RefreshEntry{
		UserID:    uid,
		Revoked:   parts[1] == "1",
		ExpiresAt: time.Unix(exp, 0).UTC(),
	}, nil
}

func boolTo01(b bool) string {
	if b {
		return "1"
	}

	return "0"
}
