package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// AttemptLog — журнал неудачных попыток входа на sorted set:
// score — время попытки в миллисекундах, ключ живёт не дольше окна.
type AttemptLog struct {
	rdb    redis.UniversalClient
	prefix string
	window time.Duration
}

// NewAttemptLog создаёт журнал. Ключи: <prefix>login:<identity>.
func NewAttemptLog(rdb redis.UniversalClient, prefix string, window time.Duration) *AttemptLog {
	return &AttemptLog{rdb: rdb, prefix: prefix + "login:", window: window}
}

func (l *AttemptLog) key(identity string) string {
	return l.prefix + strings.ToLower(identity)
}

// RecordLoginAttempt добавляет попытку и отбрасывает вышедшие из окна.
func (l *AttemptLog) RecordLoginAttempt(ctx context.Context, identity string, at time.Time) error {
	key := l.key(identity)

	var suffix [4]byte
	_, _ = rand.Read(suffix[:])
	member := strconv.FormatInt(at.UnixMilli(), 10) + "-" + hex.EncodeToString(suffix[:])

	pipe := l.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: member})
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(at.Add(-l.window).UnixMilli(), 10))
	pipe.Expire(ctx, key, l.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return nil
}

// CountLoginAttempts считает попытки с момента since.
func (l *AttemptLog) CountLoginAttempts(ctx context.Context, identity string, since time.Time) (int, error) {
	n, err := l.rdb.ZCount(ctx, l.key(identity), strconv.FormatInt(since.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return int(n), nil
}

// ClearLoginAttempts удаляет журнал по identity.
func (l *AttemptLog) ClearLoginAttempts(ctx context.Context, identity string) error {
	if err := l.rdb.Del(ctx, l.key(identity)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return nil
}
