// ratelimit ограничивает число неудачных попыток входа по identity (email)
// в скользящем окне.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AttemptStore — журнал попыток. Реализуется PostgreSQL, памятью и Redis.
type AttemptStore interface {
	RecordLoginAttempt(ctx context.Context, identity string, at time.Time) error
	CountLoginAttempts(ctx context.Context, identity string, since time.Time) (int, error)
	ClearLoginAttempts(ctx context.Context, identity string) error
}

// Config — параметры окна.
type Config struct {
	MaxAttempts int
	Window      time.Duration
}

// Limiter — ограничитель. Не хранит состояния вне AttemptStore.
type Limiter struct {
	store AttemptStore
	cfg   Config
	now   func() time.Time
}

// New создаёт Limiter. now == nil означает time.Now.
func New(store AttemptStore, cfg Config, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}

	return &Limiter{store: store, cfg: cfg, now: now}
}

func normalize(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// IsAllowed сообщает, что число попыток за окно меньше MaxAttempts.
// Ошибка журнала возвращается как есть: вызывающий трактует её как отказ.
func (l *Limiter) IsAllowed(ctx context.Context, identity string) (bool, error) {
	const op = "ratelimit.IsAllowed"

	n, err := l.store.CountLoginAttempts(ctx, normalize(identity), l.now().Add(-l.cfg.Window))
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return n < l.cfg.MaxAttempts, nil
}

// RecordFailure добавляет неудачную попытку с текущим временем.
func (l *Limiter) RecordFailure(ctx context.Context, identity string) error {
	const op = "ratelimit.RecordFailure"

	if err := l.store.RecordLoginAttempt(ctx, normalize(identity), l.now()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Clear сбрасывает журнал после успешного входа.
func (l *Limiter) Clear(ctx context.Context, identity string) error {
	const op = "ratelimit.Clear"

	if err := l.store.ClearLoginAttempts(ctx, normalize(identity)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
