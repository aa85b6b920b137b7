package credentials

import (
	"context"
	"errors"
	"fmt"
)

// SweepResult — сколько записей удалил очередной проход janitor.
type SweepResult struct {
	RefreshTokens int64
	CSRFTokens    int64
	LoginAttempts int64
}

// SweepExpired удаляет просроченные refresh- и CSRF-токены, а также
// попытки входа старше AttemptRetention. Ошибки отдельных таблиц не
// прерывают проход и возвращаются вместе.
func (s *Store) SweepExpired(ctx context.Context) (SweepResult, error) {
	const op = "credentials.SweepExpired"

	var (
		res  SweepResult
		errs []error
		err  error
	)

	now := s.now().UTC()

	if res.RefreshTokens, err = s.storage.DeleteExpiredRefreshTokens(ctx, now); err != nil {
		errs = append(errs, err)
	}

	if res.CSRFTokens, err = s.storage.DeleteExpiredCSRFTokens(ctx, now); err != nil {
		errs = append(errs, err)
	}

	if s.cfg.AttemptRetention > 0 {
		if res.LoginAttempts, err = s.storage.DeleteLoginAttemptsBefore(ctx, now.Add(-s.cfg.AttemptRetention)); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return res, fmt.Errorf("%s: %w", op, errors.Join(errs...))
	}

	return res, nil
}
