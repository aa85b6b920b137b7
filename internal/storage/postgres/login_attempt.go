package postgres

import (
	"context"
	"fmt"
	"time"
)

// RecordLoginAttempt добавляет неудачную попытку входа.
func (s *Storage) RecordLoginAttempt(ctx context.Context, identity string, at time.Time) error {
	const op = "storage.postgres.RecordLoginAttempt"

	if _, err := s.db.Exec(ctx,
		`INSERT INTO login_attempts(email, attempt_time) VALUES ($1, $2)`,
		identity, at,
	); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// CountLoginAttempts считает попытки в окне [since, ...).
func (s *Storage) CountLoginAttempts(ctx context.Context, identity string, since time.Time) (int, error) {
	const op = "storage.postgres.CountLoginAttempts"

	var n int
	if err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM login_attempts WHERE email = $1 AND attempt_time >= $2`,
		identity, since,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

// ClearLoginAttempts удаляет все попытки по email.
func (s *Storage) ClearLoginAttempts(ctx context.Context, identity string) error {
	const op = "storage.postgres.ClearLoginAttempts"

	if _, err := s.db.Exec(ctx, `DELETE FROM login_attempts WHERE email = $1`, identity); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// DeleteLoginAttemptsBefore удаляет попытки старше before.
func (s *Storage) DeleteLoginAttemptsBefore(ctx context.Context, before time.Time) (int64, error) {
	const op = "storage.postgres.DeleteLoginAttemptsBefore"

	tag, err := s.db.Exec(ctx, `DELETE FROM login_attempts WHERE attempt_time < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}
