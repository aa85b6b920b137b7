package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pribylovaa/volunteer-hub/internal/models"
	"github.com/pribylovaa/volunteer-hub/internal/storage"
)

// SaveRefreshToken в одной транзакции удаляет просроченные токены пользователя
// и сохраняет новый.
func (s *Storage) SaveRefreshToken(ctx context.Context, token *models.RefreshToken, now time.Time) error {
	const op = "storage.postgres.SaveRefreshToken"

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM refresh_tokens WHERE user_id = $1 AND expires_at <= $2`,
			token.UserID, now,
		); err != nil {
			return err
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO refresh_tokens(token_hash, user_id, created_at, expires_at)
			VALUES ($1, $2, $3, $4)
		`,
			token.TokenHash,
			token.UserID,
			token.CreatedAt,
			token.ExpiresAt,
		)
		return err
	})

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgerrcode.UniqueViolation:
				return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
			case pgerrcode.ForeignKeyViolation:
				return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
			}
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// RefreshToken находит непросроченный refresh-токен пользователя по хэшу.
func (s *Storage) RefreshToken(ctx context.Context, userID uuid.UUID, hash string, now time.Time) (*models.RefreshToken, error) {
	const op = "storage.postgres.RefreshToken"

	query := `
		SELECT token_hash, user_id, created_at, expires_at
		FROM refresh_tokens
		WHERE user_id = $1 AND token_hash = $2 AND expires_at > $3
	`

	var token models.RefreshToken
	err := s.db.QueryRow(ctx, query, userID, hash, now).Scan(
		&token.TokenHash,
		&token.UserID,
		&token.CreatedAt,
		&token.ExpiresAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &token, nil
}

// DeleteRefreshToken удаляет refresh-токен пользователя.
func (s *Storage) DeleteRefreshToken(ctx context.Context, userID uuid.UUID, hash string) (bool, error) {
	const op = "storage.postgres.DeleteRefreshToken"

	tag, err := s.db.Exec(ctx,
		`DELETE FROM refresh_tokens WHERE user_id = $1 AND token_hash = $2`,
		userID, hash,
	)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected() > 0, nil
}

// DeleteUserRefreshTokens удаляет все refresh-токены пользователя.
func (s *Storage) DeleteUserRefreshTokens(ctx context.Context, userID uuid.UUID) ([]string, error) {
	const op = "storage.postgres.DeleteUserRefreshTokens"

	rows, err := s.db.Query(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1 RETURNING token_hash`, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	hashes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return hashes, nil
}

// DeleteExpiredRefreshTokens удаляет все просроченные токены.
func (s *Storage) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.postgres.DeleteExpiredRefreshTokens"

	tag, err := s.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}
