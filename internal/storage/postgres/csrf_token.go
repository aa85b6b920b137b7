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

// SaveCSRFToken удаляет просроченные токены и сохраняет новый.
func (s *Storage) SaveCSRFToken(ctx context.Context, token *models.CSRFToken, now time.Time) error {
	const op = "storage.postgres.SaveCSRFToken"

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM csrf_tokens WHERE expires_at <= $1`, now); err != nil {
			return err
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO csrf_tokens(token_hash, user_id, expires_at) VALUES ($1, $2, $3)`,
			token.TokenHash, token.OwnerID, token.ExpiresAt,
		)
		return err
	})

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// ConsumeCSRFToken атомарно удаляет подходящий токен одним DELETE ... RETURNING.
func (s *Storage) ConsumeCSRFToken(ctx context.Context, hash string, owner *uuid.UUID, allowAnonymous bool, now time.Time) (*models.CSRFToken, error) {
	const op = "storage.postgres.ConsumeCSRFToken"

	query := `
		DELETE FROM csrf_tokens
		WHERE token_hash = $1
		  AND expires_at > $2
		  AND (
		        user_id = $3
		     OR (user_id IS NULL AND ($3::uuid IS NULL OR $4))
		  )
		RETURNING token_hash, user_id, expires_at
	`

	var token models.CSRFToken
	err := s.db.QueryRow(ctx, query, hash, now, owner, allowAnonymous).Scan(
		&token.TokenHash,
		&token.OwnerID,
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

// DeleteExpiredCSRFTokens удаляет все просроченные CSRF-токены.
func (s *Storage) DeleteExpiredCSRFTokens(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.postgres.DeleteExpiredCSRFTokens"

	tag, err := s.db.Exec(ctx, `DELETE FROM csrf_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}
