package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pribylovaa/volunteer-hub/internal/cache"
	"github.com/pribylovaa/volunteer-hub/internal/models"
	"github.com/pribylovaa/volunteer-hub/internal/pkg/log"
	"github.com/pribylovaa/volunteer-hub/internal/storage"
)

// StoreRefreshCredential сохраняет хэш refresh-токена со сроком now+RefreshTTL.
// Просроченные записи пользователя удаляются в той же транзакции.
func (s *Store) StoreRefreshCredential(ctx context.Context, userID uuid.UUID, raw string) error {
	const op = "credentials.StoreRefreshCredential"

	now := s.now().UTC()
	rt := &models.RefreshToken{
		TokenHash: HashToken(raw),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.RefreshTTL),
	}

	if err := s.storage.SaveRefreshToken(ctx, rt, now); err != nil {
		log.From(ctx).Error("save_refresh_token_failed",
			slog.String("op", op),
			slog.String("user_id", userID.String()),
			log.Err(err),
		)
		return fmt.Errorf("%s: %w", op, err)
	}

	s.remember(ctx, rt)

	return nil
}

// IsValidRefreshCredential сообщает, что у пользователя есть непросроченная
// запись с хэшем raw. Кэш может только отклонить токен (отозван, чужой,
// просрочен); положительный ответ всегда подтверждается хранилищем, поэтому
// потерянная отметка об отзыве в Redis не оживляет удалённый токен.
func (s *Store) IsValidRefreshCredential(ctx context.Context, userID uuid.UUID, raw string) (bool, error) {
	const op = "credentials.IsValidRefreshCredential"

	lg := log.From(ctx)
	hash := HashToken(raw)
	now := s.now().UTC()

	if s.rcache != nil {
		e, ok, err := s.rcache.Get(ctx, hash)
		switch {
		case err != nil:
			lg.Warn("refresh_cache_get_failed",
				slog.String("op", op),
				log.Err(err),
			)
		case ok && (e.Revoked || e.UserID != userID || !e.ExpiresAt.After(now)):
			return false, nil
		}
	}

	_, err := s.storage.RefreshToken(ctx, userID, hash, now)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}

		lg.Error("refresh_lookup_failed",
			slog.String("op", op),
			log.Err(err),
		)
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return true, nil
}

// RevokeRefreshCredential удаляет запись. Повторный вызов не ошибка.
func (s *Store) RevokeRefreshCredential(ctx context.Context, userID uuid.UUID, raw string) error {
	const op = "credentials.RevokeRefreshCredential"

	if _, err := s.ConsumeRefreshCredential(ctx, userID, raw); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// ConsumeRefreshCredential удаляет запись и сообщает, была ли она.
// Удаление — точка сериализации ротации: из двух конкурентных обновлений
// одного токена true получит только одно.
func (s *Store) ConsumeRefreshCredential(ctx context.Context, userID uuid.UUID, raw string) (bool, error) {
	const op = "credentials.ConsumeRefreshCredential"

	hash := HashToken(raw)

	deleted, err := s.storage.DeleteRefreshToken(ctx, userID, hash)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	s.markRevoked(ctx, userID, hash)

	return deleted, nil
}

// RevokeAllRefreshCredentials удаляет все записи пользователя и возвращает их число.
func (s *Store) RevokeAllRefreshCredentials(ctx context.Context, userID uuid.UUID) (int, error) {
	const op = "credentials.RevokeAllRefreshCredentials"

	hashes, err := s.storage.DeleteUserRefreshTokens(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	for _, h := range hashes {
		s.markRevoked(ctx, userID, h)
	}

	return len(hashes), nil
}

func (s *Store) remember(ctx context.Context, rt *models.RefreshToken) {
	if s.rcache == nil {
		return
	}

	err := s.rcache.Remember(ctx, rt.TokenHash, &cache.RefreshEntry{UserID: rt.UserID, ExpiresAt: rt.ExpiresAt})
	if err != nil {
		log.From(ctx).Warn("refresh_cache_set_failed", log.Err(err))
	}
}

func (s *Store) markRevoked(ctx context.Context, userID uuid.UUID, hash string) {
	if s.rcache == nil {
		return
	}

	if err := s.rcache.MarkRevoked(ctx, hash, userID, s.cfg.RefreshTTL); err != nil {
		log.From(ctx).Error("refresh_cache_revoke_failed",
			slog.String("user_id", userID.String()),
			log.Err(err),
		)
	}
}
