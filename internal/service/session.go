package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/pribylovaa/volunteer-hub/internal/models"
	"github.com/pribylovaa/volunteer-hub/internal/pkg/log"
	"github.com/pribylovaa/volunteer-hub/internal/storage"
	"github.com/pribylovaa/volunteer-hub/internal/token"
)

// Refresh выпускает новый access-токен по действующему refresh-токену.
// Без ротации RefreshToken в результате пуст: предъявленный токен остаётся в силе.
func (s *Service) Refresh(ctx context.Context, rawRefresh string) (*models.TokenPair, error) {
	const op = "service.Refresh"

	lg := log.From(ctx)

	claims, uid, err := s.parse(rawRefresh, token.UseRefresh)
	if err != nil {
		lg.Info("refresh_token_invalid", slog.String("op", op))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ok, err := s.creds.IsValidRefreshCredential(ctx, uid, rawRefresh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !ok {
		lg.Warn("refresh_token_not_stored",
			slog.String("op", op),
			slog.String("user_id", uid.String()),
		)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	// Роль берётся из актуальной записи, а не из claims.
	role := models.Role(claims.Role)
	user, err := s.creds.UserByID(ctx, uid)
	switch {
	case err == nil:
		role = user.Role
	case errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	default:
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	next := token.Claims{UserID: uid.String(), Role: string(role), Use: token.UseAccess}
	access, accessExp, err := s.codec.Issue(next, s.cfg.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pair := &models.TokenPair{AccessToken: access, AccessExpiresAt: accessExp}

	if s.cfg.RotateRefresh {
		if err := s.rotate(ctx, uid, rawRefresh, next, pair); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	lg.Info("refresh_succeeded",
		slog.String("user_id", uid.String()),
		slog.Bool("rotated", s.cfg.RotateRefresh),
	)

	return pair, nil
}

// rotate выпускает и сохраняет новый refresh-токен, затем потребляет
// предъявленный. Если предъявленный уже потреблён конкурентным обновлением,
// новый отзывается и возвращается ErrInvalidToken. При ошибке сохранения
// нового токена предъявленный остаётся в силе.
func (s *Service) rotate(ctx context.Context, uid uuid.UUID, rawRefresh string, claims token.Claims, pair *models.TokenPair) error {
	lg := log.From(ctx)

	claims.Use = token.UseRefresh
	refresh, refreshExp, err := s.codec.Issue(claims, s.cfg.RefreshTTL)
	if err != nil {
		return err
	}

	if err := s.creds.StoreRefreshCredential(ctx, uid, refresh); err != nil {
		return err
	}

	consumed, err := s.creds.ConsumeRefreshCredential(ctx, uid, rawRefresh)
	if err != nil || !consumed {
		if rerr := s.creds.RevokeRefreshCredential(ctx, uid, refresh); rerr != nil {
			lg.Error("refresh_rotation_rollback_failed",
				slog.String("user_id", uid.String()),
				log.Err(rerr),
			)
		}
		if err != nil {
			return err
		}

		lg.Warn("refresh_token_replayed", slog.String("user_id", uid.String()))
		return ErrInvalidToken
	}

	pair.RefreshToken = refresh
	pair.RefreshExpiresAt = refreshExp

	return nil
}

// Logout отзывает refresh-токен, если он предъявлен и проходит проверку.
// Никогда не завершается ошибкой: клиент всегда может закончить сессию.
func (s *Service) Logout(ctx context.Context, rawRefresh string) {
	const op = "service.Logout"

	if rawRefresh == "" {
		return
	}

	lg := log.From(ctx)

	_, uid, err := s.parse(rawRefresh, token.UseRefresh)
	if err != nil {
		lg.Debug("logout_token_ignored", slog.String("op", op))
		return
	}

	if err := s.creds.RevokeRefreshCredential(ctx, uid, rawRefresh); err != nil {
		lg.Error("logout_revoke_failed",
			slog.String("op", op),
			slog.String("user_id", uid.String()),
			log.Err(err),
		)
		return
	}

	lg.Info("logout_succeeded", slog.String("user_id", uid.String()))
}

// LogoutAll отзывает все refresh-токены пользователя («выйти везде»).
func (s *Service) LogoutAll(ctx context.Context, userID uuid.UUID) (int, error) {
	const op = "service.LogoutAll"

	n, err := s.creds.RevokeAllRefreshCredentials(ctx, userID)
	if err != nil {
		log.From(ctx).Error("logout_all_failed",
			slog.String("op", op),
			slog.String("user_id", userID.String()),
			log.Err(err),
		)
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("logout_all_succeeded",
		slog.String("user_id", userID.String()),
		slog.Int("revoked", n),
	)

	return n, nil
}

// VerifyToken проверяет access-токен без побочных эффектов.
func (s *Service) VerifyToken(_ context.Context, rawAccess string) Verification {
	claims, uid, err := s.parse(rawAccess, token.UseAccess)
	if err != nil {
		return Verification{}
	}

	return Verification{Valid: true, UserID: uid, Role: models.Role(claims.Role)}
}

// Authenticate проверяет access-токен и возвращает его claims.
func (s *Service) Authenticate(_ context.Context, rawAccess string) (*token.Claims, error) {
	const op = "service.Authenticate"

	claims, _, err := s.parse(rawAccess, token.UseAccess)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return claims, nil
}

// Authorize разрешает операцию, если роль из claims входит в roles.
func Authorize(claims *token.Claims, roles ...models.Role) error {
	const op = "service.Authorize"

	if claims == nil {
		return fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	if !slices.Contains(roles, models.Role(claims.Role)) {
		return fmt.Errorf("%s: %w", op, ErrForbidden)
	}

	return nil
}

// CSRFToken выдаёт одноразовый CSRF-токен, привязанный к owner (или без владельца).
func (s *Service) CSRFToken(ctx context.Context, owner *uuid.UUID) (string, error) {
	const op = "service.CSRFToken"

	tok, err := s.creds.IssueCSRFToken(ctx, owner)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return tok, nil
}

// ValidateCSRF потребляет CSRF-токен. true возвращается не более одного раза.
func (s *Service) ValidateCSRF(ctx context.Context, raw string, owner *uuid.UUID) (bool, error) {
	const op = "service.ValidateCSRF"

	ok, err := s.creds.ValidateAndConsumeCSRFToken(ctx, raw, owner)
	if err != nil {
		log.From(ctx).Error("csrf_validate_failed",
			slog.String("op", op),
			log.Err(err),
		)
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return ok, nil
}

// parse проверяет токен нужного назначения и извлекает идентификатор пользователя.
func (s *Service) parse(raw, use string) (*token.Claims, uuid.UUID, error) {
	if raw == "" {
		return nil, uuid.Nil, ErrInvalidToken
	}

	claims, err := s.codec.VerifyUse(raw, use)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	uid, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, uuid.Nil, ErrInvalidToken
	}

	return claims, uid, nil
}
