package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pribylovaa/volunteer-hub/internal/models"
	"github.com/pribylovaa/volunteer-hub/internal/pkg/log"
	"github.com/pribylovaa/volunteer-hub/internal/storage"
)

// IssueCSRFToken выпускает одноразовый токен (256 бит, hex) со сроком CSRFTTL.
// owner == nil — токен без владельца.
func (s *Store) IssueCSRFToken(ctx context.Context, owner *uuid.UUID) (string, error) {
	const op = "credentials.IssueCSRFToken"

	raw := randomHex(csrfTokenBytes)
	now := s.now().UTC()

	t := &models.CSRFToken{
		TokenHash: HashToken(raw),
		OwnerID:   owner,
		ExpiresAt: now.Add(s.cfg.CSRFTTL),
	}

	if err := s.storage.SaveCSRFToken(ctx, t, now); err != nil {
		log.From(ctx).Error("save_csrf_token_failed",
			slog.String("op", op),
			log.Err(err),
		)
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return raw, nil
}

// ValidateAndConsumeCSRFToken атомарно потребляет токен.
// true возвращается не более одного раза на токен.
// Токен с владельцем принимается только от этого владельца; токен без
// владельца от аутентифицированного пользователя принимается лишь при
// AllowAnonymousCSRF, и это всегда попадает в лог.
func (s *Store) ValidateAndConsumeCSRFToken(ctx context.Context, raw string, owner *uuid.UUID) (bool, error) {
	const op = "credentials.ValidateAndConsumeCSRFToken"

	if raw == "" {
		return false, nil
	}

	t, err := s.storage.ConsumeCSRFToken(ctx, HashToken(raw), owner, s.cfg.AllowAnonymousCSRF, s.now().UTC())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}

		return false, fmt.Errorf("%s: %w", op, err)
	}

	if t.OwnerID == nil && owner != nil {
		log.From(ctx).Warn("csrf_anonymous_token_accepted",
			slog.String("user_id", owner.String()),
		)
	}

	return true, nil
}
