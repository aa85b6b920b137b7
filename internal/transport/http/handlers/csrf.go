package handlers

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/pribylovaa/volunteer-hub/internal/pkg/log"
	"github.com/pribylovaa/volunteer-hub/internal/service"
	"github.com/pribylovaa/volunteer-hub/internal/transport/http/apierrors"
	"github.com/pribylovaa/volunteer-hub/internal/transport/http/middleware"
)

type csrfResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
}

// CSRF обрабатывает GET /csrf?user_id=<optional>.
//
// Владелец токена определяется только по действительному access-токену.
// Недействительный access-токен даёт анонимный токен. user_id лишь уточняет
// ожидание клиента: без аутентификации это 401, при расхождении 403.
func (h *Handlers) CSRF(w http.ResponseWriter, r *http.Request) {
	var owner *uuid.UUID

	if raw := middleware.AccessToken(r); raw != "" {
		claims, err := h.svc.Authenticate(r.Context(), raw)
		if err == nil {
			if id, perr := uuid.Parse(claims.UserID); perr == nil {
				owner = &id
			}
		} else {
			log.From(r.Context()).Debug("csrf_owner_unauthenticated", log.Err(err))
		}
	}

	if q := r.URL.Query().Get("user_id"); q != "" {
		want, err := uuid.Parse(q)
		if err != nil {
			apierrors.WriteError(w, r, fmt.Errorf("%w: user_id", apierrors.ErrBadRequest))
			return
		}

		if owner == nil {
			apierrors.WriteError(w, r, service.ErrInvalidToken)
			return
		}

		if want != *owner {
			apierrors.WriteError(w, r, service.ErrForbidden)
			return
		}
	}

	tok, err := h.svc.CSRFToken(r.Context(), owner)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, csrfResponse{Success: true, Token: tok})
}
