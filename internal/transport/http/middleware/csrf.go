package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/pribylovaa/volunteer-hub/internal/metrics"
	"github.com/pribylovaa/volunteer-hub/internal/transport/http/apierrors"
)

// CSRFHeader — заголовок с одноразовым CSRF-токеном.
const CSRFHeader = "X-CSRF-Token"

// CSRFValidator потребляет CSRF-токен.
type CSRFValidator interface {
	ValidateCSRF(ctx context.Context, raw string, owner *uuid.UUID) (bool, error)
}

// RequireCSRF потребляет токен из X-CSRF-Token до вызова обработчика.
// Если перед ним стоит RequireAuth, токен должен принадлежать этому пользователю.
func RequireCSRF(v CSRFValidator, m *metrics.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var owner *uuid.UUID
			if claims, ok := ClaimsFrom(r.Context()); ok {
				id, err := uuid.Parse(claims.UserID)
				if err != nil {
					apierrors.WriteError(w, r, apierrors.ErrCSRFRejected)
					return
				}
				owner = &id
			}

			ok, err := v.ValidateCSRF(r.Context(), r.Header.Get(CSRFHeader), owner)
			if err != nil {
				apierrors.WriteError(w, r, err)
				return
			}

			m.CSRFValidation(ok)

			if !ok {
				apierrors.WriteError(w, r, apierrors.ErrCSRFRejected)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
