package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	logctx "github.com/pribylovaa/volunteer-hub/internal/pkg/log"
	"github.com/pribylovaa/volunteer-hub/internal/transport/http/apierrors"
)

// Timeout ограничивает время обработки запроса бюджетом d.
//
// Уже существующий (более ранний) дедлайн родителя не продлевается.
// Если обработчик вернулся после истечения бюджета и ничего не записал,
// клиент получает 504 deadline_exceeded в общем формате ошибок.
// d <= 0 отключает мидлвар.
func Timeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if dl, ok := ctx.Deadline(); !ok || time.Until(dl) > d {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}

			sw := newStatusWriter(w)
			next.ServeHTTP(sw, r.WithContext(ctx))

			if sw.status == 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				logctx.From(ctx).Warn("request_budget_exceeded", "budget", d)
				apierrors.WriteError(sw, r, ctx.Err())
			}
		})
	}
}
