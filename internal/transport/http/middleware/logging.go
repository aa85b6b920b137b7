package middleware

import (
	"log/slog"
	"net/http"
	"time"

	logctx "github.com/pribylovaa/volunteer-hub/internal/pkg/log"
)

// Logging кладёт в контекст логгер запроса (с request_id, если он есть)
// и после ответа пишет одну access-запись "http".
// Уровень записи зависит от статуса: 5xx - error, 4xx - warn, иначе info.
func Logging(l *slog.Logger) Middleware {
	if l == nil {
		l = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lg := l
			if rid := r.Header.Get(RequestIDHeader); rid != "" {
				lg = lg.With(slog.String("request_id", rid))
			}
			ctx := logctx.Into(r.Context(), lg)

			start := time.Now()
			sw := newStatusWriter(w)
			next.ServeHTTP(sw, r.WithContext(ctx))

			status := sw.Status()
			lg.LogAttrs(ctx, accessLevel(status), "http",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("ip", ClientIP(r, false)),
				slog.Int("status", status),
				slog.Int("bytes", sw.count),
				slog.Duration("dur", time.Since(start)),
			)
		})
	}
}

func accessLevel(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
