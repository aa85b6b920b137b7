// Package log переносит request-scoped *slog.Logger через context.Context
// и даёт пару общих атрибутов, которыми пользуются все слои сервиса.
package log

import (
	"context"
	"log/slog"
)

type loggerKey struct{}

// Into возвращает контекст, несущий l. nil-логгер не сохраняется.
func Into(ctx context.Context, l *slog.Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, l)
}

// From возвращает логгер запроса; вне запроса это slog.Default().
func From(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// With дополняет логгер из контекста атрибутами и кладёт результат обратно.
// Так сервисный слой пристёгивает user_id/action ко всем последующим записям.
func With(ctx context.Context, args ...any) context.Context {
	return Into(ctx, From(ctx).With(args...))
}

// Err — единообразный атрибут ошибки. nil даёт пустой атрибут, который slog пропускает.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("err", err.Error())
}
