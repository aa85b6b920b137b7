package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pribylovaa/volunteer-hub/internal/metrics"
	"github.com/pribylovaa/volunteer-hub/internal/transport/http/handlers"
	"github.com/pribylovaa/volunteer-hub/internal/transport/http/middleware"
)

// Options — параметры сборки HTTP-роутера.
type Options struct {
	Logger   *slog.Logger
	Timeout  time.Duration
	BasePath string // например, "/api"; если пустой — роуты регистрируются на корне.

	// TrustProxy — сервис стоит за доверенным прокси (X-Forwarded-For/-Proto).
	TrustProxy bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// ThrottleRPS/ThrottleBurst — лимит запросов POST /auth с одного IP; 0 отключает.
	ThrottleRPS   float64
	ThrottleBurst int

	Metrics *metrics.Metrics
}

// NewRouter собирает http.Handler с chi и подключёнными middleware/роутами.
func NewRouter(svc handlers.Service, opts Options) http.Handler {
	root := chi.NewRouter()

	// Middleware (внешний -> внутренний).
	root.Use(
		middleware.Recover(),            // безопасно ловим паники
		middleware.RequestID(),          // формируем/прокидываем X-Request-Id (до логирования!)
		middleware.Logging(opts.Logger), // кладём request-scoped логгер в контекст и логируем
		middleware.Metrics(opts.Metrics),
	)
	if opts.Timeout > 0 {
		root.Use(middleware.Timeout(opts.Timeout)) // общий дедлайн запроса
	}

	h := handlers.New(svc, handlers.Options{
		TrustProxy: opts.TrustProxy,
		AccessTTL:  opts.AccessTTL,
		RefreshTTL: opts.RefreshTTL,
		Metrics:    opts.Metrics,
	})

	if opts.BasePath != "" {
		sub := chi.NewRouter()
		registerRoutes(sub, h, opts)
		root.Mount(opts.BasePath, sub)
		return root
	}

	registerRoutes(root, h, opts)
	return root
}

// registerRoutes — единая точка регистрации всех REST-эндпойнтов.
func registerRoutes(r chi.Router, h *handlers.Handlers, opts Options) {
	r.With(middleware.Throttle(opts.ThrottleRPS, opts.ThrottleBurst, opts.TrustProxy, handlers.IsLogout)).
		Post("/auth", h.Auth)
	r.Get("/auth", h.Verify)
	r.Get("/csrf", h.CSRF)
}
