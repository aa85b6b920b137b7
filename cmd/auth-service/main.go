package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/pribylovaa/volunteer-hub/internal/cache"
	"github.com/pribylovaa/volunteer-hub/internal/config"
	"github.com/pribylovaa/volunteer-hub/internal/credentials"
	"github.com/pribylovaa/volunteer-hub/internal/federated"
	"github.com/pribylovaa/volunteer-hub/internal/metrics"
	"github.com/pribylovaa/volunteer-hub/internal/models"
	"github.com/pribylovaa/volunteer-hub/internal/password"
	logctx "github.com/pribylovaa/volunteer-hub/internal/pkg/log"
	"github.com/pribylovaa/volunteer-hub/internal/pkg/redact"
	"github.com/pribylovaa/volunteer-hub/internal/ratelimit"
	"github.com/pribylovaa/volunteer-hub/internal/service"
	"github.com/pribylovaa/volunteer-hub/internal/storage"
	"github.com/pribylovaa/volunteer-hub/internal/storage/memory"
	"github.com/pribylovaa/volunteer-hub/internal/storage/postgres"
	"github.com/pribylovaa/volunteer-hub/internal/token"
	transporthttp "github.com/pribylovaa/volunteer-hub/internal/transport/http"
)

// Константы для определения окружения.
const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting application", "env", cfg.Env)

	// Корневой контекст по сигналам.
	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	// Хранилище: PostgreSQL или in-memory (только env=local без db_url).
	str, err := openStorage(rootCtx, cfg, log)
	if err != nil {
		log.Error("storage_open_failed", logctx.Err(err))
		rootCancel()
		os.Exit(1)
	}

	// Redis опционален: кэш refresh-токенов и журнал попыток.
	var rdb *redis.Client
	if cfg.Redis.RedisURL != "" {
		redisCtx, redisCancel := context.WithTimeout(rootCtx, 5*time.Second)
		rdb, err = cache.Connect(redisCtx, cfg.Redis.RedisURL)
		redisCancel()
		if err != nil {
			log.Error("redis_connect_failed", logctx.Err(err))
			rootCancel()
			str.Close()
			os.Exit(1)
		}
		log.Info("redis_connected", slog.String("redis", redact.URL(cfg.Redis.RedisURL)))
	}

	hasher, err := password.New(password.Params{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		log.Error("password_hasher_invalid", logctx.Err(err))
		os.Exit(1)
	}

	codec, err := token.New(cfg.Auth.JWTSecret, token.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		log.Error("token_codec_invalid", logctx.Err(err))
		os.Exit(1)
	}

	creds := credentials.New(str, hasher, credentials.Config{
		RefreshTTL:         cfg.Auth.RefreshTokenTTL,
		CSRFTTL:            cfg.CSRF.TTL,
		AllowAnonymousCSRF: cfg.CSRF.AllowAnonymousForOwner,
		AttemptRetention:   cfg.RateLimit.Window,
	})
	if rdb != nil {
		creds.SetRefreshCache(cache.NewRefreshCache(rdb, cfg.Redis.Prefix))
	}

	limiter := ratelimit.New(attemptStore(cfg, str, rdb), ratelimit.Config{
		MaxAttempts: cfg.RateLimit.MaxAttempts,
		Window:      cfg.RateLimit.Window,
	}, nil)

	providers := federated.NewRegistry()
	if cfg.OAuth.Google.ClientID != "" {
		providers.Register(models.ProviderGoogle, federated.NewGoogle(
			cfg.OAuth.Google.ClientID,
			cfg.OAuth.Google.TokenInfoURL,
			cfg.OAuth.Google.Timeout,
			nil,
		))
	}
	log.Info("federated_providers", slog.Any("providers", providers.Providers()))

	// Сервис.
	srvc := service.New(creds, limiter, codec, providers, service.Config{
		AccessTTL:     cfg.Auth.AccessTokenTTL,
		RefreshTTL:    cfg.Auth.RefreshTokenTTL,
		RotateRefresh: cfg.Auth.RotateRefresh,
	})
	log.Info("service_initialized")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var ready atomic.Bool

	pingers := []transporthttp.Pinger{str.Ping}
	if rdb != nil {
		pingers = append(pingers, func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	opsAddr := cfg.Ops.Addr()
	opsSrv := &http.Server{
		Addr:              opsAddr,
		Handler:           transporthttp.NewOpsHandler(reg, &ready, pingers...),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("ops_listen_start", "addr", opsAddr)
		if err := opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("ops_serve_failed", logctx.Err(err))
		}
	}()

	apiAddr := cfg.HTTP.Addr()
	apiSrv := &http.Server{
		Addr: apiAddr,
		Handler: transporthttp.NewRouter(srvc, transporthttp.Options{
			Logger:        log,
			Timeout:       cfg.Timeouts.Service,
			BasePath:      cfg.HTTP.BasePath,
			TrustProxy:    cfg.HTTP.TrustProxy,
			AccessTTL:     cfg.Auth.AccessTokenTTL,
			RefreshTTL:    cfg.Auth.RefreshTokenTTL,
			ThrottleRPS:   cfg.HTTP.ThrottleRPS,
			ThrottleBurst: cfg.HTTP.ThrottleBurst,
			Metrics:       m,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Фоновая очистка просроченных токенов и попыток входа.
	startJanitor(rootCtx, creds, m, log, cfg.Timeouts.Janitor)

	serveErrCh := make(chan error, 1)
	go func() {
		log.Info("http_listen_start", slog.String("addr", apiAddr))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
		close(serveErrCh)
	}()

	ready.Store(true)

	// Ожидание сигнала завершения или фатальной ошибки сервера.
	select {
	case <-rootCtx.Done():
		log.Info("shutdown_requested")
	case err := <-serveErrCh:
		if err != nil {
			log.Error("http_serve_failed", logctx.Err(err))
		}
	}

	ready.Store(false)

	// Graceful stop с таймаутом.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_force_stop", logctx.Err(err))
		_ = apiSrv.Close()
	} else {
		log.Info("http_stopped")
	}
	_ = opsSrv.Shutdown(shutdownCtx)

	// Явная очистка перед выходом.
	shutdownCancel()
	rootCancel()
	if rdb != nil {
		_ = rdb.Close()
	}
	str.Close()

	log.Info("service_stopped")
	os.Exit(0)
}

// setupLogger настраивает slog по окружению.
func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	}

	return log
}

// openStorage подключает PostgreSQL (с миграциями) или, в env=local без
// db_url, in-memory хранилище.
func openStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) (storage.Storage, error) {
	if cfg.DB.DatabaseURL == "" {
		log.Warn("storage_in_memory", slog.String("env", cfg.Env))
		return memory.New(), nil
	}

	dbCtx, dbCancel := context.WithTimeout(ctx, 30*time.Second)
	defer dbCancel()

	if cfg.DB.Migrate {
		if err := postgres.Migrate(dbCtx, cfg.DB.DatabaseURL); err != nil {
			return nil, err
		}
		log.Info("migrations_applied")
	}

	str, err := postgres.New(dbCtx, cfg.DB.DatabaseURL, postgres.PoolOptions{
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnIdleTime: cfg.DB.MaxConnIdleTime,
	})
	if err != nil {
		return nil, err
	}
	log.Info("postgres_connected", slog.String("db", redact.URL(cfg.DB.DatabaseURL)))

	return str, nil
}

// attemptStore выбирает бэкенд журнала неудачных попыток входа.
func attemptStore(cfg *config.Config, str storage.Storage, rdb *redis.Client) ratelimit.AttemptStore {
	switch cfg.RateLimit.Backend {
	case config.AttemptsBackendRedis:
		return cache.NewAttemptLog(rdb, cfg.Redis.Prefix, cfg.RateLimit.Window)
	case config.AttemptsBackendMemory:
		return memory.New()
	default:
		return str
	}
}

// startJanitor запускает фоновую задачу, которая периодически удаляет
// просроченные refresh- и CSRF-токены и старые попытки входа.
func startJanitor(ctx context.Context, creds *credentials.Store, m *metrics.Metrics, log *slog.Logger, period time.Duration) {
	if period <= 0 {
		return
	}

	go func() {
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				res, err := creds.SweepExpired(ctx)
				if err != nil {
					log.Error("janitor_failed", logctx.Err(err))
				}

				m.Swept("refresh_tokens", res.RefreshTokens)
				m.Swept("csrf_tokens", res.CSRFTokens)
				m.Swept("login_attempts", res.LoginAttempts)

				log.Debug("janitor_swept",
					slog.Int64("refresh_tokens", res.RefreshTokens),
					slog.Int64("csrf_tokens", res.CSRFTokens),
					slog.Int64("login_attempts", res.LoginAttempts),
				)
			}
		}
	}()
}
