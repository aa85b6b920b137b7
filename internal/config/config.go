// config предоставляет структуру конфигурации сервиса и функции
// загрузки из файла/переменных окружения с предсказуемым приоритетом.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Допустимые бэкенды журнала неудачных попыток входа.
const (
	AttemptsBackendPostgres = "postgres"
	AttemptsBackendRedis    = "redis"
	AttemptsBackendMemory   = "memory"
)

// Config — корневая конфигурация сервиса.
// Источники значений (по убыванию приоритета):
//  1. явный путь через флаг --config;
//  2. путь в переменной окружения CONFIG_PATH;
//  3. файл local.yaml из рабочей директории;
//  4. переменные окружения (cleanenv).
type Config struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"local"`
	HTTP      HTTPConfig      `yaml:"http"`
	Ops       OpsConfig       `yaml:"ops"`
	Auth      AuthConfig      `yaml:"auth"`
	Password  PasswordConfig  `yaml:"password"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	CSRF      CSRFConfig      `yaml:"csrf"`
	OAuth     OAuthConfig     `yaml:"oauth"`
	DB        DBConfig        `yaml:"db"`
	Redis     RedisConfig     `yaml:"redis"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
}

// TimeoutConfig — таймауты сервиса.
type TimeoutConfig struct {
	Service  time.Duration `yaml:"service" env:"SERVICE_TIMEOUT" env-default:"5s"`
	Shutdown time.Duration `yaml:"shutdown" env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
	Janitor  time.Duration `yaml:"janitor" env:"JANITOR_PERIOD" env-default:"30m"`
}

// HTTPConfig — сетевые настройки публичного HTTP API.
type HTTPConfig struct {
	Host string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
	// BasePath — префикс маршрутов, например "/api". Пустой — корень.
	BasePath string `yaml:"base_path" env:"HTTP_BASE_PATH"`
	// TrustProxy разрешает учитывать X-Forwarded-Proto при выставлении Secure у cookie.
	TrustProxy bool `yaml:"trust_proxy" env:"HTTP_TRUST_PROXY" env-default:"false"`
	// ThrottleRPS/ThrottleBurst — лимит запросов к /auth с одного IP. 0 отключает.
	ThrottleRPS   float64 `yaml:"throttle_rps" env:"HTTP_THROTTLE_RPS" env-default:"10"`
	ThrottleBurst int     `yaml:"throttle_burst" env:"HTTP_THROTTLE_BURST" env-default:"20"`
}

// OpsConfig — служебный listener: /livez, /healthz, /metrics.
type OpsConfig struct {
	Host string `yaml:"host" env:"OPS_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"OPS_PORT" env-default:"8081"`
}

// Addr возвращает адрес в формате host:port.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

// Addr возвращает адрес в формате host:port.
func (o OpsConfig) Addr() string {
	return net.JoinHostPort(o.Host, o.Port)
}

// AuthConfig содержит параметры выпуска и валидации токенов.
type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"15m"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"168h"`
	Issuer          string        `yaml:"issuer" env:"ISSUER" env-default:"volunteer-hub"`
	// RotateRefresh включает выпуск нового refresh-токена при каждом обновлении.
	RotateRefresh bool `yaml:"rotate_refresh" env:"ROTATE_REFRESH" env-default:"false"`
}

// PasswordConfig — параметры argon2id.
type PasswordConfig struct {
	Memory      uint32 `yaml:"memory_kb" env:"PASSWORD_MEMORY_KB" env-default:"65536"`
	Time        uint32 `yaml:"time" env:"PASSWORD_TIME" env-default:"4"`
	Parallelism uint8  `yaml:"parallelism" env:"PASSWORD_PARALLELISM" env-default:"3"`
	SaltLength  uint32 `yaml:"salt_length" env:"PASSWORD_SALT_LENGTH" env-default:"16"`
	KeyLength   uint32 `yaml:"key_length" env:"PASSWORD_KEY_LENGTH" env-default:"32"`
}

// RateLimitConfig — ограничение неудачных попыток входа.
type RateLimitConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"RATE_LIMIT_MAX_ATTEMPTS" env-default:"5"`
	Window      time.Duration `yaml:"window" env:"RATE_LIMIT_WINDOW" env-default:"15m"`
	Backend     string        `yaml:"backend" env:"RATE_LIMIT_BACKEND" env-default:"postgres"`
}

// CSRFConfig — параметры одноразовых CSRF-токенов.
type CSRFConfig struct {
	TTL time.Duration `yaml:"ttl" env:"CSRF_TTL" env-default:"1h"`
	// AllowAnonymousForOwner разрешает принимать токен без владельца
	// в запросе аутентифицированного пользователя. Каждый такой случай логируется.
	AllowAnonymousForOwner bool `yaml:"allow_anonymous_for_owner" env:"CSRF_ALLOW_ANONYMOUS_FOR_OWNER" env-default:"false"`
}

// OAuthConfig — внешние провайдеры входа.
type OAuthConfig struct {
	Google GoogleConfig `yaml:"google"`
}

// GoogleConfig — проверка Google ID token через tokeninfo.
// Пустой ClientID отключает провайдера.
type GoogleConfig struct {
	ClientID     string        `yaml:"client_id" env:"GOOGLE_CLIENT_ID"`
	TokenInfoURL string        `yaml:"tokeninfo_url" env:"GOOGLE_TOKENINFO_URL" env-default:"https://oauth2.googleapis.com/tokeninfo"`
	Timeout      time.Duration `yaml:"timeout" env:"GOOGLE_TIMEOUT" env-default:"5s"`
}

// DBConfig — настройки подключения к базе данных.
// Пустой DatabaseURL допустим только в env=local: тогда используется in-memory хранилище.
type DBConfig struct {
	DatabaseURL string `yaml:"db_url" env:"DATABASE_URL"`
	Migrate     bool   `yaml:"migrate" env:"DB_MIGRATE" env-default:"true"`

	MaxConns        int32         `yaml:"max_conns" env:"DB_MAX_CONNS" env-default:"10"`
	MinConns        int32         `yaml:"min_conns" env:"DB_MIN_CONNS" env-default:"0"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"DB_MAX_CONN_IDLE_TIME" env-default:"5m"`
}

// RedisConfig — опциональный Redis (кэш refresh-токенов, журнал попыток).
type RedisConfig struct {
	RedisURL string `yaml:"redis_url" env:"REDIS_URL"`
	Prefix   string `yaml:"prefix" env:"REDIS_PREFIX" env-default:"vh:"`
}

// Validate проверяет согласованность секций между собой.
func (c *Config) Validate() error {
	if len(c.Auth.JWTSecret) < 32 {
		return errors.New("auth.jwt_secret must be at least 32 bytes")
	}

	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 {
		return errors.New("auth token ttl must be positive")
	}

	if c.RateLimit.MaxAttempts <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate_limit.max_attempts and rate_limit.window must be positive")
	}

	switch c.RateLimit.Backend {
	case AttemptsBackendPostgres:
		if c.DB.DatabaseURL == "" {
			return errors.New("rate_limit.backend=postgres requires db.db_url")
		}
	case AttemptsBackendRedis:
		if c.Redis.RedisURL == "" {
			return errors.New("rate_limit.backend=redis requires redis.redis_url")
		}
	case AttemptsBackendMemory:
	default:
		return fmt.Errorf("unknown rate_limit.backend %q", c.RateLimit.Backend)
	}

	if c.DB.DatabaseURL == "" && c.Env != "local" {
		return errors.New("db.db_url is required outside env=local")
	}

	if c.DB.MaxConns < 0 || c.DB.MinConns < 0 || (c.DB.MaxConns > 0 && c.DB.MinConns > c.DB.MaxConns) {
		return errors.New("db.min_conns must not exceed db.max_conns")
	}

	if c.CSRF.TTL <= 0 {
		return errors.New("csrf.ttl must be positive")
	}

	return nil
}

// MustLoad — обёртка над Load с panic при ошибке.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Load загружает конфигурацию по приоритету:
// 1) явный путь; 2) CONFIG_PATH; 3) ./local.yaml; 4) ENV.
// После чтения файла ENV-переменные накладываются поверх значений из YAML.
func Load(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func read(path string) (*Config, error) {
	var cfg Config

	// чтение файла + overlay ENV.
	tryRead := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		return &cfg, nil
	}

	// 1) Явный путь.
	if path != "" {
		return tryRead(path)
	}

	// 2) CONFIG_PATH.
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return tryRead(envPath)
	}

	// 3) ./local.yaml.
	if _, err := os.Stat("local.yaml"); err == nil {
		return tryRead("local.yaml")
	}

	// 4) Только ENV.
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}

	return &cfg, nil
}
