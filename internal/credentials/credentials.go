// credentials — хранилище учётных данных: проверка паролей, создание
// пользователей, учёт refresh-токенов и одноразовых CSRF-токенов.
//
// Сырые токены никогда не сохраняются: в хранилище и кэш попадает только
// sha256 от токена. Store безопасен для конкурентного использования, если
// безопасны переданные storage.Storage и cache.RefreshCache.
package credentials

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/volunteer-hub/internal/cache"
	"github.com/pribylovaa/volunteer-hub/internal/models"
	"github.com/pribylovaa/volunteer-hub/internal/password"
	"github.com/pribylovaa/volunteer-hub/internal/pkg/log"
	"github.com/pribylovaa/volunteer-hub/internal/pkg/redact"
	"github.com/pribylovaa/volunteer-hub/internal/storage"
)

const csrfTokenBytes = 32

var (
	// ErrInvalidCredentials — пользователь не найден или пароль не подходит.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailTaken — email уже зарегистрирован.
	ErrEmailTaken = errors.New("email already taken")
)

// Config — сроки жизни и политика CSRF.
type Config struct {
	RefreshTTL time.Duration
	CSRFTTL    time.Duration
	// AllowAnonymousCSRF разрешает потреблять токен без владельца
	// в запросе аутентифицированного пользователя.
	AllowAnonymousCSRF bool
	// AttemptRetention — возраст, после которого janitor удаляет попытки входа.
	AttemptRetention time.Duration
}

// NewUser — данные для создания пользователя.
// Для внешних провайдеров Password может быть пустым: тогда хэшируется
// случайный секрет, и локальный вход по паролю невозможен.
type NewUser struct {
	Email           string
	Password        string
	Role            models.Role
	Name            string
	Phone           string
	Provider        string
	ProviderSubject string
}

// Store — реализация хранилища учётных данных.
type Store struct {
	storage storage.Storage
	hasher  *password.Hasher
	cfg     Config
	rcache  cache.RefreshCache // может быть nil
	now     func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// New создаёт Store.
func New(st storage.Storage, hasher *password.Hasher, cfg Config) *Store {
	return &Store{
		storage: st,
		hasher:  hasher,
		cfg:     cfg,
		now:     time.Now,
	}
}

// SetRefreshCache подключает Redis-кэш проверок refresh-токенов (опционально).
func (s *Store) SetRefreshCache(c cache.RefreshCache) {
	s.rcache = c
}

// HashToken — sha256 от токена в hex. Под этим ключом токены лежат в хранилище.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// VerifyPassword находит пользователя по email и проверяет пароль.
// Возвращённая запись не содержит хэша пароля.
func (s *Store) VerifyPassword(ctx context.Context, email, plain string) (*models.User, error) {
	const op = "credentials.VerifyPassword"

	lg := log.From(ctx)

	user, err := s.storage.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Сравнение с заглушкой выравнивает время ответа для несуществующих email.
			_, _ = s.hasher.Verify(plain, s.dummy())
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if user.Provider != "" {
		lg.Info("password_login_for_federated_user",
			slog.String("op", op),
			slog.String("provider", user.Provider),
		)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	ok, err := s.hasher.Verify(plain, user.PasswordHash)
	if err != nil {
		lg.Error("password_verify_failed",
			slog.String("op", op),
			slog.String("user_id", user.ID.String()),
			log.Err(err),
		)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		s.upgradeHash(ctx, user.ID, plain)
	}

	return stripHash(user), nil
}

// upgradeHash перехэширует пароль текущими параметрами. Ошибки не мешают входу.
func (s *Store) upgradeHash(ctx context.Context, id uuid.UUID, plain string) {
	const op = "credentials.upgradeHash"

	lg := log.From(ctx)

	h, err := s.hasher.Hash(plain)
	if err == nil {
		err = s.storage.UpdatePasswordHash(ctx, id, h, s.now().UTC())
	}

	if err != nil {
		lg.Warn("password_rehash_failed",
			slog.String("op", op),
			slog.String("user_id", id.String()),
			log.Err(err),
		)
		return
	}

	lg.Info("password_rehashed", slog.String("user_id", id.String()))
}

func (s *Store) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash(randomHex(16))
		if err == nil {
			s.dummyHash = h
		}
	})

	return s.dummyHash
}

// CreateUser хэширует пароль и сохраняет пользователя.
// Возвращённая запись не содержит хэша пароля.
func (s *Store) CreateUser(ctx context.Context, nu NewUser) (*models.User, error) {
	const op = "credentials.CreateUser"

	plain := nu.Password
	if plain == "" && nu.Provider != "" {
		plain = randomHex(32)
	}

	hash, err := s.hasher.Hash(plain)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now().UTC()
	user := &models.User{
		ID:              uuid.New(),
		Email:           strings.ToLower(strings.TrimSpace(nu.Email)),
		PasswordHash:    hash,
		Role:            nu.Role,
		Name:            nu.Name,
		Phone:           nu.Phone,
		Provider:        nu.Provider,
		ProviderSubject: nu.ProviderSubject,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.storage.SaveUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, ErrEmailTaken)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("user_created",
		slog.String("user_id", user.ID.String()),
		slog.String("email", redact.Email(user.Email)),
		slog.String("role", string(user.Role)),
	)

	return stripHash(user), nil
}

// UserByEmail возвращает пользователя без хэша пароля.
func (s *Store) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "credentials.UserByEmail"

	user, err := s.storage.UserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return stripHash(user), nil
}

// UserByID возвращает пользователя без хэша пароля.
func (s *Store) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const op = "credentials.UserByID"

	user, err := s.storage.UserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return stripHash(user), nil
}

func stripHash(u *models.User) *models.User {
	cp := *u
	cp.PasswordHash = ""
	return &cp
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
