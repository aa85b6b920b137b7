package storage

//go:generate mockgen -destination=../../mocks/storage.go -package=mocks github.com/pribylovaa/volunteer-hub/internal/storage Storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/volunteer-hub/internal/models"
)

var (
	// ErrNotFound — запись не найдена (пользователь/токен).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists — нарушение уникальности (email/хэш токена).
	ErrAlreadyExists = errors.New("already exists")
)

// UserStorage выполняет операции над пользователями.
type UserStorage interface {
	// SaveUser создает нового пользователя. Email уникален без учёта регистра.
	SaveUser(ctx context.Context, user *models.User) error
	// UserByEmail находит пользователя по email.
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	// UserByID находит пользователя по ID.
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// UpdatePasswordHash заменяет хэш пароля (перехэширование при входе).
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string, updatedAt time.Time) error
}

// RefreshTokenStorage выполняет операции над хэшами refresh-токенов.
type RefreshTokenStorage interface {
	// SaveRefreshToken удаляет просроченные записи пользователя и сохраняет новую.
	SaveRefreshToken(ctx context.Context, token *models.RefreshToken, now time.Time) error
	// RefreshToken возвращает непросроченную запись пользователя с данным хэшем.
	RefreshToken(ctx context.Context, userID uuid.UUID, hash string, now time.Time) (*models.RefreshToken, error)
	// DeleteRefreshToken удаляет запись; false, если её не было.
	DeleteRefreshToken(ctx context.Context, userID uuid.UUID, hash string) (bool, error)
	// DeleteUserRefreshTokens удаляет все записи пользователя и возвращает их хэши.
	DeleteUserRefreshTokens(ctx context.Context, userID uuid.UUID) ([]string, error)
	// DeleteExpiredRefreshTokens удаляет все просроченные записи.
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

// CSRFTokenStorage выполняет операции над одноразовыми CSRF-токенами.
type CSRFTokenStorage interface {
	// SaveCSRFToken удаляет просроченные токены и сохраняет новый.
	SaveCSRFToken(ctx context.Context, token *models.CSRFToken, now time.Time) error
	// ConsumeCSRFToken атомарно удаляет и возвращает непросроченный токен,
	// если он подходит владельцу:
	//   - owner == nil: только токены без владельца;
	//   - owner != nil: токены этого владельца, а при allowAnonymous ещё и без владельца.
	// Иначе ErrNotFound. Из конкурентных вызовов успешен не более чем один.
	ConsumeCSRFToken(ctx context.Context, hash string, owner *uuid.UUID, allowAnonymous bool, now time.Time) (*models.CSRFToken, error)
	// DeleteExpiredCSRFTokens удаляет все просроченные токены.
	DeleteExpiredCSRFTokens(ctx context.Context, now time.Time) (int64, error)
}

// AttemptStorage хранит журнал неудачных попыток входа.
type AttemptStorage interface {
	// RecordLoginAttempt добавляет попытку.
	RecordLoginAttempt(ctx context.Context, identity string, at time.Time) error
	// CountLoginAttempts считает попытки начиная с since (включительно).
	CountLoginAttempts(ctx context.Context, identity string, since time.Time) (int, error)
	// ClearLoginAttempts удаляет все попытки по identity.
	ClearLoginAttempts(ctx context.Context, identity string) error
	// DeleteLoginAttemptsBefore удаляет попытки старше before.
	DeleteLoginAttemptsBefore(ctx context.Context, before time.Time) (int64, error)
}

// Storage задает контракт работы с БД.
type Storage interface {
	UserStorage
	RefreshTokenStorage
	CSRFTokenStorage
	AttemptStorage
	Ping(ctx context.Context) error
	Close()
}
