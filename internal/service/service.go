// service содержит бизнес-логику сессий: вход по паролю и через внешних
// провайдеров, регистрацию, обновление и отзыв токенов, проверку access-токенов
// и выдачу одноразовых CSRF-токенов.
//
// Основные аспекты:
//   - Service не хранит состояния запроса; всё межзапросное состояние живёт в
//     хранилище учётных данных. Экземпляр безопасен для конкурентного использования.
//   - Ошибки возвращаются обёрнутыми сентинелами ниже; транспорт маппит их на
//     HTTP-коды через errors.Is. Всё остальное считается ошибкой сервера.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/volunteer-hub/internal/credentials"
	"github.com/pribylovaa/volunteer-hub/internal/federated"
	"github.com/pribylovaa/volunteer-hub/internal/models"
	"github.com/pribylovaa/volunteer-hub/internal/token"
)

var (
	// ErrValidation — некорректный ввод. Транспорт: HTTP 400.
	ErrValidation = errors.New("validation failed")

	// ErrRateLimited — слишком много неудачных попыток входа. Транспорт: HTTP 429.
	ErrRateLimited = errors.New("too many login attempts")

	// ErrInvalidCredentials — пара email/пароль неверна. Транспорт: HTTP 401.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrEmailTaken — email уже зарегистрирован. Транспорт: HTTP 409.
	ErrEmailTaken = errors.New("email already taken")

	// ErrInvalidToken — токен повреждён, просрочен, отозван или не подтверждён
	// провайдером. Транспорт: HTTP 401.
	ErrInvalidToken = errors.New("invalid token")

	// ErrForbidden — роль не допускает операцию. Транспорт: HTTP 403.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError описывает, какое поле не прошло проверку.
// Сообщение безопасно показывать клиенту.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// CredentialStore — то, что Service требует от хранилища учётных данных.
type CredentialStore interface {
	VerifyPassword(ctx context.Context, email, plain string) (*models.User, error)
	CreateUser(ctx context.Context, nu credentials.NewUser) (*models.User, error)
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	StoreRefreshCredential(ctx context.Context, userID uuid.UUID, raw string) error
	IsValidRefreshCredential(ctx context.Context, userID uuid.UUID, raw string) (bool, error)
	RevokeRefreshCredential(ctx context.Context, userID uuid.UUID, raw string) error
	ConsumeRefreshCredential(ctx context.Context, userID uuid.UUID, raw string) (bool, error)
	RevokeAllRefreshCredentials(ctx context.Context, userID uuid.UUID) (int, error)

	IssueCSRFToken(ctx context.Context, owner *uuid.UUID) (string, error)
	ValidateAndConsumeCSRFToken(ctx context.Context, raw string, owner *uuid.UUID) (bool, error)
}

// Limiter — ограничитель неудачных попыток входа.
type Limiter interface {
	IsAllowed(ctx context.Context, identity string) (bool, error)
	RecordFailure(ctx context.Context, identity string) error
	Clear(ctx context.Context, identity string) error
}

// Config — сроки жизни токенов и политика обновления.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// RotateRefresh — при обновлении отзывать предъявленный refresh-токен
	// и выдавать новый.
	RotateRefresh bool
}

// Service описывает бизнес-логику сессий.
type Service struct {
	creds     CredentialStore
	limiter   Limiter
	codec     *token.Codec
	providers *federated.Registry
	cfg       Config
}

// New создаёт Service. providers может быть nil: тогда вход через внешних
// провайдеров отклоняется как неизвестный провайдер.
func New(creds CredentialStore, limiter Limiter, codec *token.Codec, providers *federated.Registry, cfg Config) *Service {
	if providers == nil {
		providers = federated.NewRegistry()
	}

	return &Service{
		creds:     creds,
		limiter:   limiter,
		codec:     codec,
		providers: providers,
		cfg:       cfg,
	}
}

// Verification — результат проверки access-токена.
type Verification struct {
	Valid  bool
	UserID uuid.UUID
	Role   models.Role
}
