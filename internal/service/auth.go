package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pribylovaa/volunteer-hub/internal/credentials"
	"github.com/pribylovaa/volunteer-hub/internal/federated"
	"github.com/pribylovaa/volunteer-hub/internal/models"
	"github.com/pribylovaa/volunteer-hub/internal/pkg/log"
	"github.com/pribylovaa/volunteer-hub/internal/pkg/redact"
	"github.com/pribylovaa/volunteer-hub/internal/storage"
	"github.com/pribylovaa/volunteer-hub/internal/token"
)

// RegisterInput — данные регистрации.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Role     string
	Phone    string
}

// Login выполняет вход по email и паролю.
//
// Ограничитель опрашивается до любой проверки пароля. Неудача записывается
// в журнал попыток, успех его очищает. Сессия возвращается только после
// сохранения хэша refresh-токена.
func (s *Service) Login(ctx context.Context, email, password string) (*models.Session, error) {
	const op = "service.Login"

	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%s: %w", op, invalid("credentials", "Email and password required"))
	}

	ctx = log.With(ctx, slog.String("email", redact.Email(email)))
	lg := log.From(ctx)

	allowed, err := s.limiter.IsAllowed(ctx, email)
	if err != nil {
		lg.Error("rate_limit_check_failed",
			slog.String("op", op),
			log.Err(err),
		)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !allowed {
		lg.Warn("login_rate_limited", slog.String("op", op))
		return nil, fmt.Errorf("%s: %w", op, ErrRateLimited)
	}

	user, err := s.creds.VerifyPassword(ctx, email, password)
	if err != nil {
		if errors.Is(err, credentials.ErrInvalidCredentials) {
			if rerr := s.limiter.RecordFailure(ctx, email); rerr != nil {
				lg.Error("record_login_failure_failed",
					slog.String("op", op),
					log.Err(rerr),
				)
			}

			lg.Info("login_failed", slog.String("op", op))
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		lg.Error("verify_password_failed",
			slog.String("op", op),
			log.Err(err),
		)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.limiter.Clear(ctx, email); err != nil {
		lg.Warn("clear_login_attempts_failed",
			slog.String("op", op),
			log.Err(err),
		)
	}

	sess, err := s.startSession(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	lg.Info("login_succeeded", slog.String("user_id", user.ID.String()))

	return sess, nil
}

// Register проверяет ввод, создаёт пользователя и сразу открывает ему сессию.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.Session, error) {
	const op = "service.Register"

	email := normalizeEmail(in.Email)
	name := strings.TrimSpace(in.Name)
	phone := strings.TrimSpace(in.Phone)

	for _, err := range []error{
		validateName(name),
		validateEmail(email),
		validatePassword(in.Password),
		validateRole(in.Role),
		validatePhone(phone),
	} {
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	ctx = log.With(ctx, slog.String("email", redact.Email(email)))
	lg := log.From(ctx)

	user, err := s.creds.CreateUser(ctx, credentials.NewUser{
		Email:    email,
		Password: in.Password,
		Role:     models.Role(in.Role),
		Name:     name,
		Phone:    phone,
	})
	if err != nil {
		if errors.Is(err, credentials.ErrEmailTaken) {
			lg.Info("register_email_taken", slog.String("op", op))
			return nil, fmt.Errorf("%s: %w", op, ErrEmailTaken)
		}

		lg.Error("create_user_failed",
			slog.String("op", op),
			log.Err(err),
		)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sess, err := s.startSession(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	lg.Info("register_succeeded", slog.String("user_id", user.ID.String()))

	return sess, nil
}

// FederatedLogin проверяет токен провайдера, находит пользователя по email
// или создаёт волонтёра, привязанного к провайдеру, и открывает сессию.
func (s *Service) FederatedLogin(ctx context.Context, provider, rawToken string) (*models.Session, error) {
	const op = "service.FederatedLogin"

	v, err := s.providers.Lookup(provider)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, invalid("provider", "Unsupported provider"))
	}

	if strings.TrimSpace(rawToken) == "" {
		return nil, fmt.Errorf("%s: %w", op, invalid("id_token", "ID token required"))
	}

	lg := log.From(ctx).With(slog.String("provider", provider))

	id, err := v.Verify(ctx, rawToken)
	if err != nil {
		if errors.Is(err, federated.ErrInvalidToken) {
			lg.Info("federated_token_rejected", slog.String("op", op))
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		lg.Error("federated_verify_failed",
			slog.String("op", op),
			log.Err(err),
		)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.findOrCreateFederated(ctx, id)
	if err != nil {
		lg.Error("federated_user_failed",
			slog.String("op", op),
			log.Err(err),
		)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sess, err := s.startSession(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	lg.Info("federated_login_succeeded", slog.String("user_id", user.ID.String()))

	return sess, nil
}

func (s *Service) findOrCreateFederated(ctx context.Context, id *federated.Identity) (*models.User, error) {
	email := normalizeEmail(id.Email)

	user, err := s.creds.UserByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	user, err = s.creds.CreateUser(ctx, credentials.NewUser{
		Email:           email,
		Role:            models.RoleVolunteer,
		Name:            providerName(id.Name),
		Provider:        id.Provider,
		ProviderSubject: id.Subject,
	})
	if errors.Is(err, credentials.ErrEmailTaken) {
		// Параллельный вход того же пользователя успел создать запись.
		return s.creds.UserByEmail(ctx, email)
	}

	return user, err
}

// startSession выпускает access- и refresh-токены и сохраняет хэш refresh-токена.
// Ошибка на любом шаге означает, что сессии нет и токены не отдаются.
func (s *Service) startSession(ctx context.Context, user *models.User) (*models.Session, error) {
	const op = "service.startSession"

	lg := log.From(ctx)
	claims := token.Claims{UserID: user.ID.String(), Role: string(user.Role)}

	claims.Use = token.UseAccess
	access, accessExp, err := s.codec.Issue(claims, s.cfg.AccessTTL)
	if err != nil {
		lg.Error("access_token_sign_failed",
			slog.String("op", op),
			log.Err(err),
		)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	claims.Use = token.UseRefresh
	refresh, refreshExp, err := s.codec.Issue(claims, s.cfg.RefreshTTL)
	if err != nil {
		lg.Error("refresh_token_sign_failed",
			slog.String("op", op),
			log.Err(err),
		)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.creds.StoreRefreshCredential(ctx, user.ID, refresh); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.Session{
		User: user.Public(),
		Tokens: models.TokenPair{
			AccessToken:      access,
			RefreshToken:     refresh,
			AccessExpiresAt:  accessExp,
			RefreshExpiresAt: refreshExp,
		},
	}, nil
}
