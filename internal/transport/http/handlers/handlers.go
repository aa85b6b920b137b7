package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/volunteer-hub/internal/metrics"
	"github.com/pribylovaa/volunteer-hub/internal/models"
	"github.com/pribylovaa/volunteer-hub/internal/service"
	"github.com/pribylovaa/volunteer-hub/internal/token"
	"github.com/pribylovaa/volunteer-hub/internal/transport/http/apierrors"
	"github.com/pribylovaa/volunteer-hub/internal/transport/http/middleware"
)

// maxBodyBytes — предел размера тела запроса к /auth.
const maxBodyBytes = 64 << 10

// Service — операции сессий, которые нужны HTTP-слою.
type Service interface {
	Login(ctx context.Context, email, password string) (*models.Session, error)
	Register(ctx context.Context, in service.RegisterInput) (*models.Session, error)
	FederatedLogin(ctx context.Context, provider, rawToken string) (*models.Session, error)
	Refresh(ctx context.Context, rawRefresh string) (*models.TokenPair, error)
	Logout(ctx context.Context, rawRefresh string)
	LogoutAll(ctx context.Context, userID uuid.UUID) (int, error)
	VerifyToken(ctx context.Context, rawAccess string) service.Verification
	Authenticate(ctx context.Context, rawAccess string) (*token.Claims, error)
	CSRFToken(ctx context.Context, owner *uuid.UUID) (string, error)
	ValidateCSRF(ctx context.Context, raw string, owner *uuid.UUID) (bool, error)
}

// Options — параметры обработчиков.
type Options struct {
	// TrustProxy разрешает выставлять Secure по X-Forwarded-Proto: https.
	TrustProxy bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Metrics    *metrics.Metrics
}

// Handlers агрегирует зависимости HTTP-слоя.
type Handlers struct {
	svc       Service
	opts      Options
	logoutAll http.Handler
}

func New(svc Service, opts Options) *Handlers {
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 15 * time.Minute
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 7 * 24 * time.Hour
	}

	h := &Handlers{svc: svc, opts: opts}

	// «Выйти везде» требует access-токен и CSRF-токен того же пользователя.
	h.logoutAll = middleware.Chain(http.HandlerFunc(h.handleLogoutAll),
		middleware.RequireAuth(svc),
		middleware.RequireCSRF(svc, opts.Metrics),
	)

	return h
}

// writeJSON — единый ответ JSON с нужным Content-Type.
// Ошибки выводим через apierrors.WriteError.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeBody читает JSON-объект запроса. Неизвестные поля игнорируются:
// клиенты присылают вместе с регистрацией данные профиля (location и т.п.),
// которые этот сервис не хранит. Данные после объекта считаются ошибкой.
func decodeBody(w http.ResponseWriter, r *http.Request, value any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(value); err != nil {
		return fmt.Errorf("%w: %v", apierrors.ErrBadRequest, err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data", apierrors.ErrBadRequest)
	}

	return nil
}

// IsLogout сообщает, что POST /auth просит выход. Тело читается и
// возвращается в запрос, так что обработчик видит его целиком.
// Нужен троттлингу: выход не должен упираться в лимит.
func IsLogout(r *http.Request) bool {
	if r.Method != http.MethodPost || r.Body == nil || r.Body == http.NoBody {
		return false
	}

	head, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(head), r.Body), Closer: r.Body}
	if err != nil {
		return false
	}

	var in struct {
		Action string `json:"action"`
	}
	_ = json.Unmarshal(head, &in)

	return in.Action == actionLogout
}

type readCloser struct {
	io.Reader
	io.Closer
}

// outcome учитывает результат операции в метриках.
func (h *Handlers) outcome(action string, err error) {
	result := "ok"
	if err != nil {
		result = apierrors.Code(err)
	}

	h.opts.Metrics.AuthOutcome(action, result)
}

// actionLabel ограничивает кардинальность метки action.
func actionLabel(action string) string {
	switch {
	case strings.HasPrefix(action, oauthPrefix):
		return "oauth"
	case action == actionLogin, action == actionRegister, action == actionRefresh,
		action == actionLogout, action == actionLogoutAll:
		return action
	default:
		return "unknown"
	}
}
