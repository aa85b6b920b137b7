// apierrors стандартизирует ответы об ошибках HTTP-слоя.
// На вход принимает ошибку сервиса (обёрнутый сентинел из пакета service),
// на выход даёт:
//   - корректный HTTP-статус;
//   - краткое безопасное message без утечки деталей.
package apierrors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pribylovaa/volunteer-hub/internal/service"
)

// Нестандартный код часто используемый для "клиент закрыл соединение".
const StatusClientClosedRequest = 499

var (
	// ErrCSRFRejected — CSRF-токен отсутствует, потреблён, просрочен или чужой.
	ErrCSRFRejected = errors.New("csrf token rejected")
	// ErrThrottled — превышен лимит запросов с адреса.
	ErrThrottled = errors.New("too many requests")
	// ErrBadRequest — тело запроса не разобрано.
	ErrBadRequest = errors.New("bad request")
)

// ErrorResponse — тело ответа об ошибке.
// Code — короткий стабильный код для машиночитаемой обработки на клиенте.
// Message — безопасное человекочитаемое описание.
// RequestID — из X-Request-Id, если есть (для трассировки).
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTP конвертирует ошибку в HTTP-статус и тело ответа.
//
// Поведение:
//   - err == nil — программная ошибка вызова: 500, чтобы не маскировать баг;
//   - ValidationError — 400 с сообщением о конкретном поле;
//   - сентинелы service — по таблице в baseFromError;
//   - всё остальное — 500 без деталей.
func ToHTTP(err error) (int, ErrorResponse) {
	if err == nil {
		return http.StatusInternalServerError, ErrorResponse{Code: "server_error", Message: "Internal server error"}
	}

	var ve *service.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, ErrorResponse{Code: "validation_error", Message: ve.Message}
	}

	status, code, msg := baseFromError(err)
	return status, ErrorResponse{Code: code, Message: msg}
}

// WriteError — хелпер для HTTP-хендлеров.
// Пишет статус и тело, добавляет request_id из заголовка, если он есть.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := ToHTTP(err)

	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		resp.RequestID = rid
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// Code возвращает короткий код ошибки (для метрик).
func Code(err error) string {
	_, resp := ToHTTP(err)
	return resp.Code
}

// baseFromError — таблица сентинел -> HTTP/код/сообщение:
//   - ErrValidation, ErrBadRequest -> 400
//   - ErrInvalidCredentials, ErrInvalidToken -> 401
//   - ErrForbidden, ErrCSRFRejected -> 403
//   - ErrEmailTaken -> 409
//   - ErrRateLimited, ErrThrottled -> 429
//   - context.Canceled -> 499 (клиент закрыл соединение)
//   - context.DeadlineExceeded -> 504
//   - прочее -> 500
func baseFromError(err error) (int, string, string) {
	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "validation_error", "Invalid request"
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", "Invalid email or password"
	case errors.Is(err, service.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid_token", "Invalid or expired token"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "forbidden", "Forbidden"
	case errors.Is(err, ErrCSRFRejected):
		return http.StatusForbidden, "csrf_invalid", "Invalid CSRF token"
	case errors.Is(err, service.ErrEmailTaken):
		return http.StatusConflict, "email_taken", "Email already registered"
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited", "Too many login attempts. Try again later."
	case errors.Is(err, ErrThrottled):
		return http.StatusTooManyRequests, "throttled", "Too many requests"
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest, "canceled", "Request canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "deadline_exceeded", "Request timed out"
	default:
		return http.StatusInternalServerError, "server_error", "Internal server error"
	}
}
