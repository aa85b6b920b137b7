package client

import (
	"context"
	"fmt"
	"net/http"
)

// CSRFHeader — заголовок, в котором сервер ожидает CSRF-токен.
const CSRFHeader = "X-CSRF-Token"

type csrfResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
}

// CSRFToken получает свежий одноразовый CSRF-токен. При активной сессии
// сервер привязывает его к пользователю по cookie.
func (a *Agent) CSRFToken(ctx context.Context) (string, error) {
	const op = "client.CSRFToken"

	path := "/csrf"
	if cur := a.Current(); cur != nil && cur.UserID != "" {
		path += "?user_id=" + cur.UserID
	}

	var resp csrfResponse
	if err := a.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return resp.Token, nil
}

// SecureRequest выполняет изменяющий запрос: сначала получает CSRF-токен,
// затем отправляет его в X-CSRF-Token вместе с cookie сессии.
// Тело ответа закрывает вызывающий.
func (a *Agent) SecureRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	const op = "client.SecureRequest"

	tok, err := a.CSRFToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	req, err := a.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set(CSRFHeader, tok)

	resp, err := a.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return resp, nil
}
