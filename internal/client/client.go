// client — агент клиентской сессии: держит текущую сессию, продлевает
// access-токен по таймеру и оборачивает изменяющие запросы CSRF-токеном.
//
// Основные аспекты:
//   - токены живут только в cookie jar http.Client; наружу и в хранилище
//     снимков они не попадают;
//   - любая ошибка продления завершает сессию (без тихих повторов) и вызывает
//     OnLogout;
//   - после Logout ни одно продление не применяется.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"
)

// DefaultRenewInterval — период продления access-токена (меньше его срока жизни).
const DefaultRenewInterval = 10 * time.Minute

var (
	// ErrNoSession — на сервере нет действующей сессии.
	ErrNoSession = errors.New("no active session")
)

// APIError — ошибка, которую вернул сервер.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("auth api: status %d", e.Status)
	}

	return fmt.Sprintf("auth api: status %d: %s: %s", e.Status, e.Code, e.Message)
}

// Options — параметры агента.
type Options struct {
	// BaseURL — адрес сервиса, например "https://hub.example.org/api".
	BaseURL string
	// HTTPClient — клиент с cookie jar. Nil — создаётся новый jar.
	HTTPClient *http.Client
	// RenewInterval — период продления; 0 — DefaultRenewInterval.
	RenewInterval time.Duration
	// Store хранит снимок сессии; nil — MemoryStore.
	Store SnapshotStore
	Logger *slog.Logger
	// OnLogout вызывается при каждом завершении сессии (явном или вынужденном).
	// reason == nil для явного Logout.
	OnLogout func(reason error)
}

// Agent — агент клиентской сессии. Безопасен для конкурентного использования.
type Agent struct {
	baseURL  string
	hc       *http.Client
	interval time.Duration
	store    SnapshotStore
	log      *slog.Logger
	onLogout func(reason error)

	mu      sync.Mutex
	current *Snapshot
	cancel  context.CancelFunc
	done    chan struct{}
}

// New создаёт агента.
func New(opts Options) (*Agent, error) {
	const op = "client.New"

	if opts.BaseURL == "" {
		return nil, fmt.Errorf("%s: base url is empty", op)
	}

	hc := opts.HTTPClient
	if hc == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		hc = &http.Client{Jar: jar, Timeout: 15 * time.Second}
	}
	if hc.Jar == nil {
		return nil, fmt.Errorf("%s: http client must have a cookie jar", op)
	}

	if opts.RenewInterval <= 0 {
		opts.RenewInterval = DefaultRenewInterval
	}
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.OnLogout == nil {
		opts.OnLogout = func(error) {}
	}

	return &Agent{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		hc:       hc,
		interval: opts.RenewInterval,
		store:    opts.Store,
		log:      opts.Logger,
		onLogout: opts.OnLogout,
	}, nil
}

// Current возвращает снимок текущей сессии или nil.
func (a *Agent) Current() *Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil {
		return nil
	}

	s := *a.current
	return &s
}

// newRequest собирает запрос к сервису. Все запросы агента помечены
// X-Requested-With: XMLHttpRequest.
func (a *Agent) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, rd)
	if err != nil {
		return nil, err
	}

	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// call выполняет запрос и декодирует JSON-ответ в out. Статус не 2xx — *APIError.
func (a *Agent) call(ctx context.Context, method, path string, body, out any) error {
	req, err := a.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := a.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
	}

	return apiErr
}
