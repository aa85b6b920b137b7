package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	logctx "github.com/pribylovaa/volunteer-hub/internal/pkg/log"
)

// RegisterInput — данные регистрации.
type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Phone    string `json:"phone,omitempty"`
}

type authUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type sessionResponse struct {
	Success bool     `json:"success"`
	User    authUser `json:"user"`
}

type verifyResponse struct {
	Valid  bool   `json:"valid"`
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Init восстанавливает сессию при старте: если сервер подтверждает
// access-токен из cookie, запускается продление, иначе снимок очищается
// и возвращается ErrNoSession.
func (a *Agent) Init(ctx context.Context) (*Snapshot, error) {
	const op = "client.Init"

	var v verifyResponse
	err := a.call(ctx, http.MethodGet, "/auth?verify_token=1", nil, &v)

	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized, err == nil && !v.Valid:
		if cerr := a.store.Clear(ctx); cerr != nil {
			a.log.Warn("session_snapshot_clear_failed", logctx.Err(cerr))
		}
		a.setCurrent(nil)
		return nil, fmt.Errorf("%s: %w", op, ErrNoSession)
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	snap, err := a.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if snap == nil || snap.UserID != v.UserID {
		snap = &Snapshot{UserID: v.UserID, Role: v.Role, LoginAt: time.Now().UTC()}
		if err := a.store.Save(ctx, snap); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	a.setCurrent(snap)
	a.startRenewal()

	return a.Current(), nil
}

// Login выполняет вход по паролю.
func (a *Agent) Login(ctx context.Context, email, password string) (*Snapshot, error) {
	return a.establish(ctx, "client.Login", map[string]string{
		"action":   "login",
		"email":    email,
		"password": password,
	})
}

// Register регистрирует пользователя и сразу открывает сессию.
func (a *Agent) Register(ctx context.Context, in RegisterInput) (*Snapshot, error) {
	return a.establish(ctx, "client.Register", struct {
		Action string `json:"action"`
		RegisterInput
	}{Action: "register", RegisterInput: in})
}

// FederatedLogin выполняет вход через внешнего провайдера по его ID token.
func (a *Agent) FederatedLogin(ctx context.Context, provider, idToken string) (*Snapshot, error) {
	return a.establish(ctx, "client.FederatedLogin", map[string]string{
		"action":   "oauth_" + provider,
		"id_token": idToken,
	})
}

func (a *Agent) establish(ctx context.Context, op string, body any) (*Snapshot, error) {
	var resp sessionResponse
	if err := a.call(ctx, http.MethodPost, "/auth", body, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	snap := sanitize(Snapshot{
		UserID:  resp.User.ID,
		Name:    resp.User.Name,
		Email:   resp.User.Email,
		Role:    resp.User.Role,
		LoginAt: time.Now().UTC().Truncate(time.Second),
	})

	if err := a.store.Save(ctx, &snap); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	a.setCurrent(&snap)
	a.startRenewal()

	a.log.Info("session_started", slog.String("user_id", snap.UserID))

	return a.Current(), nil
}

// Logout останавливает продление, выполняет выход на сервере (ошибки
// игнорируются), очищает снимок и всегда вызывает OnLogout.
func (a *Agent) Logout(ctx context.Context) {
	a.stopRenewal(true)

	if err := a.call(ctx, http.MethodPost, "/auth", map[string]string{"action": "logout"}, nil); err != nil {
		a.log.Warn("logout_request_failed", logctx.Err(err))
	}

	a.endLocal(ctx, nil)
}

// LogoutEverywhere отзывает все сессии пользователя на сервере (CSRF-защищённый
// запрос) и завершает локальную сессию.
func (a *Agent) LogoutEverywhere(ctx context.Context) error {
	const op = "client.LogoutEverywhere"

	a.stopRenewal(true)

	resp, err := a.SecureRequest(ctx, http.MethodPost, "/auth", map[string]string{"action": "logout_all"})
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			err = decodeAPIError(resp)
		}
	}

	if err != nil {
		// Сессия на этом устройстве всё равно завершается.
		_ = a.call(ctx, http.MethodPost, "/auth", map[string]string{"action": "logout"}, nil)
		a.endLocal(ctx, nil)
		return fmt.Errorf("%s: %w", op, err)
	}

	a.endLocal(ctx, nil)
	return nil
}

func (a *Agent) endLocal(ctx context.Context, reason error) {
	if err := a.store.Clear(ctx); err != nil {
		a.log.Warn("session_snapshot_clear_failed", logctx.Err(err))
	}

	a.setCurrent(nil)
	a.onLogout(reason)
}

func (a *Agent) setCurrent(s *Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.current = s
}

// startRenewal запускает (или перезапускает) цикл продления.
func (a *Agent) startRenewal() {
	a.stopRenewal(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	a.mu.Lock()
	a.cancel, a.done = cancel, done
	a.mu.Unlock()

	go a.renewLoop(ctx, done)
}

// stopRenewal отменяет цикл продления. wait ждёт выхода горутины, чтобы
// начатое продление не применилось после выхода.
func (a *Agent) stopRenewal(wait bool) {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	if wait {
		<-done
	}
}

func (a *Agent) renewLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	t := time.NewTicker(a.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		if ctx.Err() != nil {
			return
		}

		err := a.call(ctx, http.MethodPost, "/auth", map[string]string{"action": "refresh"}, nil)

		// Выход произошёл во время продления: результат не применяем.
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			a.log.Warn("session_renew_failed", logctx.Err(err))
			a.forceLogout(ctx, err)
			return
		}

		a.log.Debug("session_renewed")
	}
}

// forceLogout вызывается из цикла продления: горутина сама себя не ждёт.
func (a *Agent) forceLogout(ctx context.Context, reason error) {
	a.mu.Lock()
	if a.done == nil {
		// Logout уже идёт.
		a.mu.Unlock()
		return
	}
	cancel := a.cancel
	a.cancel, a.done = nil, nil
	a.mu.Unlock()

	cancel()

	bg := context.WithoutCancel(ctx)
	if err := a.call(bg, http.MethodPost, "/auth", map[string]string{"action": "logout"}, nil); err != nil {
		a.log.Warn("logout_request_failed", logctx.Err(err))
	}

	a.endLocal(bg, reason)
}
