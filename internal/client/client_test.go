package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/volunteer-hub/internal/credentials"
	"github.com/pribylovaa/volunteer-hub/internal/password"
	"github.com/pribylovaa/volunteer-hub/internal/ratelimit"
	"github.com/pribylovaa/volunteer-hub/internal/service"
	"github.com/pribylovaa/volunteer-hub/internal/storage/memory"
	"github.com/pribylovaa/volunteer-hub/internal/token"
	transporthttp "github.com/pribylovaa/volunteer-hub/internal/transport/http"
)

// spy считает обращения к /auth по action и запоминает заголовки.
type spy struct {
	mu      sync.Mutex
	actions map[string]int
	headers []http.Header
}

func (s *spy) count(action string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actions[action]
}

func (s *spy) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.headers = append(s.headers, r.Header.Clone())
		if r.Method == http.MethodPost && r.URL.Path == "/auth" {
			raw, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(raw))
			var in struct {
				Action string `json:"action"`
			}
			_ = json.Unmarshal(raw, &in)
			s.actions[in.Action]++
		}
		s.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func newServer(t *testing.T) (*httptest.Server, *spy) {
	t.Helper()

	hasher, err := password.New(password.Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	require.NoError(t, err)
	codec, err := token.New("client-test-secret-client-test-secret")
	require.NoError(t, err)

	cfg := service.Config{AccessTTL: 15 * time.Minute, RefreshTTL: 7 * 24 * time.Hour}
	st := memory.New()
	svc := service.New(
		credentials.New(st, hasher, credentials.Config{RefreshTTL: cfg.RefreshTTL, CSRFTTL: time.Hour}),
		ratelimit.New(st, ratelimit.Config{MaxAttempts: 5, Window: 15 * time.Minute}, nil),
		codec, nil, cfg,
	)

	sp := &spy{actions: map[string]int{}}
	srv := httptest.NewServer(sp.wrap(transporthttp.NewRouter(svc, transporthttp.Options{})))
	t.Cleanup(srv.Close)

	return srv, sp
}

type logoutRecorder struct {
	mu      sync.Mutex
	calls   int
	reasons []error
}

func (l *logoutRecorder) hook(reason error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	l.reasons = append(l.reasons, reason)
}

func (l *logoutRecorder) snapshot() (int, []error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls, append([]error(nil), l.reasons...)
}

func newAgent(t *testing.T, srv *httptest.Server, interval time.Duration, store SnapshotStore) (*Agent, *logoutRecorder, http.CookieJar) {
	t.Helper()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	rec := &logoutRecorder{}
	a, err := New(Options{
		BaseURL:       srv.URL,
		HTTPClient:    &http.Client{Jar: jar},
		RenewInterval: interval,
		Store:         store,
		OnLogout:      rec.hook,
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.stopRenewal(true) })

	return a, rec, jar
}

func alice() RegisterInput {
	return RegisterInput{Name: "Alice Smith", Email: "alice@example.com", Password: "Str0ngPass!", Role: "volunteer"}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	_, err = New(Options{BaseURL: "http://x", HTTPClient: &http.Client{}})
	require.Error(t, err)

	a, err := New(Options{BaseURL: "http://x/"})
	require.NoError(t, err)
	require.Equal(t, "http://x", a.baseURL)
	require.Equal(t, DefaultRenewInterval, a.interval)
}

func TestRegister_StoresSanitizedSnapshot(t *testing.T) {
	srv, sp := newServer(t)
	store := NewMemoryStore()
	a, _, _ := newAgent(t, srv, time.Hour, store)
	ctx := context.Background()

	snap, err := a.Register(ctx, alice())
	require.NoError(t, err)
	require.Equal(t, "Alice Smith", snap.Name)
	require.Equal(t, "alice@example.com", snap.Email)
	require.Equal(t, "volunteer", snap.Role)
	require.NotEmpty(t, snap.UserID)
	require.False(t, snap.LoginAt.IsZero())

	stored, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, snap, stored)

	sp.mu.Lock()
	for _, h := range sp.headers {
		require.Equal(t, "XMLHttpRequest", h.Get("X-Requested-With"))
	}
	sp.mu.Unlock()
}

func TestSanitize_EscapesHTML(t *testing.T) {
	s := sanitize(Snapshot{Name: `<script>alert(1)</script>`, Email: `a"b@example.com`})
	require.Equal(t, "&lt;script&gt;alert(1)&lt;/script&gt;", s.Name)
	require.Equal(t, "a&#34;b@example.com", s.Email)
}

func TestLogin_WrongPassword(t *testing.T) {
	srv, _ := newServer(t)
	a, _, _ := newAgent(t, srv, time.Hour, nil)
	ctx := context.Background()

	_, err := a.Register(ctx, alice())
	require.NoError(t, err)
	a.Logout(ctx)

	_, err = a.Login(ctx, "alice@example.com", "Wr0ngPass!")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.Status)
	require.Equal(t, "invalid_credentials", apiErr.Code)
	require.Nil(t, a.Current())

	snap, err := a.Login(ctx, "ALICE@example.com", "Str0ngPass!")
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", snap.Email)
}

func TestInit_RestoresOrClears(t *testing.T) {
	srv, _ := newServer(t)
	store := NewMemoryStore()
	a, _, jar := newAgent(t, srv, time.Hour, store)
	ctx := context.Background()

	reg, err := a.Register(ctx, alice())
	require.NoError(t, err)

	// новый агент с теми же cookie и хранилищем.
	b, err := New(Options{BaseURL: srv.URL, HTTPClient: &http.Client{Jar: jar}, RenewInterval: time.Hour, Store: store})
	require.NoError(t, err)
	t.Cleanup(func() { b.stopRenewal(true) })

	snap, err := b.Init(ctx)
	require.NoError(t, err)
	require.Equal(t, reg.UserID, snap.UserID)
	require.Equal(t, reg.Name, snap.Name)

	// без cookie — ErrNoSession, снимок удалён.
	c, _, _ := newAgent(t, srv, time.Hour, store)
	_, err = c.Init(ctx)
	require.ErrorIs(t, err, ErrNoSession)

	left, err := store.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, left)
}

func TestRenewal_RefreshesPeriodically(t *testing.T) {
	srv, sp := newServer(t)
	a, rec, _ := newAgent(t, srv, 20*time.Millisecond, nil)

	_, err := a.Register(context.Background(), alice())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return sp.count("refresh") >= 2 }, 2*time.Second, 10*time.Millisecond)

	calls, _ := rec.snapshot()
	require.Zero(t, calls)
	require.NotNil(t, a.Current())
}

func TestRenewal_FailureForcesLogout(t *testing.T) {
	srv, sp := newServer(t)
	store := NewMemoryStore()
	a, rec, jar := newAgent(t, srv, 20*time.Millisecond, store)
	ctx := context.Background()

	_, err := a.Register(ctx, alice())
	require.NoError(t, err)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	jar.SetCookies(u, []*http.Cookie{{Name: "refresh_token", Value: "garbage", Path: "/"}})

	require.Eventually(t, func() bool {
		calls, _ := rec.snapshot()
		return calls == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, reasons := rec.snapshot()
	var apiErr *APIError
	require.True(t, errors.As(reasons[0], &apiErr))
	require.Equal(t, http.StatusUnauthorized, apiErr.Status)

	require.Nil(t, a.Current())
	left, err := store.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, left)

	// повторов нет.
	n := sp.count("refresh")
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, n, sp.count("refresh"))
}

func TestLogout_StopsRenewal(t *testing.T) {
	srv, sp := newServer(t)
	a, rec, _ := newAgent(t, srv, 20*time.Millisecond, nil)
	ctx := context.Background()

	_, err := a.Register(ctx, alice())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sp.count("refresh") >= 1 }, 2*time.Second, 10*time.Millisecond)

	a.Logout(ctx)

	calls, reasons := rec.snapshot()
	require.Equal(t, 1, calls)
	require.Nil(t, reasons[0])
	require.Nil(t, a.Current())
	require.Equal(t, 1, sp.count("logout"))

	n := sp.count("refresh")
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, n, sp.count("refresh"), "no renewal after logout")

	_, err = a.Init(ctx)
	require.ErrorIs(t, err, ErrNoSession)
}

func TestLogout_WithoutSession(t *testing.T) {
	srv, _ := newServer(t)
	a, rec, _ := newAgent(t, srv, time.Hour, nil)

	a.Logout(context.Background())

	calls, _ := rec.snapshot()
	require.Equal(t, 1, calls, "redirect happens unconditionally")
}

func TestSecureRequest_AttachesCSRF(t *testing.T) {
	srv, sp := newServer(t)
	a, rec, _ := newAgent(t, srv, time.Hour, nil)
	ctx := context.Background()

	_, err := a.Register(ctx, alice())
	require.NoError(t, err)

	require.NoError(t, a.LogoutEverywhere(ctx))
	require.Equal(t, 1, sp.count("logout_all"))
	require.Nil(t, a.Current())

	calls, _ := rec.snapshot()
	require.Equal(t, 1, calls)

	sp.mu.Lock()
	last := sp.headers[len(sp.headers)-1]
	sp.mu.Unlock()
	require.Len(t, last.Get(CSRFHeader), 64)
	require.Equal(t, "XMLHttpRequest", last.Get("X-Requested-With"))
}

func TestSecureRequest_Anonymous(t *testing.T) {
	srv, _ := newServer(t)
	a, _, _ := newAgent(t, srv, time.Hour, nil)

	tok, err := a.CSRFToken(context.Background())
	require.NoError(t, err)
	require.Len(t, tok, 64)
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()

	st, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	got, err := st.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, got)

	at := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, st.Save(ctx, &Snapshot{UserID: "u1", Name: "Alice", Email: "a@example.com", Role: "volunteer", LoginAt: at}))
	require.NoError(t, st.Save(ctx, &Snapshot{UserID: "u2", Name: "Bob", Email: "b@example.com", Role: "organizer", LoginAt: at}))

	got, err = st.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, &Snapshot{UserID: "u2", Name: "Bob", Email: "b@example.com", Role: "organizer", LoginAt: at}, got)

	require.NoError(t, st.Clear(ctx))
	got, err = st.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestAgent_WithSQLiteStore(t *testing.T) {
	srv, _ := newServer(t)
	ctx := context.Background()

	st, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	a, _, _ := newAgent(t, srv, time.Hour, st)

	snap, err := a.Register(ctx, alice())
	require.NoError(t, err)

	stored, err := st.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, snap.UserID, stored.UserID)
	require.True(t, snap.LoginAt.Equal(stored.LoginAt))

	a.Logout(ctx)
	stored, err = st.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, stored)
}
