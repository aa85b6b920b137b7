package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pribylovaa/volunteer-hub/internal/models"
	"github.com/pribylovaa/volunteer-hub/internal/storage"
)

// Интеграционные тесты пакета postgres:
// - поднимают реальный PostgreSQL через testcontainers-go (образ postgres:16-alpine);
// - применяют встроенные миграции через Migrate (goose);
// - проверяют пользователей, refresh-токены, одноразовые CSRF-токены и журнал попыток входа.
//
// Запуск локально:
//   GO_TEST_INTEGRATION=1 go test ./internal/storage/postgres -v -race -count=1

// startPostgres — поднимает временный PostgreSQL, применяет миграции и
// возвращает хранилище. Без GO_TEST_INTEGRATION тест пропускается.
func startPostgres(t *testing.T) *Storage {
	t.Helper()
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_USER": "user", "POSTGRES_PASSWORD": "pass", "POSTGRES_DB": "db"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://user:pass@%s:%s/db?sslmode=disable", host, port.Port())

	require.NoError(t, Migrate(ctx, dsn))

	st, err := New(ctx, dsn, PoolOptions{MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(st.Close)

	return st
}

func newUser(email string) *models.User {
	now := time.Now().UTC()
	return &models.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: "hash",
		Role:         models.RoleVolunteer,
		Name:         "Jane Doe",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestIntegration_Users(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	u := newUser("User@Example.Com")
	u.Phone = "+1 555 123 4567"
	require.NoError(t, st.SaveUser(ctx, u))

	got, err := st.UserByEmail(ctx, "user@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.Equal(t, models.RoleVolunteer, got.Role)
	require.Equal(t, "+1 555 123 4567", got.Phone)

	got, err = st.UserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "Jane Doe", got.Name)

	// CITEXT: тот же email в другом регистре — конфликт.
	err = st.SaveUser(ctx, newUser("USER@EXAMPLE.COM"))
	require.ErrorIs(t, err, storage.ErrAlreadyExists)

	_, err = st.UserByEmail(ctx, "missing@example.com")
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = st.UserByID(ctx, uuid.New())
	require.ErrorIs(t, err, storage.ErrNotFound)

	at := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, st.UpdatePasswordHash(ctx, u.ID, "rehashed", at))
	got, err = st.UserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "rehashed", got.PasswordHash)

	err = st.UpdatePasswordHash(ctx, uuid.New(), "x", at)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIntegration_RefreshTokens(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	u := newUser("refresh@example.com")
	require.NoError(t, st.SaveUser(ctx, u))

	now := time.Now().UTC()
	expired := &models.RefreshToken{TokenHash: "old", UserID: u.ID, CreatedAt: now.Add(-8 * 24 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	require.NoError(t, st.SaveRefreshToken(ctx, expired, now.Add(-2*time.Hour)))

	fresh := &models.RefreshToken{TokenHash: "new", UserID: u.ID, CreatedAt: now, ExpiresAt: now.Add(7 * 24 * time.Hour)}
	require.NoError(t, st.SaveRefreshToken(ctx, fresh, now))

	// просроченная запись пользователя удалена при сохранении новой.
	deleted, err := st.DeleteRefreshToken(ctx, u.ID, "old")
	require.NoError(t, err)
	require.False(t, deleted)

	got, err := st.RefreshToken(ctx, u.ID, "new", now)
	require.NoError(t, err)
	require.Equal(t, u.ID, got.UserID)

	// чужой пользователь не видит токен.
	_, err = st.RefreshToken(ctx, uuid.New(), "new", now)
	require.ErrorIs(t, err, storage.ErrNotFound)

	// после истечения токен не валиден.
	_, err = st.RefreshToken(ctx, u.ID, "new", now.Add(8*24*time.Hour))
	require.ErrorIs(t, err, storage.ErrNotFound)

	// дубликат хэша.
	err = st.SaveRefreshToken(ctx, fresh, now)
	require.ErrorIs(t, err, storage.ErrAlreadyExists)

	// несуществующий пользователь — FK.
	err = st.SaveRefreshToken(ctx, &models.RefreshToken{TokenHash: "x", UserID: uuid.New(), CreatedAt: now, ExpiresAt: now.Add(time.Hour)}, now)
	require.ErrorIs(t, err, storage.ErrNotFound)

	deleted, err = st.DeleteRefreshToken(ctx, u.ID, "new")
	require.NoError(t, err)
	require.True(t, deleted)

	_, err = st.RefreshToken(ctx, u.ID, "new", now)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIntegration_RefreshTokens_DeleteUserAndExpired(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	u := newUser("bulk@example.com")
	require.NoError(t, st.SaveUser(ctx, u))

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		require.NoError(t, st.SaveRefreshToken(ctx, &models.RefreshToken{
			TokenHash: fmt.Sprintf("h%d", i),
			UserID:    u.ID,
			CreatedAt: now,
			ExpiresAt: now.Add(time.Duration(i+1) * time.Hour),
		}, now))
	}

	n, err := st.DeleteExpiredRefreshTokens(ctx, now.Add(90*time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	hashes, err := st.DeleteUserRefreshTokens(ctx, u.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"h1", "h2"}, hashes)
}

func TestIntegration_CSRF_OwnerRules(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC()

	owner := uuid.New()
	other := uuid.New()

	require.NoError(t, st.SaveCSRFToken(ctx, &models.CSRFToken{TokenHash: "bound", OwnerID: &owner, ExpiresAt: now.Add(time.Hour)}, now))
	require.NoError(t, st.SaveCSRFToken(ctx, &models.CSRFToken{TokenHash: "anon", ExpiresAt: now.Add(time.Hour)}, now))

	// чужой владелец и анонимный запрос не потребляют привязанный токен.
	_, err := st.ConsumeCSRFToken(ctx, "bound", &other, true, now)
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = st.ConsumeCSRFToken(ctx, "bound", nil, true, now)
	require.ErrorIs(t, err, storage.ErrNotFound)

	got, err := st.ConsumeCSRFToken(ctx, "bound", &owner, false, now)
	require.NoError(t, err)
	require.NotNil(t, got.OwnerID)
	require.Equal(t, owner, *got.OwnerID)

	// одноразовость.
	_, err = st.ConsumeCSRFToken(ctx, "bound", &owner, false, now)
	require.ErrorIs(t, err, storage.ErrNotFound)

	// анонимный токен при наличии владельца — только с явным разрешением.
	_, err = st.ConsumeCSRFToken(ctx, "anon", &owner, false, now)
	require.ErrorIs(t, err, storage.ErrNotFound)
	got, err = st.ConsumeCSRFToken(ctx, "anon", &owner, true, now)
	require.NoError(t, err)
	require.Nil(t, got.OwnerID)
}

func TestIntegration_CSRF_ExpiryAndSweep(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, st.SaveCSRFToken(ctx, &models.CSRFToken{TokenHash: "t1", ExpiresAt: now.Add(time.Minute)}, now))

	_, err := st.ConsumeCSRFToken(ctx, "t1", nil, false, now.Add(2*time.Minute))
	require.ErrorIs(t, err, storage.ErrNotFound)

	n, err := st.DeleteExpiredCSRFTokens(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestIntegration_CSRF_ConcurrentConsume_SingleWinner(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, st.SaveCSRFToken(ctx, &models.CSRFToken{TokenHash: "race", ExpiresAt: now.Add(time.Hour)}, now))

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.ConsumeCSRFToken(ctx, "race", nil, false, now); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, wins.Load())
}

func TestIntegration_LoginAttempts(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, st.RecordLoginAttempt(ctx, "a@example.com", now.Add(-20*time.Minute)))
	require.NoError(t, st.RecordLoginAttempt(ctx, "a@example.com", now.Add(-time.Minute)))
	require.NoError(t, st.RecordLoginAttempt(ctx, "A@Example.com", now))
	require.NoError(t, st.RecordLoginAttempt(ctx, "b@example.com", now))

	n, err := st.CountLoginAttempts(ctx, "a@example.com", now.Add(-15*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	deleted, err := st.DeleteLoginAttemptsBefore(ctx, now.Add(-15*time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	require.NoError(t, st.ClearLoginAttempts(ctx, "a@example.com"))

	n, err = st.CountLoginAttempts(ctx, "a@example.com", now.Add(-time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = st.CountLoginAttempts(ctx, "b@example.com", now.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
