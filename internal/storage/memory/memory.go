// memory — потокобезопасная реализация storage.Storage в памяти процесса.
// Используется в тестах и при локальном запуске без PostgreSQL.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/volunteer-hub/internal/models"
	"github.com/pribylovaa/volunteer-hub/internal/storage"
)

type Storage struct {
	mu       sync.Mutex
	users    map[uuid.UUID]models.User
	byEmail  map[string]uuid.UUID
	refresh  map[string]models.RefreshToken
	csrf     map[string]models.CSRFToken
	attempts map[string][]time.Time
}

// New создаёт пустое хранилище.
func New() *Storage {
	return &Storage{
		users:    make(map[uuid.UUID]models.User),
		byEmail:  make(map[string]uuid.UUID),
		refresh:  make(map[string]models.RefreshToken),
		csrf:     make(map[string]models.CSRFToken),
		attempts: make(map[string][]time.Time),
	}
}

func emailKey(email string) string { return strings.ToLower(email) }

func (s *Storage) SaveUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return storage.ErrAlreadyExists
	}
	if _, ok := s.byEmail[emailKey(user.Email)]; ok {
		return storage.ErrAlreadyExists
	}

	s.users[user.ID] = *user
	s.byEmail[emailKey(user.Email)] = user.ID

	return nil
}

func (s *Storage) UserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[emailKey(email)]
	if !ok {
		return nil, storage.ErrNotFound
	}

	u := s.users[id]
	return &u, nil
}

func (s *Storage) UserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}

	return &u, nil
}

func (s *Storage) UpdatePasswordHash(_ context.Context, id uuid.UUID, hash string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}

	u.PasswordHash = hash
	u.UpdatedAt = updatedAt
	s.users[id] = u

	return nil
}

func (s *Storage) SaveRefreshToken(_ context.Context, token *models.RefreshToken, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[token.UserID]; !ok {
		return storage.ErrNotFound
	}

	for h, t := range s.refresh {
		if t.UserID == token.UserID && !t.ExpiresAt.After(now) {
			delete(s.refresh, h)
		}
	}

	if _, ok := s.refresh[token.TokenHash]; ok {
		return storage.ErrAlreadyExists
	}

	s.refresh[token.TokenHash] = *token

	return nil
}

func (s *Storage) RefreshToken(_ context.Context, userID uuid.UUID, hash string, now time.Time) (*models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.refresh[hash]
	if !ok || t.UserID != userID || !t.ExpiresAt.After(now) {
		return nil, storage.ErrNotFound
	}

	return &t, nil
}

func (s *Storage) DeleteRefreshToken(_ context.Context, userID uuid.UUID, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.refresh[hash]
	if !ok || t.UserID != userID {
		return false, nil
	}

	delete(s.refresh, hash)

	return true, nil
}

func (s *Storage) DeleteUserRefreshTokens(_ context.Context, userID uuid.UUID) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hashes []string
	for h, t := range s.refresh {
		if t.UserID == userID {
			delete(s.refresh, h)
			hashes = append(hashes, h)
		}
	}

	return hashes, nil
}

func (s *Storage) DeleteExpiredRefreshTokens(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for h, t := range s.refresh {
		if !t.ExpiresAt.After(now) {
			delete(s.refresh, h)
			n++
		}
	}

	return n, nil
}

func (s *Storage) SaveCSRFToken(_ context.Context, token *models.CSRFToken, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepCSRFLocked(now)

	if _, ok := s.csrf[token.TokenHash]; ok {
		return storage.ErrAlreadyExists
	}

	stored := *token
	if token.OwnerID != nil {
		owner := *token.OwnerID
		stored.OwnerID = &owner
	}
	s.csrf[token.TokenHash] = stored

	return nil
}

func (s *Storage) ConsumeCSRFToken(_ context.Context, hash string, owner *uuid.UUID, allowAnonymous bool, now time.Time) (*models.CSRFToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.csrf[hash]
	if !ok || !t.ExpiresAt.After(now) {
		return nil, storage.ErrNotFound
	}

	switch {
	case t.OwnerID == nil:
		if owner != nil && !allowAnonymous {
			return nil, storage.ErrNotFound
		}
	case owner == nil || *owner != *t.OwnerID:
		return nil, storage.ErrNotFound
	}

	delete(s.csrf, hash)

	return &t, nil
}

func (s *Storage) DeleteExpiredCSRFTokens(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sweepCSRFLocked(now), nil
}

func (s *Storage) sweepCSRFLocked(now time.Time) int64 {
	var n int64
	for h, t := range s.csrf {
		if !t.ExpiresAt.After(now) {
			delete(s.csrf, h)
			n++
		}
	}

	return n
}

func (s *Storage) RecordLoginAttempt(_ context.Context, identity string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := emailKey(identity)
	s.attempts[key] = append(s.attempts[key], at)

	return nil
}

func (s *Storage) CountLoginAttempts(_ context.Context, identity string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, at := range s.attempts[emailKey(identity)] {
		if !at.Before(since) {
			n++
		}
	}

	return n, nil
}

func (s *Storage) ClearLoginAttempts(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.attempts, emailKey(identity))

	return nil
}

func (s *Storage) DeleteLoginAttemptsBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, list := range s.attempts {
		kept := list[:0]
		for _, at := range list {
			if at.Before(before) {
				n++
				continue
			}
			kept = append(kept, at)
		}

		if len(kept) == 0 {
			delete(s.attempts, key)
		} else {
			s.attempts[key] = kept
		}
	}

	return n, nil
}

func (s *Storage) Ping(context.Context) error { return nil }

func (s *Storage) Close() {}

// Проверка на соответствие интерфейсу Storage.
var _ storage.Storage = (*Storage)(nil)
