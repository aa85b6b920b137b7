package client

import (
	"context"
	"html"
	"sync"
	"time"
)

// Snapshot — санитизированный снимок сессии для отображения.
// Пароль и refresh-токен в него никогда не попадают.
type Snapshot struct {
	UserID  string
	Name    string
	Email   string
	Role    string
	LoginAt time.Time
}

// sanitize экранирует поля, которые клиент может вывести в HTML.
func sanitize(s Snapshot) Snapshot {
	s.Name = html.EscapeString(s.Name)
	s.Email = html.EscapeString(s.Email)
	s.Role = html.EscapeString(s.Role)
	s.UserID = html.EscapeString(s.UserID)
	return s
}

// SnapshotStore хранит снимок текущей сессии.
type SnapshotStore interface {
	// Load возвращает (nil, nil), если снимка нет.
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, s *Snapshot) error
	Clear(ctx context.Context) error
}

// MemoryStore — хранилище снимка в памяти процесса.
type MemoryStore struct {
	mu   sync.Mutex
	snap *Snapshot
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Load(context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.snap == nil {
		return nil, nil
	}

	s := *m.snap
	return &s, nil
}

func (m *MemoryStore) Save(_ context.Context, s *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *s
	m.snap = &c
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snap = nil
	return nil
}
