// federated проверяет токены внешних провайдеров входа и возвращает
// подтверждённую провайдером тройку {subject, email, name}.
// Пакет ничего не выдумывает: без ответа провайдера личности нет.
package federated

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrInvalidToken — провайдер не подтвердил токен (в том числе по таймауту).
	ErrInvalidToken = errors.New("invalid provider token")
	// ErrUnknownProvider — провайдер не зарегистрирован.
	ErrUnknownProvider = errors.New("unknown provider")
)

// Identity — подтверждённая провайдером личность.
type Identity struct {
	Provider string
	Subject  string
	Email    string
	Name     string
}

// Verifier проверяет сырой токен провайдера.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Identity, error)
}

// Registry — набор провайдеров по имени ("google").
type Registry struct {
	mu        sync.RWMutex
	verifiers map[string]Verifier
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{verifiers: make(map[string]Verifier)}
}

// Register добавляет или заменяет провайдера.
func (r *Registry) Register(name string, v Verifier) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.verifiers[name] = v
}

// Lookup возвращает провайдера или ErrUnknownProvider.
func (r *Registry) Lookup(name string) (Verifier, error) {
	const op = "federated.Lookup"

	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.verifiers[name]
	if !ok {
		return nil, fmt.Errorf("%s: %q: %w", op, name, ErrUnknownProvider)
	}

	return v, nil
}

// Providers возвращает отсортированные имена зарегистрированных провайдеров.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.verifiers))
	for name := range r.verifiers {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}
