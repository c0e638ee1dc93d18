package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"surveysched/internal/activation"
)

type memoryStore struct {
	mu    sync.RWMutex
	items map[string]activation.Schedule
}

// NewMemory returns an empty in-process store.
func NewMemory() Store {
	return &memoryStore{items: map[string]activation.Schedule{}}
}

func (m *memoryStore) Create(ctx context.Context, id string) (activation.Schedule, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return activation.Schedule{}, ErrEmptyID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; ok {
		return activation.Schedule{}, ErrExists
	}
	s := activation.Schedule{ID: id, UpdatedAt: stamp()}
	m.items[id] = s
	return s, nil
}

func (m *memoryStore) Get(ctx context.Context, id string) (activation.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.items[id]
	if !ok {
		return activation.Schedule{}, ErrNotFound
	}
	return s, nil
}

func (m *memoryStore) List(ctx context.Context) ([]activation.Schedule, error) {
	return m.list(false), nil
}

func (m *memoryStore) ListRecurring(ctx context.Context) ([]activation.Schedule, error) {
	return m.list(true), nil
}

func (m *memoryStore) list(recurringOnly bool) []activation.Schedule {
	m.mu.RLock()
	out := make([]activation.Schedule, 0, len(m.items))
	for _, s := range m.items {
		if recurringOnly && !s.IsRecurring {
			continue
		}
		out = append(out, s)
	}
	m.mu.RUnlock()
	sortByID(out)
	return out
}

func (m *memoryStore) SetBounds(ctx context.Context, id string, b activation.Bounds) (activation.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	if !ok {
		return activation.Schedule{}, ErrNotFound
	}
	b.Apply(&s)
	s.UpdatedAt = stamp()
	m.items[id] = s
	return s, nil
}

func (m *memoryStore) SetActive(ctx context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	s.IsActive = active
	s.UpdatedAt = stamp()
	m.items[id] = s
	return nil
}

func (m *memoryStore) Close() error { return nil }

func sortByID(items []activation.Schedule) {
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
}
