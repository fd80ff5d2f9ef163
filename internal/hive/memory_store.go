package hive

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory bee store for demo/development mode.
type MemoryStore struct {
	mu     sync.RWMutex
	rows   map[int64]*Row
	nextID int64
}

// NewMemoryStore creates a new in-memory bee store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[int64]*Row)}
}

func (m *MemoryStore) ListEnabled(_ context.Context) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Row
	// Stable id order so the balancer's tie-breaking is deterministic.
	for id := int64(1); id <= m.nextID; id++ {
		if row, ok := m.rows[id]; ok && row.Enabled {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (m *MemoryStore) Insert(_ context.Context, row *Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	row.ID = m.nextID
	cp := *row
	m.rows[row.ID] = &cp
	return nil
}

func (m *MemoryStore) Update(_ context.Context, row *Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rows[row.ID]; !ok {
		return ErrNodeNotFound
	}
	cp := *row
	m.rows[row.ID] = &cp
	return nil
}
