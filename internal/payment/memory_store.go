package payment

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	payments map[int64]*Payment
	nextID   int64
}

// NewMemoryStore creates an in-memory payment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments: make(map[int64]*Payment),
		nextID:   1,
	}
}

func (m *MemoryStore) Insert(ctx context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.nextID
	m.nextID++
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *MemoryStore) GetByMerchantTransactionID(ctx context.Context, merchantTxID string) ([]Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Payment
	for _, p := range m.payments {
		if p.MerchantTransactionID == merchantTxID {
			out = append(out, *p)
		}
	}
	slices.SortFunc(out, func(a, b Payment) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id int64, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return ErrPaymentNotFound
	}
	p.Status = status
	return nil
}

func (m *MemoryStore) ListPendingByProvider(ctx context.Context, provider Provider) ([]Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Payment
	for _, p := range m.payments {
		if p.Provider == provider && p.Status == StatusPending {
			out = append(out, *p)
		}
	}
	slices.SortFunc(out, func(a, b Payment) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *MemoryStore) ListByOrganization(ctx context.Context, orgID int64) ([]Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Payment
	for _, p := range m.payments {
		if p.OrganizationID == orgID {
			out = append(out, *p)
		}
	}
	slices.SortFunc(out, func(a, b Payment) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}
