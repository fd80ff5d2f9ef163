package plan

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu     sync.RWMutex
	plans  map[int64]*Plan
	nextID int64
}

// NewMemoryStore creates an in-memory plan store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans:  make(map[int64]*Plan),
		nextID: 1,
	}
}

func (m *MemoryStore) Insert(ctx context.Context, plan *Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	plan.ID = m.nextID
	m.nextID++
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now()
	}
	cp := *plan
	m.plans[plan.ID] = &cp
	return nil
}

func (m *MemoryStore) GetByID(ctx context.Context, orgID, planID int64) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	plan, ok := m.plans[planID]
	if !ok || plan.OrganizationID != orgID {
		return nil, ErrPlanNotFound
	}
	cp := *plan
	return &cp, nil
}

func (m *MemoryStore) GetActive(ctx context.Context, orgID int64) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, plan := range m.plans {
		if plan.OrganizationID == orgID && plan.Status == StatusActive {
			cp := *plan
			return &cp, nil
		}
	}
	return nil, ErrNoActivePlan
}

func (m *MemoryStore) ListActive(ctx context.Context) ([]Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Plan
	for _, plan := range m.plans {
		if plan.Status == StatusActive {
			out = append(out, *plan)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, planID int64, status Status, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	plan, ok := m.plans[planID]
	if !ok {
		return ErrPlanNotFound
	}
	plan.Status = status
	plan.StatusReason = reason
	return nil
}

func (m *MemoryStore) SetPaidUntil(ctx context.Context, planID int64, paidUntil time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	plan, ok := m.plans[planID]
	if !ok {
		return ErrPlanNotFound
	}
	plan.PaidUntil = &paidUntil
	return nil
}

func (m *MemoryStore) SetCancelAt(ctx context.Context, planID int64, cancelAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	plan, ok := m.plans[planID]
	if !ok {
		return ErrPlanNotFound
	}
	plan.CancelAt = &cancelAt
	return nil
}
