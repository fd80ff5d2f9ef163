package organization

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu     sync.RWMutex
	orgs   map[int64]*Organization
	nextID int64
}

// NewMemoryStore creates an in-memory organization store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orgs:   make(map[int64]*Organization),
		nextID: 1,
	}
}

func (m *MemoryStore) Get(ctx context.Context, id int64) (*Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	org, ok := m.orgs[id]
	if !ok {
		return nil, ErrOrganizationNotFound
	}
	cp := *org
	return &cp, nil
}

func (m *MemoryStore) GetByStripeCustomer(ctx context.Context, customerID string) (*Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, org := range m.orgs {
		if org.StripeCustomerID != "" && org.StripeCustomerID == customerID {
			cp := *org
			return &cp, nil
		}
	}
	return nil, ErrOrganizationNotFound
}

func (m *MemoryStore) Insert(ctx context.Context, org *Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	org.ID = m.nextID
	m.nextID++
	cp := *org
	m.orgs[org.ID] = &cp
	return nil
}

func (m *MemoryStore) SetPostageBatch(ctx context.Context, orgID int64, batchID string, beeID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.orgs[orgID]
	if !ok {
		return ErrOrganizationNotFound
	}
	org.PostageBatchID = batchID
	org.BeeID = beeID
	org.BatchStatus = BatchStatusCreated
	return nil
}

func (m *MemoryStore) ClearPostageBatch(ctx context.Context, orgID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.orgs[orgID]
	if !ok {
		return ErrOrganizationNotFound
	}
	org.PostageBatchID = ""
	org.BatchStatus = BatchStatusRemoved
	return nil
}

func (m *MemoryStore) SetBatchStatus(ctx context.Context, orgID int64, status BatchStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.orgs[orgID]
	if !ok {
		return ErrOrganizationNotFound
	}
	org.BatchStatus = status
	return nil
}
