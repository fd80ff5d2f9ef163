package postage

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryQueueStore is an in-memory QueueStore for tests and local development.
type MemoryQueueStore struct {
	mu      sync.RWMutex
	creates map[int64]*CreateJob
	topUps  map[int64]*TopUpJob
	dilutes map[int64]*DiluteJob
	nextID  int64
}

// NewMemoryQueueStore creates an in-memory queue store.
func NewMemoryQueueStore() *MemoryQueueStore {
	return &MemoryQueueStore{
		creates: make(map[int64]*CreateJob),
		topUps:  make(map[int64]*TopUpJob),
		dilutes: make(map[int64]*DiluteJob),
		nextID:  1,
	}
}

func (m *MemoryQueueStore) EnqueueCreate(ctx context.Context, job *CreateJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.ID = m.nextID
	m.nextID++
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	cp := *job
	m.creates[job.ID] = &cp
	return nil
}

func (m *MemoryQueueStore) ListCreate(ctx context.Context) ([]CreateJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CreateJob, 0, len(m.creates))
	for _, job := range m.creates {
		out = append(out, *job)
	}
	sortByID(out, func(j CreateJob) int64 { return j.ID })
	return out, nil
}

func (m *MemoryQueueStore) DeleteCreate(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.creates[id]; !ok {
		return ErrJobNotFound
	}
	delete(m.creates, id)
	return nil
}

func (m *MemoryQueueStore) HasPendingCreate(ctx context.Context, orgID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, job := range m.creates {
		if job.OrganizationID == orgID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryQueueStore) EnqueueTopUp(ctx context.Context, job *TopUpJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.ID = m.nextID
	m.nextID++
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	cp := *job
	m.topUps[job.ID] = &cp
	return nil
}

func (m *MemoryQueueStore) ListTopUp(ctx context.Context) ([]TopUpJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TopUpJob, 0, len(m.topUps))
	for _, job := range m.topUps {
		out = append(out, *job)
	}
	sortByID(out, func(j TopUpJob) int64 { return j.ID })
	return out, nil
}

func (m *MemoryQueueStore) DeleteTopUp(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.topUps[id]; !ok {
		return ErrJobNotFound
	}
	delete(m.topUps, id)
	return nil
}

func (m *MemoryQueueStore) HasPendingTopUp(ctx context.Context, batchID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, job := range m.topUps {
		if job.BatchID == batchID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryQueueStore) EnqueueDilute(ctx context.Context, job *DiluteJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.ID = m.nextID
	m.nextID++
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	cp := *job
	m.dilutes[job.ID] = &cp
	return nil
}

func (m *MemoryQueueStore) ListDilute(ctx context.Context) ([]DiluteJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]DiluteJob, 0, len(m.dilutes))
	for _, job := range m.dilutes {
		out = append(out, *job)
	}
	sortByID(out, func(j DiluteJob) int64 { return j.ID })
	return out, nil
}

func (m *MemoryQueueStore) DeleteDilute(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dilutes[id]; !ok {
		return ErrJobNotFound
	}
	delete(m.dilutes, id)
	return nil
}

// sortByID keeps the in-memory listings in enqueue order, matching the
// ORDER BY id of the postgres store.
func sortByID[T any](jobs []T, id func(T) int64) {
	slices.SortFunc(jobs, func(a, b T) int {
		return cmp.Compare(id(a), id(b))
	})
}
