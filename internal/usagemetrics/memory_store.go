package usagemetrics

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	metrics map[int64]*Metric
	nextID  int64
}

// NewMemoryStore creates an in-memory usage metrics store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		metrics: make(map[int64]*Metric),
		nextID:  1,
	}
}

func (m *MemoryStore) GetCurrent(ctx context.Context, orgID int64, t MetricType) (*Metric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *Metric
	for _, metric := range m.metrics {
		if metric.OrganizationID != orgID || metric.Type != t {
			continue
		}
		if latest == nil || metric.PeriodEndsAt.After(latest.PeriodEndsAt) {
			latest = metric
		}
	}
	if latest == nil {
		return nil, ErrMetricNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *MemoryStore) ListForOrganization(ctx context.Context, orgID int64) ([]Metric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Metric
	for _, metric := range m.metrics {
		if metric.OrganizationID == orgID {
			out = append(out, *metric)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListExpired(ctx context.Context, now time.Time) ([]Metric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type key struct {
		orgID int64
		t     MetricType
	}
	current := make(map[key]*Metric)
	for _, metric := range m.metrics {
		k := key{metric.OrganizationID, metric.Type}
		if latest, ok := current[k]; !ok || metric.PeriodEndsAt.After(latest.PeriodEndsAt) {
			current[k] = metric
		}
	}
	var out []Metric
	for _, metric := range current {
		if !metric.PeriodEndsAt.After(now) {
			out = append(out, *metric)
		}
	}
	return out, nil
}

func (m *MemoryStore) Insert(ctx context.Context, metric *Metric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	metric.ID = m.nextID
	m.nextID++
	cp := *metric
	m.metrics[metric.ID] = &cp
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, metric *Metric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.metrics[metric.ID]; !ok {
		return ErrMetricNotFound
	}
	cp := *metric
	m.metrics[metric.ID] = &cp
	return nil
}
