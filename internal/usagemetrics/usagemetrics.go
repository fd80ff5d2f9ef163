// Package usagemetrics accounts upload and download volume against plan quotas.
package usagemetrics

import (
	"context"
	"errors"
	"time"
)

var (
	ErrMetricNotFound = errors.New("usage metric not found")
	ErrQuotaExceeded  = errors.New("usage quota exceeded")
)

// MetricType identifies the direction being accounted.
type MetricType string

const (
	TypeUploadedBytes   MetricType = "UPLOADED_BYTES"
	TypeDownloadedBytes MetricType = "DOWNLOADED_BYTES"
)

// chunkSize is the granularity volume is charged at. Swarm stores data in
// 4096-byte chunks, each carried with ~4k of overhead on the wire.
const chunkSize = 8192

// periodDays is the length of an accounting period once a plan is paid.
const periodDays = 30

// Metric is the current accounting period for one direction of traffic.
type Metric struct {
	ID             int64      `json:"id"`
	OrganizationID int64      `json:"organizationId"`
	Type           MetricType `json:"type"`
	Used           int64      `json:"used"`
	Available      int64      `json:"available"`
	PeriodEndsAt   time.Time  `json:"periodEndsAt"`
}

// Store persists usage metrics.
type Store interface {
	GetCurrent(ctx context.Context, orgID int64, t MetricType) (*Metric, error)
	ListForOrganization(ctx context.Context, orgID int64) ([]Metric, error)
	// ListExpired returns every organization's current-period metric whose
	// period ended at or before now.
	ListExpired(ctx context.Context, now time.Time) ([]Metric, error)
	Insert(ctx context.Context, m *Metric) error
	Update(ctx context.Context, m *Metric) error
}

// Service provides quota accounting.
type Service struct {
	store Store
}

// NewService creates a usage metrics service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// roundUp charges traffic in whole chunks.
func roundUp(bytes int64) int64 {
	if bytes <= 0 {
		return 0
	}
	chunks := (bytes + chunkSize - 1) / chunkSize
	return chunks * chunkSize
}

// IncrementOrFail charges bytes against the current period and fails with
// ErrQuotaExceeded when the rounded total would go over the quota. On
// rejection nothing is recorded.
func (s *Service) IncrementOrFail(ctx context.Context, orgID int64, t MetricType, bytes int64) error {
	m, err := s.store.GetCurrent(ctx, orgID, t)
	if err != nil {
		return err
	}
	charged := roundUp(bytes)
	if m.Used+charged > m.Available {
		return ErrQuotaExceeded
	}
	m.Used += charged
	return s.store.Update(ctx, m)
}

// CreateInitialMetrics opens the first accounting period for a new
// organization with zero quota in both directions.
func (s *Service) CreateInitialMetrics(ctx context.Context, orgID int64) error {
	ends := endOfMonth(time.Now())
	for _, t := range []MetricType{TypeUploadedBytes, TypeDownloadedBytes} {
		m := &Metric{
			OrganizationID: orgID,
			Type:           t,
			PeriodEndsAt:   ends,
		}
		if err := s.store.Insert(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// UpgradeCurrentMetrics raises the quotas of the current period in place.
// Used counters are kept so an upgrade mid-period does not grant a refund.
func (s *Service) UpgradeCurrentMetrics(ctx context.Context, orgID, uploadLimit, downloadLimit int64) error {
	limits := map[MetricType]int64{
		TypeUploadedBytes:   uploadLimit,
		TypeDownloadedBytes: downloadLimit,
	}
	for t, limit := range limits {
		m, err := s.store.GetCurrent(ctx, orgID, t)
		if err != nil {
			return err
		}
		m.Available = limit
		if err := s.store.Update(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// ResetForOrganization zeroes the used counters and starts a fresh period
// ending one period from now. Called when the first plan of an organization
// activates so trial traffic does not count against the paid quota.
func (s *Service) ResetForOrganization(ctx context.Context, orgID int64) error {
	metrics, err := s.store.ListForOrganization(ctx, orgID)
	if err != nil {
		return err
	}
	ends := time.Now().AddDate(0, 0, periodDays)
	for i := range metrics {
		metrics[i].Used = 0
		metrics[i].PeriodEndsAt = ends
		if err := s.store.Update(ctx, &metrics[i]); err != nil {
			return err
		}
	}
	return nil
}

// RolloverExpired starts a fresh period for every metric whose period has
// ended: the used counter is zeroed and the period end advances in whole
// periods until it is in the future. Quotas carry over unchanged. Returns the
// number of metrics rolled over.
func (s *Service) RolloverExpired(ctx context.Context) (int, error) {
	now := time.Now()
	expired, err := s.store.ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	for i := range expired {
		expired[i].Used = 0
		for !expired[i].PeriodEndsAt.After(now) {
			expired[i].PeriodEndsAt = expired[i].PeriodEndsAt.AddDate(0, 0, periodDays)
		}
		if err := s.store.Update(ctx, &expired[i]); err != nil {
			return i, err
		}
	}
	return len(expired), nil
}

// GetForOrganization returns the current period metrics for both directions.
func (s *Service) GetForOrganization(ctx context.Context, orgID int64) ([]Metric, error) {
	return s.store.ListForOrganization(ctx, orgID)
}

func endOfMonth(now time.Time) time.Time {
	firstOfNext := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return firstOfNext
}
