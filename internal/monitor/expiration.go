package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Cafe137/swarmy-backend/internal/alert"
	"github.com/Cafe137/swarmy-backend/internal/hive"
)

// expiryAlertThreshold is the TTL below which a batch on any node is worth an
// alert. The maintenance sweep tops up at three days, so anything under one
// day means top-ups have been failing.
const expiryAlertThreshold = 24 * time.Hour

// ExpirationMonitor watches every batch on every node, independent of plan
// bookkeeping. It catches batches the database lost track of.
type ExpirationMonitor struct {
	hive   *hive.Hive
	alerts alert.Sender
	logger *slog.Logger
}

// NewExpirationMonitor creates a batch expiration monitor.
func NewExpirationMonitor(h *hive.Hive, alerts alert.Sender, logger *slog.Logger) *ExpirationMonitor {
	return &ExpirationMonitor{
		hive:   h,
		alerts: alerts,
		logger: logger.With("component", "expiration_monitor"),
	}
}

// Sweep lists all batches across the pool and alerts on imminent expiry.
func (m *ExpirationMonitor) Sweep(ctx context.Context) {
	for _, node := range m.hive.Nodes() {
		batches, err := node.Client.GetAllPostageBatches(ctx)
		if err != nil {
			m.logger.Warn("failed to list batches", "beeId", node.ID, "error", err)
			continue
		}
		for _, batch := range batches {
			if !batch.Usable || batch.BatchTTL < 0 {
				continue
			}
			if ttl := batch.TTL(); ttl < expiryAlertThreshold {
				m.alerts.SendAlert(fmt.Sprintf("batch %s on node %d expires in %s", batch.BatchID, node.ID, ttl.Round(time.Minute)), nil)
			}
		}
		m.logger.Debug("swept node batches", "beeId", node.ID, "batches", len(batches))
	}
}

// ExpirationTimer runs the expiration sweep on a fixed cadence.
type ExpirationTimer struct {
	monitor  *ExpirationMonitor
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewExpirationTimer creates an expiration sweep timer.
func NewExpirationTimer(monitor *ExpirationMonitor, logger *slog.Logger) *ExpirationTimer {
	return &ExpirationTimer{
		monitor:  monitor,
		interval: 30 * time.Minute,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *ExpirationTimer) Running() bool {
	return t.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (t *ExpirationTimer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeSweep(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *ExpirationTimer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *ExpirationTimer) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in expiration timer", "panic", fmt.Sprint(r))
		}
	}()
	t.monitor.Sweep(ctx)
}
