package usagemetrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// RolloverTimer periodically rolls expired accounting periods over so quotas
// renew without a billing event.
type RolloverTimer struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewRolloverTimer creates a period rollover timer.
func NewRolloverTimer(service *Service, logger *slog.Logger) *RolloverTimer {
	return &RolloverTimer{
		service:  service,
		interval: 5 * time.Minute,
		logger:   logger.With("component", "usage_rollover_timer"),
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *RolloverTimer) Running() bool {
	return t.running.Load()
}

// Start begins the rollover loop. Call in a goroutine.
func (t *RolloverTimer) Start(ctx context.Context) {
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
			t.safeRollover(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *RolloverTimer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *RolloverTimer) safeRollover(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in rollover timer", "panic", fmt.Sprint(r))
		}
	}()
	n, err := t.service.RolloverExpired(ctx)
	if err != nil {
		t.logger.Error("failed to roll over usage periods", "error", err)
		return
	}
	if n > 0 {
		t.logger.Info("rolled over usage periods", "metrics", n)
	}
}
