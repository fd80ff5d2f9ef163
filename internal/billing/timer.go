package billing

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Cafe137/swarmy-backend/internal/payment"
)

// CryptoTimer periodically polls pending crypto charges for settlement.
// Coinbase Commerce webhooks are unreliable behind some ingress setups, so
// polling is the source of truth.
type CryptoTimer struct {
	service  *Service
	charges  ChargeCreator
	payments *payment.Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewCryptoTimer creates a crypto settlement timer.
func NewCryptoTimer(service *Service, charges ChargeCreator, payments *payment.Service, logger *slog.Logger) *CryptoTimer {
	return &CryptoTimer{
		service:  service,
		charges:  charges,
		payments: payments,
		interval: 5 * time.Minute,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *CryptoTimer) Running() bool {
	return t.running.Load()
}

// Start begins the settlement loop. Call in a goroutine.
func (t *CryptoTimer) Start(ctx context.Context) {
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
func (t *CryptoTimer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *CryptoTimer) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in crypto settlement timer", "panic", fmt.Sprint(r))
		}
	}()
	t.sweep(ctx)
}

func (t *CryptoTimer) sweep(ctx context.Context) {
	pending, err := t.payments.ListPendingByProvider(ctx, payment.ProviderCoinbase)
	if err != nil {
		t.logger.Warn("failed to list pending crypto payments", "error", err)
		return
	}
	for _, pay := range pending {
		if err := t.service.SettleCryptoPayment(ctx, t.charges, pay); err != nil {
			t.logger.Warn("failed to settle crypto payment",
				"paymentId", pay.ID,
				"chargeCode", pay.MerchantTransactionID,
				"error", err,
			)
		}
	}
}
