package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Cafe137/swarmy-backend/internal/alert"
	"github.com/Cafe137/swarmy-backend/internal/hive"
	"github.com/Cafe137/swarmy-backend/internal/metrics"
	"github.com/Cafe137/swarmy-backend/internal/postage"
	"github.com/Cafe137/swarmy-backend/internal/token"
)

// minWalletBZZ is the floor below which batch operations start failing and
// the operator needs to fund the nodes.
const minWalletBZZ = 10.0

// ChainBalanceReader cross-checks the node-reported balance against the BZZ
// contract directly.
type ChainBalanceReader interface {
	BZZBalance(ctx context.Context, address string) (*big.Int, error)
}

// WalletMonitor watches the aggregate BZZ balance of the node pool.
type WalletMonitor struct {
	hive   *hive.Hive
	chain  ChainBalanceReader // nil disables the cross-check
	alerts alert.Sender
	logger *slog.Logger
}

// NewWalletMonitor creates a wallet monitor.
func NewWalletMonitor(h *hive.Hive, chain ChainBalanceReader, alerts alert.Sender, logger *slog.Logger) *WalletMonitor {
	return &WalletMonitor{
		hive:   h,
		chain:  chain,
		alerts: alerts,
		logger: logger.With("component", "wallet_monitor"),
	}
}

// TotalBZZ sums the wallet balances of all pool nodes, in BZZ. Dev-mode
// nodes report zero and unreachable nodes are skipped.
func (m *WalletMonitor) TotalBZZ(ctx context.Context) (float64, error) {
	nodes := m.hive.Nodes()
	if len(nodes) == 0 {
		return 0, hive.ErrNoNodesAvailable
	}
	total := 0.0
	reached := 0
	for _, node := range nodes {
		balance, err := node.Client.GetWalletBalance(ctx)
		if err != nil {
			m.logger.Warn("failed to read node wallet", "beeId", node.ID, "error", err)
			continue
		}
		plur, ok := new(big.Int).SetString(balance.BZZBalance, 10)
		if !ok {
			m.logger.Warn("unparseable wallet balance", "beeId", node.ID, "balance", balance.BZZBalance)
			continue
		}
		total += token.ToBZZ(plur)
		reached++

		if m.chain != nil && balance.WalletAddress != "" {
			m.crossCheck(ctx, node.ID, balance.WalletAddress, plur)
		}
	}
	if reached == 0 {
		return 0, fmt.Errorf("no node wallet was reachable")
	}
	return total, nil
}

// crossCheck compares the node's reported balance with the chain. A drift
// means the node is reading a stale or wrong RPC.
func (m *WalletMonitor) crossCheck(ctx context.Context, beeID int64, address string, reported *big.Int) {
	onChain, err := m.chain.BZZBalance(ctx, address)
	if err != nil {
		m.logger.Warn("chain balance lookup failed", "beeId", beeID, "error", err)
		return
	}
	if onChain.Cmp(reported) != 0 {
		m.logger.Warn("node wallet balance disagrees with chain",
			"beeId", beeID,
			"reported", token.ToBZZ(reported),
			"onChain", token.ToBZZ(onChain),
		)
	}
}

// Check reads the pool balance, exports it, and alerts when it sinks below
// the operating floor.
func (m *WalletMonitor) Check(ctx context.Context) {
	total, err := m.TotalBZZ(ctx)
	if err != nil {
		m.logger.Error("wallet check failed", "error", err)
		return
	}
	metrics.WalletBZZBalance.Set(total)
	if total < minWalletBZZ {
		m.alerts.SendAlert(fmt.Sprintf("operator wallet balance is %.4f BZZ, below the %.0f BZZ floor", total, minWalletBZZ), nil)
	}
	m.logger.Info("wallet check", "totalBzz", total)
}

// VerifyBalanceFor checks the pool can fund a batch for the given volume
// before a subscription is sold. Used as the billing preflight.
func (m *WalletMonitor) VerifyBalanceFor(ctx context.Context, gigabytes float64) error {
	node, err := m.hive.FirstNode()
	if err != nil {
		return err
	}
	state, err := node.Client.GetChainState(ctx)
	if err != nil {
		return fmt.Errorf("reading chain state: %w", err)
	}
	price, err := strconv.ParseInt(state.CurrentPrice, 10, 64)
	if err != nil {
		return fmt.Errorf("unparseable storage price %q: %w", state.CurrentPrice, err)
	}
	required := postage.PlanFor(31, gigabytes, price).BZZPrice()
	total, err := m.TotalBZZ(ctx)
	if err != nil {
		return err
	}
	if total <= required {
		return fmt.Errorf("wallet balance %.4f BZZ cannot fund a %.4f BZZ batch", total, required)
	}
	return nil
}

// WalletTimer runs the wallet check on a fixed cadence.
type WalletTimer struct {
	monitor  *WalletMonitor
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewWalletTimer creates a wallet check timer.
func NewWalletTimer(monitor *WalletMonitor, logger *slog.Logger) *WalletTimer {
	return &WalletTimer{
		monitor:  monitor,
		interval: 10 * time.Minute,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *WalletTimer) Running() bool {
	return t.running.Load()
}

// Start begins the check loop. Call in a goroutine.
func (t *WalletTimer) Start(ctx context.Context) {
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
			t.safeCheck(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *WalletTimer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *WalletTimer) safeCheck(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in wallet timer", "panic", fmt.Sprint(r))
		}
	}()
	t.monitor.Check(ctx)
}
