// Package hive maintains the pool of bee nodes and picks nodes per operation.
//
// The hive keeps an in-memory snapshot of the enabled nodes, refreshed on an
// interval. The snapshot is replaced wholesale, never mutated in place, so
// readers always see a consistent point-in-time view. Per-node runtime
// counters live on the snapshot and reset with it; losing a couple minutes of
// load-balancing history is accepted.
package hive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Cafe137/swarmy-backend/internal/bee"
	"github.com/Cafe137/swarmy-backend/internal/metrics"
)

var (
	// ErrNodeNotFound is returned when a node id is absent from the snapshot.
	ErrNodeNotFound = errors.New("bee node not found")
	// ErrNoNodesAvailable is returned when no node can serve the operation.
	ErrNoNodesAvailable = errors.New("no bee nodes available")
)

// Row is the durable description of a bee node.
type Row struct {
	ID              int64
	URL             string
	AuthSecret      string
	Enabled         bool
	UploadEnabled   bool
	DownloadEnabled bool
}

// Store persists bee node rows.
type Store interface {
	// ListEnabled returns all rows with enabled=true.
	ListEnabled(ctx context.Context) ([]Row, error)
	Insert(ctx context.Context, row *Row) error
	Update(ctx context.Context, row *Row) error
}

// Node is a live pool member: a durable row plus its client and runtime
// counters. Counters are soft hints for load balancing, not locks.
type Node struct {
	Row
	Client *bee.Client

	downloads atomic.Int64
	uploading atomic.Bool
}

// Downloads returns the node's cumulative download counter since the last
// snapshot refresh.
func (n *Node) Downloads() int64 {
	return n.downloads.Load()
}

// BeginUpload marks the node busy with an upload. The flag only steers the
// download balancer away from the node; it does not prevent concurrent use.
func (n *Node) BeginUpload() {
	n.uploading.Store(true)
}

// EndUpload clears the upload flag.
func (n *Node) EndUpload() {
	n.uploading.Store(false)
}

// ClientFactory builds a node client from its row.
type ClientFactory func(Row) *bee.Client

// Hive holds the current node snapshot.
type Hive struct {
	store    Store
	factory  ClientFactory
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}

	mu    sync.RWMutex
	nodes []*Node
}

// New creates a hive and loads the initial snapshot.
func New(ctx context.Context, store Store, factory ClientFactory, interval time.Duration, logger *slog.Logger) (*Hive, error) {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	h := &Hive{
		store:    store,
		factory:  factory,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
	if err := h.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("initial hive refresh: %w", err)
	}
	return h, nil
}

// Start begins the periodic refresh loop. Call in a goroutine.
func (h *Hive) Start(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case <-ticker.C:
			if err := h.Refresh(ctx); err != nil {
				h.logger.Warn("hive refresh failed, keeping previous snapshot", "error", err)
			}
		}
	}
}

// Stop signals the refresh loop to stop.
func (h *Hive) Stop() {
	select {
	case h.stop <- struct{}{}:
	default:
	}
}

// Refresh replaces the snapshot with the currently enabled rows. Runtime
// counters are discarded with the old snapshot.
func (h *Hive) Refresh(ctx context.Context) error {
	rows, err := h.store.ListEnabled(ctx)
	if err != nil {
		return err
	}

	nodes := make([]*Node, 0, len(rows))
	for _, row := range rows {
		nodes = append(nodes, &Node{Row: row, Client: h.factory(row)})
	}

	h.mu.Lock()
	h.nodes = nodes
	h.mu.Unlock()

	metrics.HiveNodes.Set(float64(len(nodes)))
	h.logger.Debug("hive refreshed", "nodes", len(nodes))
	return nil
}

// Nodes returns the current snapshot.
func (h *Hive) Nodes() []*Node {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.nodes
}

// NodeByID returns the snapshot node with the given id.
func (h *Hive) NodeByID(id int64) (*Node, error) {
	for _, n := range h.Nodes() {
		if n.ID == id {
			return n, nil
		}
	}
	return nil, fmt.Errorf("%w: id %d", ErrNodeNotFound, id)
}

// FirstNode returns the first node of the snapshot.
func (h *Hive) FirstNode() (*Node, error) {
	nodes := h.Nodes()
	if len(nodes) == 0 {
		return nil, ErrNoNodesAvailable
	}
	return nodes[0], nil
}

// PickForDownload selects the least-loaded download-capable node.
//
// Nodes currently uploading are avoided when possible; if every capable node
// is busy the filter is dropped rather than failing the download. Ties go to
// the first node in snapshot order. The winner's counter is incremented
// before returning.
func (h *Hive) PickForDownload() (*Node, error) {
	nodes := h.Nodes()

	candidates := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		if n.DownloadEnabled && !n.uploading.Load() {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		for _, n := range nodes {
			if n.DownloadEnabled {
				candidates = append(candidates, n)
			}
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w for download", ErrNoNodesAvailable)
	}

	best := candidates[0]
	for _, n := range candidates[1:] {
		if n.Downloads() < best.Downloads() {
			best = n
		}
	}
	best.downloads.Add(1)
	metrics.DownloadPicksTotal.WithLabelValues(strconv.FormatInt(best.ID, 10)).Inc()
	return best, nil
}

// PickForCreation selects the node that will own a new postage batch.
// Batches are node-local, so the organization stays pinned to this node
// afterwards.
func (h *Hive) PickForCreation() (*Node, error) {
	for _, n := range h.Nodes() {
		if n.UploadEnabled {
			return n, nil
		}
	}
	return nil, fmt.Errorf("%w for postage batch creation", ErrNoNodesAvailable)
}
