package hive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Cafe137/swarmy-backend/internal/bee"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testFactory(row Row) *bee.Client {
	return bee.NewClient(bee.Config{URL: row.URL}, testLogger())
}

func newTestHive(t *testing.T, rows ...Row) (*Hive, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	for i := range rows {
		if err := store.Insert(context.Background(), &rows[i]); err != nil {
			t.Fatalf("insert row: %v", err)
		}
	}
	h, err := New(context.Background(), store, testFactory, time.Minute, testLogger())
	if err != nil {
		t.Fatalf("new hive: %v", err)
	}
	return h, store
}

func downloadRow(url string) Row {
	return Row{URL: url, Enabled: true, DownloadEnabled: true, UploadEnabled: true}
}

func TestPickForDownload_Fairness(t *testing.T) {
	const n, m = 3, 10
	h, _ := newTestHive(t,
		downloadRow("http://bee1"),
		downloadRow("http://bee2"),
		downloadRow("http://bee3"),
	)

	for i := 0; i < m; i++ {
		if _, err := h.PickForDownload(); err != nil {
			t.Fatalf("pick %d: %v", i, err)
		}
	}

	// ceil(10/3) = 4
	maxAllowed := int64((m + n - 1) / n)
	for _, node := range h.Nodes() {
		if node.Downloads() > maxAllowed {
			t.Errorf("node %d served %d downloads, max allowed %d", node.ID, node.Downloads(), maxAllowed)
		}
	}
}

func TestPickForDownload_AvoidsUploadingNodes(t *testing.T) {
	h, _ := newTestHive(t, downloadRow("http://bee1"), downloadRow("http://bee2"))

	busy, err := h.NodeByID(1)
	if err != nil {
		t.Fatal(err)
	}
	busy.BeginUpload()

	for i := 0; i < 5; i++ {
		picked, err := h.PickForDownload()
		if err != nil {
			t.Fatalf("pick: %v", err)
		}
		if picked.ID == busy.ID {
			t.Errorf("picked uploading node")
		}
	}
}

func TestPickForDownload_FallsBackWhenAllBusy(t *testing.T) {
	h, _ := newTestHive(t, downloadRow("http://bee1"))

	node, _ := h.NodeByID(1)
	node.BeginUpload()

	picked, err := h.PickForDownload()
	if err != nil {
		t.Fatalf("expected fallback pick, got %v", err)
	}
	if picked.ID != node.ID {
		t.Errorf("expected the busy node as fallback")
	}
}

func TestPickForDownload_NoCapableNodes(t *testing.T) {
	h, _ := newTestHive(t, Row{URL: "http://bee1", Enabled: true, UploadEnabled: true})

	_, err := h.PickForDownload()
	if !errors.Is(err, ErrNoNodesAvailable) {
		t.Fatalf("expected ErrNoNodesAvailable, got %v", err)
	}
}

func TestPickForCreation(t *testing.T) {
	h, _ := newTestHive(t,
		Row{URL: "http://bee1", Enabled: true, DownloadEnabled: true},
		Row{URL: "http://bee2", Enabled: true, UploadEnabled: true},
	)

	node, err := h.PickForCreation()
	if err != nil {
		t.Fatalf("PickForCreation: %v", err)
	}
	if node.ID != 2 {
		t.Errorf("expected upload-enabled node 2, got %d", node.ID)
	}
}

func TestNodeByID_NotFound(t *testing.T) {
	h, _ := newTestHive(t, downloadRow("http://bee1"))

	if _, err := h.NodeByID(99); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestFirstNode_Empty(t *testing.T) {
	h, _ := newTestHive(t)

	if _, err := h.FirstNode(); !errors.Is(err, ErrNoNodesAvailable) {
		t.Fatalf("expected ErrNoNodesAvailable, got %v", err)
	}
}

func TestRefresh_ReplacesSnapshotAndResetsCounters(t *testing.T) {
	h, store := newTestHive(t, downloadRow("http://bee1"))

	if _, err := h.PickForDownload(); err != nil {
		t.Fatal(err)
	}
	node, _ := h.NodeByID(1)
	if node.Downloads() != 1 {
		t.Fatalf("counter = %d", node.Downloads())
	}

	second := downloadRow("http://bee2")
	if err := store.Insert(context.Background(), &second); err != nil {
		t.Fatal(err)
	}
	if err := h.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	nodes := h.Nodes()
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes after refresh, got %d", len(nodes))
	}
	for _, n := range nodes {
		if n.Downloads() != 0 {
			t.Errorf("counters must reset with the snapshot, node %d has %d", n.ID, n.Downloads())
		}
	}
}

func TestRefresh_ExcludesDisabledRows(t *testing.T) {
	disabled := Row{URL: "http://bee2", Enabled: false, DownloadEnabled: true}
	h, _ := newTestHive(t, downloadRow("http://bee1"), disabled)

	if len(h.Nodes()) != 1 {
		t.Fatalf("expected only enabled nodes, got %d", len(h.Nodes()))
	}
}
