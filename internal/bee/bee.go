// Package bee is a typed HTTP client for the Bee node API.
//
// One Client talks to one node. Swarmy runs a pool of these behind the
// hive load balancer; postage batches are node-local, so batch operations
// must always go through the client of the node that owns the batch.
package bee

import (
	"errors"
	"time"
)

var (
	// ErrBatchNotFound is returned when a postage batch id is unknown to the node.
	ErrBatchNotFound = errors.New("postage batch not found")
	// ErrFileNotFound is returned when a swarm reference cannot be resolved.
	ErrFileNotFound = errors.New("file not found")
	// ErrNotUsable is returned when a created batch never became usable in time.
	ErrNotUsable = errors.New("postage batch did not become usable")
)

// Mode is the bee node's operating mode.
type Mode string

const (
	ModeFull  Mode = "full"
	ModeLight Mode = "light"
	// ModeDev nodes have no chain backing; top-up and dilute are no-ops there.
	ModeDev Mode = "dev"
)

// PostageBatch is a capacity lease on the storage network.
type PostageBatch struct {
	BatchID       string `json:"batchID"`
	Utilization   uint32 `json:"utilization"`
	Usable        bool   `json:"usable"`
	Depth         uint8  `json:"depth"`
	BucketDepth   uint8  `json:"bucketDepth"`
	Amount        string `json:"amount"`
	BatchTTL      int64  `json:"batchTTL"` // seconds; -1 when unknown
	Exists        bool   `json:"exists"`
	ImmutableFlag bool   `json:"immutableFlag"`
}

// TTL returns the batch's remaining time to live.
func (b *PostageBatch) TTL() time.Duration {
	if b.BatchTTL < 0 {
		return 0
	}
	return time.Duration(b.BatchTTL) * time.Second
}

// ChainState is the node's view of the storage-incentives chain state.
type ChainState struct {
	ChainTip     uint64 `json:"chainTip"`
	Block        uint64 `json:"block"`
	TotalAmount  string `json:"totalAmount"`
	CurrentPrice string `json:"currentPrice"` // PLUR per chunk per block
}

// WalletBalance is the node's wallet state.
type WalletBalance struct {
	BZZBalance         string `json:"bzzBalance"` // PLUR
	NativeTokenBalance string `json:"nativeTokenBalance"`
	ChainID            int64  `json:"chainID"`
	WalletAddress      string `json:"walletAddress"`
}

// Topology is a condensed view of the node's kademlia state.
type Topology struct {
	BaseAddr   string `json:"baseAddr"`
	Population int    `json:"population"`
	Connected  int    `json:"connected"`
	Depth      uint8  `json:"depth"`
}

// NodeInfo reports the node's mode.
type NodeInfo struct {
	BeeMode Mode `json:"beeMode"`
}

// FileData is a downloaded file.
type FileData struct {
	Data        []byte
	Name        string
	ContentType string
}

// UploadResult is the reference of an uploaded file.
type UploadResult struct {
	Reference string `json:"reference"`
}
