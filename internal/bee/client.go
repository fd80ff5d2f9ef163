package bee

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Config for a node client.
type Config struct {
	URL string
	// AuthSecret is sent as a bearer token when the node's API is gated.
	AuthSecret string
	// RequestTimeout bounds every call except batch creation.
	RequestTimeout time.Duration
	// CreateTimeout bounds batch creation, which waits for the new batch
	// to become usable on chain and legitimately takes minutes.
	CreateTimeout time.Duration
}

// Client calls one bee node's HTTP API.
type Client struct {
	baseURL      string
	authSecret   string
	http         *http.Client
	createHTTP   *http.Client
	logger       *slog.Logger

	modeOnce sync.Once
	mode     Mode
}

// NewClient creates a client for one node.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	requestTimeout := cfg.RequestTimeout
	if requestTimeout == 0 {
		requestTimeout = 30 * time.Second
	}
	createTimeout := cfg.CreateTimeout
	if createTimeout == 0 {
		createTimeout = 8 * time.Minute
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		authSecret: cfg.AuthSecret,
		http:       &http.Client{Timeout: requestTimeout},
		createHTTP: &http.Client{Timeout: createTimeout},
		logger:     logger,
	}
}

// URL returns the node's base URL.
func (c *Client) URL() string {
	return c.baseURL
}

// GetPostageBatch fetches one batch owned by the node.
func (c *Client) GetPostageBatch(ctx context.Context, batchID string) (*PostageBatch, error) {
	var batch PostageBatch
	if err := c.getJSON(ctx, "/stamps/"+url.PathEscape(batchID), &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

// GetAllPostageBatches lists every batch owned by the node.
func (c *Client) GetAllPostageBatches(ctx context.Context) ([]PostageBatch, error) {
	var out struct {
		Stamps []PostageBatch `json:"stamps"`
	}
	if err := c.getJSON(ctx, "/stamps", &out); err != nil {
		return nil, err
	}
	return out.Stamps, nil
}

// CreatePostageBatch buys a new batch and waits until it is usable.
func (c *Client) CreatePostageBatch(ctx context.Context, amount int64, depth uint8) (string, error) {
	var out struct {
		BatchID string `json:"batchID"`
	}
	path := fmt.Sprintf("/stamps/%d/%d", amount, depth)
	if err := c.doJSON(ctx, c.createHTTP, http.MethodPost, path, nil, &out); err != nil {
		return "", fmt.Errorf("create postage batch: %w", err)
	}

	if err := c.waitUsable(ctx, out.BatchID); err != nil {
		return "", err
	}
	return out.BatchID, nil
}

// waitUsable polls the new batch until the node reports it usable.
func (c *Client) waitUsable(ctx context.Context, batchID string) error {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	deadline := time.Now().Add(c.createHTTP.Timeout)
	for {
		batch, err := c.GetPostageBatch(ctx, batchID)
		if err == nil && batch.Usable {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrNotUsable, batchID)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// TopUpBatch adds funds to a batch, extending its TTL. No-op on dev nodes.
func (c *Client) TopUpBatch(ctx context.Context, batchID string, amount int64) error {
	if c.IsDev(ctx) {
		c.logger.Info("skipping top-up, node runs in dev mode", "batch", batchID)
		return nil
	}
	path := fmt.Sprintf("/stamps/topup/%s/%d", url.PathEscape(batchID), amount)
	return c.doJSON(ctx, c.http, http.MethodPatch, path, nil, nil)
}

// DiluteBatch increases a batch's depth. No-op on dev nodes.
func (c *Client) DiluteBatch(ctx context.Context, batchID string, depth uint8) error {
	c.logger.Info("performing dilute", "batch", batchID, "depth", depth)
	if c.IsDev(ctx) {
		c.logger.Info("skipping dilute, node runs in dev mode", "batch", batchID)
		return nil
	}
	path := fmt.Sprintf("/stamps/dilute/%s/%d", url.PathEscape(batchID), depth)
	return c.doJSON(ctx, c.http, http.MethodPatch, path, nil, nil)
}

// GetWalletBalance returns the node's wallet state.
func (c *Client) GetWalletBalance(ctx context.Context) (*WalletBalance, error) {
	var w WalletBalance
	if err := c.getJSON(ctx, "/wallet", &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// GetChainState returns the node's chain state, including the current
// storage price per chunk per block.
func (c *Client) GetChainState(ctx context.Context) (*ChainState, error) {
	var s ChainState
	if err := c.getJSON(ctx, "/chainstate", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetTopology returns the node's kademlia topology summary.
func (c *Client) GetTopology(ctx context.Context) (*Topology, error) {
	var t Topology
	if err := c.getJSON(ctx, "/topology", &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// IsDev reports whether the node runs without chain backing. The mode is
// fetched once and cached for the client's lifetime.
func (c *Client) IsDev(ctx context.Context) bool {
	c.modeOnce.Do(func() {
		var info NodeInfo
		if err := c.getJSON(ctx, "/node", &info); err != nil {
			c.logger.Warn("failed to query node mode, assuming full", "error", err)
			c.mode = ModeFull
			return
		}
		c.mode = info.BeeMode
	})
	return c.mode == ModeDev
}

// DownloadFile fetches a file by its swarm reference.
func (c *Client) DownloadFile(ctx context.Context, reference string) (*FileData, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/bzz/"+url.PathEscape(reference)+"/", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", reference, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("download %s: %w", reference, ErrFileNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: unexpected status %d", reference, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("download %s: read body: %w", reference, err)
	}

	name := ""
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			name = params["filename"]
		}
	}
	return &FileData{
		Data:        data,
		Name:        name,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// UploadFile uploads data against a postage batch and returns its reference.
// With asWebsite the payload must be a tar archive; the node indexes it as a
// browsable collection rooted at index.html.
func (c *Client) UploadFile(ctx context.Context, batchID string, data []byte, name, contentType string, asWebsite bool) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/bzz?name="+url.QueryEscape(name), bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Swarm-Postage-Batch-Id", batchID)
	if asWebsite {
		req.Header.Set("Content-Type", "application/x-tar")
		req.Header.Set("Swarm-Collection", "true")
		req.Header.Set("Swarm-Index-Document", "index.html")
	} else if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("upload %s: status %d: %s", name, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("upload %s: decode response: %w", name, err)
	}
	return out.Reference, nil
}

// --- HTTP plumbing ---

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	if c.authSecret != "" {
		req.Header.Set("Authorization", "Bearer "+c.authSecret)
	}
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, c.http, http.MethodGet, path, nil, out)
}

func (c *Client) doJSON(ctx context.Context, client *http.Client, method, path string, body io.Reader, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, ErrBatchNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
