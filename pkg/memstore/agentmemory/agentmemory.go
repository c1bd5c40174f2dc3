// Package agentmemory implements the memstore.Store interface against a
// Redis agent-memory-server instance over its HTTP API.
//
// Wire contract (per the agent-memory-server docs):
//
//   - POST /v1/long-term-memory/        — create memories
//   - POST /v1/long-term-memory/search  — semantic search with a user_id filter
//   - POST /v1/long-term-memory/forget  — delete memories for a user
//
// Search responses carry a vector distance per memory; it is converted to a
// similarity score as 1 − dist. All requests are bounded by the configured
// timeout; timeouts and transport failures surface as memstore.ErrUnavailable.
package agentmemory

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/voxbridge/voxbridge/pkg/memstore"
)

// Compile-time assertion that Client satisfies memstore.Store.
var _ memstore.Store = (*Client)(nil)

const (
	// DefaultTimeout bounds every request to the memory server.
	DefaultTimeout = 30 * time.Second

	// defaultSearchLimit caps the number of records returned from Search.
	defaultSearchLimit = 10

	// defaultApp tags created memories with the application name.
	defaultApp = "voxbridge"
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout. Values ≤ 0 keep the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient overrides the HTTP client. Primarily used in tests.
// The configured timeout is still applied via request contexts.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithApp sets the application tag attached to created memories.
func WithApp(app string) Option {
	return func(c *Client) { c.app = app }
}

// ── Client ─────────────────────────────────────────────────────────────────────

// Client is a memstore.Store backed by a remote agent-memory-server.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	timeout time.Duration
	app     string
	hc      *http.Client
}

// New creates a Client for the agent-memory-server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		timeout: DefaultTimeout,
		app:     defaultApp,
		hc:      &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ── Wire types ─────────────────────────────────────────────────────────────────

type searchRequest struct {
	Text   string   `json:"text"`
	UserID eqFilter `json:"user_id"`
	Limit  int      `json:"limit"`
}

type eqFilter struct {
	Eq string `json:"eq"`
}

type searchResponse struct {
	Memories []wireMemory `json:"memories"`
}

type wireMemory struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	Dist      float64  `json:"dist"`
	Topics    []string `json:"topics"`
	CreatedAt string   `json:"created_at"`
}

type createRequest struct {
	Memories []createMemory `json:"memories"`
}

type createMemory struct {
	ID         string   `json:"id"`
	Text       string   `json:"text"`
	MemoryType string   `json:"memory_type"`
	UserID     string   `json:"user_id"`
	Topics     []string `json:"topics"`
}

type forgetRequest struct {
	UserID string `json:"user_id"`
	DryRun bool   `json:"dry_run"`
}

// ── Store methods ──────────────────────────────────────────────────────────────

// Search implements memstore.Store via POST /v1/long-term-memory/search.
func (c *Client) Search(ctx context.Context, identity, query string) ([]memstore.Record, error) {
	return c.search(ctx, identity, query, defaultSearchLimit)
}

// ListRecent implements memstore.Store. The server has no dedicated listing
// endpoint; an empty-text search returns memories for the identity.
func (c *Client) ListRecent(ctx context.Context, identity string, limit int) ([]memstore.Record, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	return c.search(ctx, identity, "", limit)
}

func (c *Client) search(ctx context.Context, identity, query string, limit int) ([]memstore.Record, error) {
	req := searchRequest{
		Text:   query,
		UserID: eqFilter{Eq: identity},
		Limit:  limit,
	}

	var resp searchResponse
	if err := c.post(ctx, "/v1/long-term-memory/search", req, &resp); err != nil {
		return nil, err
	}

	records := make([]memstore.Record, 0, len(resp.Memories))
	for _, m := range resp.Memories {
		records = append(records, memstore.Record{
			ID:        m.ID,
			Content:   m.Text,
			Score:     1 - m.Dist,
			Topics:    m.Topics,
			CreatedAt: parseTime(m.CreatedAt),
		})
	}
	return records, nil
}

// Add implements memstore.Store via POST /v1/long-term-memory/.
func (c *Client) Add(ctx context.Context, identity, fact string) (memstore.Record, error) {
	id := fmt.Sprintf("%s-%s", c.app, shortID())
	req := createRequest{
		Memories: []createMemory{{
			ID:         id,
			Text:       fact,
			MemoryType: "semantic",
			UserID:     identity,
			Topics:     []string{c.app},
		}},
	}

	if err := c.post(ctx, "/v1/long-term-memory/", req, nil); err != nil {
		return memstore.Record{}, err
	}
	return memstore.Record{
		ID:      id,
		Content: fact,
		Topics:  []string{c.app},
	}, nil
}

// Forget implements memstore.Store via POST /v1/long-term-memory/forget.
func (c *Client) Forget(ctx context.Context, identity string) error {
	return c.post(ctx, "/v1/long-term-memory/forget", forgetRequest{UserID: identity}, nil)
}

// post issues one bounded JSON request. Any transport error, timeout, or
// non-2xx status is reported as memstore.ErrUnavailable so callers never see
// raw network failures.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("agentmemory: marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("agentmemory: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", memstore.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s returned %d", memstore.ErrUnavailable, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", memstore.ErrUnavailable, err)
		}
	}
	return nil
}

// shortID returns the first 12 hex characters of a random UUID. Record IDs
// are <app>-<12 hex>, so the hyphenated UUID form must not leak in.
func shortID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])[:12]
}

// parseTime decodes the server's RFC 3339 timestamps, tolerating absence.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
