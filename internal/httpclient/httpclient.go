// Package httpclient is the coordinator's own HTTP client: the other side
// of internal/api's wire shapes, used by cmd/kangaroo-client and by the
// integration tests. It marshals a request, POSTs or GETs it, checks the
// status code, and decodes the reply — one shared *http.Client, no
// retries, no connection pooling tuning beyond Go's defaults.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"net/http"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// httpClient is shared across all Client instances for connection reuse.
var httpClient = &http.Client{}

// Client talks to a running kangaroo-coordinatord over its JSON API.
type Client struct {
	BaseURL string
}

// New constructs a Client against baseURL, e.g. "http://localhost:8080".
func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL}
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusConflict {
		return fmt.Errorf("http %s: %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ConfigureRequest mirrors internal/api's configureRequest wire shape.
type ConfigureRequest struct {
	StartRange string `json:"start_range"`
	EndRange   string `json:"end_range"`
	PubKey     string `json:"pubkey"`
	DPBits     int    `json:"dp_bits"`
	RangeSize  string `json:"range_size"`
}

type configureResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Configure calls /api/configure. A non-nil error means the call could not
// be completed; a false success with nil error means the coordinator
// rejected the request (message explains why).
func (c *Client) Configure(ctx context.Context, req ConfigureRequest) (bool, string, error) {
	var resp configureResponse
	if err := c.postJSON(ctx, "/api/configure", req, &resp); err != nil {
		return false, "", err
	}
	return resp.Success, resp.Message, nil
}

// WorkChunk mirrors internal/api's workPayload wire shape.
type WorkChunk struct {
	RangeID    string `json:"range_id"`
	StartRange string `json:"start_range"`
	EndRange   string `json:"end_range"`
	BitRange   int    `json:"bit_range"`
	DPBits     int    `json:"dp_bits"`
	PubKey     string `json:"pubkey"`
}

type getWorkResponse struct {
	Success bool       `json:"success"`
	Work    *WorkChunk `json:"work,omitempty"`
	Message string     `json:"message,omitempty"`
}

// GetWork calls /api/get_work. A nil chunk with a nil error means no work
// is currently available (search solved, or the ledger is exhausted).
func (c *Client) GetWork(ctx context.Context, clientID string) (*WorkChunk, error) {
	var resp getWorkResponse
	if err := c.postJSON(ctx, "/api/get_work", map[string]string{"client_id": clientID}, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, nil
	}
	return resp.Work, nil
}

// Point is one distinguished point report, mirroring internal/api's
// pointPayload wire shape. Type is 0=TAME, 1=WILD1, 2=WILD2.
type Point struct {
	XCoord   string `json:"x_coord"`
	Distance string `json:"distance"`
	KangType int    `json:"kang_type"`
}

// SubmitResult is the decoded /api/submit_points reply.
type SubmitResult struct {
	Status          string `json:"status"`
	PointsProcessed int    `json:"points_processed,omitempty"`
	Solution        string `json:"solution,omitempty"`
}

// Solved reports whether this submission froze the search.
func (r SubmitResult) Solved() bool { return r.Status == "solved" }

// SubmitPoints calls /api/submit_points.
func (c *Client) SubmitPoints(ctx context.Context, clientID string, points []Point) (*SubmitResult, error) {
	body := map[string]any{"client_id": clientID, "points": points}
	var resp SubmitResult
	if err := c.postJSON(ctx, "/api/submit_points", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SearchRange mirrors internal/api's searchRangePayload.
type SearchRange struct {
	Start  string `json:"start"`
	End    string `json:"end"`
	PubKey string `json:"pubkey"`
	DPBits int    `json:"dp_bits"`
}

// Status mirrors internal/api's statusResponse.
type Status struct {
	Solved      bool           `json:"solved"`
	Solution    string         `json:"solution,omitempty"`
	DPCount     int            `json:"dp_count"`
	WorkRanges  map[string]int `json:"work_ranges"`
	SearchRange SearchRange    `json:"search_range"`
}

// GetStatus calls /api/status.
func (c *Client) GetStatus(ctx context.Context) (*Status, error) {
	var resp Status
	if err := c.getJSON(ctx, "/api/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ParseHexScalar parses a hex-encoded scalar the way the server does,
// exported so callers building requests can fail fast on bad input.
func ParseHexScalar(s string) (*big.Int, bool) {
	return new(big.Int).SetString(s, 16)
}
