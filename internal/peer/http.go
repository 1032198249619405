package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/docsync/internal/failure"
)

// maxResponseBytes bounds how much of a peer response is read.
const maxResponseBytes = 64 << 20

// HTTPClient talks to a peer's HTTP surface.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient returns a client for the replica at baseURL. Every request
// is bounded by timeout; zero means no timeout beyond the caller's context.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Summary(ctx context.Context) ([]byte, error) {
	var resp SummaryResponse
	if err := c.do(ctx, http.MethodGet, "/sv", nil, &resp); err != nil {
		return nil, err
	}
	return resp.SV, nil
}

func (c *HTTPClient) RequestDiff(ctx context.Context, summary []byte) ([]byte, error) {
	var resp DiffResponse
	if err := c.do(ctx, http.MethodPost, "/diff", DiffRequest{SV: summary}, &resp); err != nil {
		return nil, err
	}
	return resp.Update, nil
}

func (c *HTTPClient) PushUpdate(ctx context.Context, delta []byte) error {
	var resp UpdateResponse
	if err := c.do(ctx, http.MethodPost, "/update", UpdateRequest{Update: delta}, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return failure.New(failure.PeerUnavailable, "push update", fmt.Errorf("peer did not acknowledge"))
	}
	return nil
}

func (c *HTTPClient) TriggerCompaction(ctx context.Context) error {
	var resp AckResponse
	if err := c.do(ctx, http.MethodPost, "/compact", nil, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return failure.New(failure.PeerUnavailable, "trigger compaction", fmt.Errorf("peer did not acknowledge"))
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	op := method + " " + path

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return failure.New(failure.PeerUnavailable, op, fmt.Errorf("encode request: %w", err))
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return failure.New(failure.PeerUnavailable, op, fmt.Errorf("create request: %w", err))
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return failure.New(failure.PeerUnavailable, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return failure.New(failure.PeerUnavailable, op,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b))))
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return failure.New(failure.PeerUnavailable, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
