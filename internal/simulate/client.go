package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nesthaus/riskengine/internal/engine"
)

// Client replays generated sessions against the collector and analyst API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a client for the API at baseURL. token authenticates
// analysis requests.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// TrackResult is the collector's answer to one batch.
type TrackResult struct {
	Accepted int  `json:"accepted"`
	Skipped  int  `json:"skipped"`
	Blocked  bool `json:"blocked"`
}

// Track uploads a batch, presenting its user agent and address the way a
// browser behind a proxy would.
func (c *Client) Track(ctx context.Context, b engine.Batch) (TrackResult, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/collect/track", b)
	if err != nil {
		return TrackResult{}, err
	}
	req.Header.Set("User-Agent", b.UserAgent)
	req.Header.Set("X-Forwarded-For", b.IPAddress)
	req.Header.Set("X-Session-ID", b.SessionID)

	var out TrackResult
	if err := c.do(req, http.StatusAccepted, &out); err != nil {
		return TrackResult{}, fmt.Errorf("track %s: %w", b.SessionID, err)
	}
	return out, nil
}

// Analyze requests a forced analysis of the session.
func (c *Client) Analyze(ctx context.Context, sessionID string) (engine.Investigation, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/security/analyze", map[string]any{
		"sessionId":     sessionID,
		"forceAnalysis": true,
	})
	if err != nil {
		return engine.Investigation{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	var out engine.Investigation
	if err := c.do(req, http.StatusOK, &out); err != nil {
		return engine.Investigation{}, fmt.Errorf("analyze %s: %w", sessionID, err)
	}
	return out, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, want int, data any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	envelope := struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !envelope.Success {
		return fmt.Errorf("api reported failure")
	}
	if err := json.Unmarshal(envelope.Data, data); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
