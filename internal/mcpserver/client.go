// Package mcpserver exposes the memory service to MCP hosts over stdio.
// The adapter runs as a separate process and delegates every tool call
// to the running daemon's envelope API, so the daemon stays the single
// owner of the database and the embedding runtime.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/buildinfo"
)

const protocolVersion = "mcp.v1"

// ClientConfig configures the envelope client.
type ClientConfig struct {
	// BaseURL of the running daemon, e.g. http://127.0.0.1:3001.
	BaseURL string
	// APIKey is sent as a bearer token when set.
	APIKey string
	// Timeout bounds one action round-trip. Defaults to 30s.
	Timeout time.Duration
}

// Client speaks the daemon's envelope protocol.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates an envelope client for the given daemon.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// requestEnvelope is the client-side view of the request wrapper.
type requestEnvelope struct {
	Version   string         `json:"version"`
	Service   string         `json:"service"`
	Action    string         `json:"action"`
	RequestID string         `json:"requestId"`
	Context   requestContext `json:"context"`
	Payload   any            `json:"payload"`
}

type requestContext struct {
	UserID string `json:"userId,omitempty"`
}

// responseEnvelope is the client-side view of the response wrapper.
type responseEnvelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *errorBody      `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Call posts one action envelope and returns the response data. Error
// envelopes come back as code-prefixed errors.
func (c *Client) Call(ctx context.Context, action, userID string, payload any) (json.RawMessage, error) {
	env := requestEnvelope{
		Version:   protocolVersion,
		Service:   buildinfo.ServiceName,
		Action:    action,
		RequestID: uuid.NewString(),
		Context:   requestContext{UserID: userID},
		Payload:   payload,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/"+action, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", action, err)
	}

	var out responseEnvelope
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%s returned HTTP %d with unparseable body", action, resp.StatusCode)
	}
	if out.Status != "ok" {
		if out.Error != nil {
			return nil, fmt.Errorf("%s: %s", out.Error.Code, out.Error.Message)
		}
		return nil, fmt.Errorf("%s failed with HTTP %d", action, resp.StatusCode)
	}
	return out.Data, nil
}

// Health probes the daemon's health endpoint so the adapter can fail
// fast at startup instead of on the first tool call.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/service.health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon health returned HTTP %d", resp.StatusCode)
	}
	return nil
}
