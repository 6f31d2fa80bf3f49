// Package client is the HTTP client for the parley backend. It opens
// session event streams, resolves approvals, requests generated titles, and
// probes backend health.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley-ai/parley/internal/logging"
	"github.com/parley-ai/parley/internal/stream"
	"github.com/parley-ai/parley/pkg/types"
)

// Client talks to one parley backend.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	log     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client (tests use this).
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// WithAPIKey sets the bearer token sent on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// New creates a client for the backend at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// No overall timeout: session streams are long-lived.
		httpc: &http.Client{},
		log:   logging.With().Str("component", "client").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type submitRequest struct {
	Text string `json:"text"`
	// AllowedTools advertises the session's pre-approved tools so the
	// backend can short-circuit approvals without a round trip.
	AllowedTools []string `json:"allowedTools,omitempty"`
}

// OpenStream submits a user message and returns the session's event stream.
// Implements stream.Transport.
func (c *Client) OpenStream(ctx context.Context, sessionID, text string, allowedTools []string) (stream.EventStream, error) {
	body, err := json.Marshal(submitRequest{Text: text, AllowedTools: allowedTools})
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost,
		fmt.Sprintf("/session/%s/message", sessionID), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("open stream: %s", readError(resp))
	}

	return newSSEStream(resp.Body, c.log), nil
}

// ResolveApproval submits an approval decision. Implements
// approval.Resolver.
func (c *Client) ResolveApproval(ctx context.Context, sessionID string, decision types.ApprovalDecision) error {
	body, err := json.Marshal(decision)
	if err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPost,
		fmt.Sprintf("/session/%s/approval", sessionID), bytes.NewReader(body))
	if err != nil {
		return err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("resolve approval: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("resolve approval: %s", readError(resp))
	}
	return nil
}

// GenerateTitle asks the backend for a session title. Implements
// title.Generator.
func (c *Client) GenerateTitle(ctx context.Context, sessionID string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPost,
		fmt.Sprintf("/session/%s/title", sessionID), nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generate title: %s", readError(resp))
	}

	var result struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}
	return strings.TrimSpace(result.Title), nil
}

// Health probes backend reachability.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func readError(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		return fmt.Sprintf("status %d", resp.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", resp.StatusCode, msg)
}
