// Package postgrest implements core.Backend over a PostgREST-compatible HTTP
// API, such as the one Supabase exposes at /rest/v1.
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jdziat/durable-outbox/pkg/core"
	"github.com/jdziat/durable-outbox/pkg/jobctx"
	"github.com/jdziat/durable-outbox/pkg/security"
)

// DefaultTimeout bounds a request when the caller's context has no deadline.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// Client talks to a PostgREST endpoint.
type Client struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sends key as both the apikey header and the bearer token.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend url must be http or https, got %q", baseURL)
	}

	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Invoke calls POST {base}/rpc/{name} with args as a JSON object.
func (c *Client) Invoke(ctx context.Context, name string, args map[string]any) error {
	if err := security.ValidateTarget(name); err != nil {
		return core.Rejected(err.Error())
	}
	return c.post(ctx, "rpc/"+name, args)
}

// InsertRecord calls POST {base}/{collection} with payload as one row.
func (c *Client) InsertRecord(ctx context.Context, collection string, payload map[string]any) error {
	if err := security.ValidateTarget(collection); err != nil {
		return core.Rejected(err.Error())
	}
	return c.post(ctx, collection, payload)
}

// Ping checks that the API answers at all. Any HTTP response counts; only
// transport failures and gateway statuses mean unreachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL.String()+"/", nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return core.Connectivity(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if isConnectivityStatus(resp.StatusCode) {
		return &core.BackendError{Class: core.ClassConnectivity, Status: resp.StatusCode, Message: resp.Status}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body map[string]any) error {
	if body == nil {
		body = map[string]any{}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return core.Rejected(fmt.Sprintf("encode request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL.String()+"/"+path, bytes.NewReader(data))
	if err != nil {
		return core.Rejected(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", "return=minimal")
	if key := jobctx.IdempotencyKey(ctx); key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	c.authorize(req)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return core.Connectivity(err)
	}
	defer resp.Body.Close()

	c.logger.Debug("backend request",
		"path", path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return decodeError(resp)
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey == "" {
		return
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

// apiError is the PostgREST error body.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// decodeError turns a non-2xx response into a classified BackendError.
func decodeError(resp *http.Response) error {
	be := &core.BackendError{
		Class:  core.ClassApplication,
		Status: resp.StatusCode,
	}
	if isConnectivityStatus(resp.StatusCode) {
		be.Class = core.ClassConnectivity
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil && !errors.Is(err, io.EOF) {
		be.Err = err
	}

	var body apiError
	if len(raw) > 0 && json.Unmarshal(raw, &body) == nil && body.Message != "" {
		be.Code = body.Code
		be.Message = body.Message
	} else {
		be.Message = fmt.Sprintf("backend returned %s", resp.Status)
	}
	return be
}

// isConnectivityStatus reports statuses that mean the request never reached
// the database or should be retried later as is.
func isConnectivityStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
