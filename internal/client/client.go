package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"autovideo/internal/api"
)

const defaultTimeout = 10 * time.Second

// APIError is a non-2xx response from the daemon.
type APIError struct {
	Status  int
	Message string
	Kind    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned %d", e.Status)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Message)
}

// Client provides HTTP access to the daemon.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// New returns a client for addr, which may be a host:port bind address or a
// full http URL.
func New(addr string, opts ...Option) (*Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("daemon address is empty")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	base, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse daemon address: %w", err)
	}
	c := &Client{base: base, http: &http.Client{Timeout: defaultTimeout}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Status retrieves the daemon status.
func (c *Client) Status(ctx context.Context) (*api.DaemonStatus, error) {
	var resp api.DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListRuns returns every known run, oldest first.
func (c *Client) ListRuns(ctx context.Context) ([]api.Run, error) {
	var resp api.RunListResponse
	if err := c.do(ctx, http.MethodGet, "/api/runs", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// StartRun starts or resumes a run.
func (c *Client) StartRun(ctx context.Context, req api.StartRunRequest) (*api.Run, error) {
	return c.runRequest(ctx, http.MethodPost, "/api/runs", req)
}

// GetRun returns one run with its results and recent logs.
func (c *Client) GetRun(ctx context.Context, id string) (*api.Run, error) {
	return c.runRequest(ctx, http.MethodGet, runPath(id, ""), nil)
}

// PauseRun asks the daemon to pause a run at its next checkpoint.
func (c *Client) PauseRun(ctx context.Context, id string) (*api.Run, error) {
	return c.runRequest(ctx, http.MethodPost, runPath(id, "pause"), nil)
}

// ResumeRun releases a paused run.
func (c *Client) ResumeRun(ctx context.Context, id string) (*api.Run, error) {
	return c.runRequest(ctx, http.MethodPost, runPath(id, "resume"), nil)
}

// CancelRun cancels a processing or paused run.
func (c *Client) CancelRun(ctx context.Context, id string) (*api.Run, error) {
	return c.runRequest(ctx, http.MethodPost, runPath(id, "cancel"), nil)
}

// Checkpoint returns the stored checkpoint for a run.
func (c *Client) Checkpoint(ctx context.Context, id string) (*api.Checkpoint, error) {
	var resp api.CheckpointResponse
	if err := c.do(ctx, http.MethodGet, "/api/checkpoints/"+url.PathEscape(id), nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Checkpoint, nil
}

// Cache returns response cache statistics.
func (c *Client) Cache(ctx context.Context) (*api.CacheStatus, error) {
	var resp api.CacheStatus
	if err := c.do(ctx, http.MethodGet, "/api/cache", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FlushCache sweeps expired entries and persists the cache.
func (c *Client) FlushCache(ctx context.Context) (*api.CacheFlushResponse, error) {
	var resp api.CacheFlushResponse
	if err := c.do(ctx, http.MethodPost, "/api/cache/flush", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogQuery selects log events.
type LogQuery struct {
	Since     uint64
	Limit     int
	Follow    bool
	Tail      bool
	RunID     string
	Component string
}

// Logs fetches a page of log events. Follow requests block until an event
// arrives, so they bypass the client timeout and rely on ctx.
func (c *Client) Logs(ctx context.Context, q LogQuery) (*api.LogStreamResponse, error) {
	values := url.Values{}
	if q.Since > 0 {
		values.Set("since", strconv.FormatUint(q.Since, 10))
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Follow {
		values.Set("follow", "true")
	}
	if q.Tail {
		values.Set("tail", "true")
	}
	if q.RunID != "" {
		values.Set("run", q.RunID)
	}
	if q.Component != "" {
		values.Set("component", q.Component)
	}
	var resp api.LogStreamResponse
	if err := c.do(ctx, http.MethodGet, "/api/logs", values, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) runRequest(ctx context.Context, method, path string, body any) (*api.Run, error) {
	var resp api.RunResponse
	if err := c.do(ctx, method, path, nil, body, &resp); err != nil {
		return nil, err
	}
	return &resp.Run, nil
}

func runPath(id, action string) string {
	path := "/api/runs/" + url.PathEscape(id)
	if action != "" {
		path += "/" + action
	}
	return path
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.base.JoinPath(path)
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	hc := c.http
	if query.Get("follow") == "true" {
		clone := *hc
		clone.Timeout = 0
		hc = &clone
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload api.ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
			apiErr.Kind = payload.Kind
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsUnavailable reports whether err means the daemon could not be reached.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENOENT) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
