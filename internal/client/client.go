// Package client talks to the daemon's local API over its unix socket.
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
	"strings"
	"time"

	"github.com/portalkeep/portalkeep/internal/api"
	"github.com/portalkeep/portalkeep/internal/config"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	// Login can legitimately block while the daemon waits out a slow portal,
	// so its request gets a wider timeout than the rest of the API.
	loginHTTPTimeout = 30 * time.Second
	maxErrorBody     = 8 << 10
)

// ErrDaemonNotRunning indicates the daemon socket could not be reached.
var ErrDaemonNotRunning = errors.New("daemon is not running")

// Client wraps HTTP interactions with the daemon over its unix socket.
type Client struct {
	socketPath string
	httpClient *http.Client
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client, keeping its transport.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// New builds a client for the daemon at the default socket path.
func New(opts ...Option) *Client {
	return NewWithSocket(config.GetPaths().Socket, opts...)
}

// NewWithSocket builds a client for the daemon at an explicit socket path.
func NewWithSocket(socketPath string, opts ...Option) *Client {
	c := &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Timeout: defaultHTTPTimeout,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SocketPath returns the unix socket path the client dials.
func (c *Client) SocketPath() string {
	return c.socketPath
}

// Status fetches the daemon's current state.
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var status api.StatusResponse
	if err := c.get(ctx, "/api/status", &status); err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	return &status, nil
}

// Login triggers a manual login attempt and returns its result. A slow
// portal yields Completed=false; the outcome then arrives via Events.
func (c *Client) Login(ctx context.Context) (*api.LoginResponse, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/login", nil)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Timeout:   loginHTTPTimeout,
		Transport: c.httpClient.Transport,
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, wrapDialError("login", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("login: %w", readAPIError(resp))
	}

	var login api.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		return nil, fmt.Errorf("login: decode response: %w", err)
	}
	return &login, nil
}

// Config fetches the sanitised configuration view.
func (c *Client) Config(ctx context.Context) (*api.ConfigView, error) {
	var view api.ConfigView
	if err := c.get(ctx, "/api/config", &view); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &view, nil
}

// ReloadConfig asks the daemon to re-read its configuration file.
func (c *Client) ReloadConfig(ctx context.Context) (*api.ConfigView, error) {
	var view api.ConfigView
	if err := c.post(ctx, "/api/config/reload", nil, &view); err != nil {
		return nil, fmt.Errorf("reload config: %w", err)
	}
	return &view, nil
}

// SetAutoReconnect toggles automatic reconnection.
func (c *Client) SetAutoReconnect(ctx context.Context, enabled bool) error {
	if err := c.post(ctx, "/api/settings/auto-reconnect", api.ToggleRequest{Enabled: enabled}, nil); err != nil {
		return fmt.Errorf("set auto-reconnect: %w", err)
	}
	return nil
}

// SetCheckInterval updates the connectivity probe interval in seconds.
func (c *Client) SetCheckInterval(ctx context.Context, seconds int) error {
	if err := c.post(ctx, "/api/settings/check-interval", api.IntervalRequest{Seconds: seconds}, nil); err != nil {
		return fmt.Errorf("set check-interval: %w", err)
	}
	return nil
}

// SetPeriodicLoginInterval updates the periodic login interval in seconds.
// Zero disables periodic logins.
func (c *Client) SetPeriodicLoginInterval(ctx context.Context, seconds int) error {
	if err := c.post(ctx, "/api/settings/periodic-login", api.IntervalRequest{Seconds: seconds}, nil); err != nil {
		return fmt.Errorf("set periodic-login: %w", err)
	}
	return nil
}

// History returns recent login attempts, newest first. A non-positive limit
// uses the daemon's default.
func (c *Client) History(ctx context.Context, limit int) ([]api.OutcomeDTO, error) {
	path := "/api/history"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}

	var hist api.HistoryResponse
	if err := c.get(ctx, path, &hist); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return hist.Attempts, nil
}

// ShutdownDaemon requests a graceful daemon shutdown.
func (c *Client) ShutdownDaemon(ctx context.Context) error {
	if err := c.post(ctx, "/api/daemon/shutdown", nil, nil); err != nil {
		return fmt.Errorf("shutdown daemon: %w", err)
	}
	return nil
}

// IsRunning reports whether the daemon answers on its socket.
func (c *Client) IsRunning(ctx context.Context) bool {
	_, err := c.Status(ctx)
	return err == nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	var body io.Reader = http.NoBody
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	// The host is a placeholder; the transport always dials the socket.
	return http.NewRequestWithContext(ctx, method, "http://portalkeepd"+path, body)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return wrapDialError(req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func wrapDialError(op string, err error) error {
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %v", op, ErrDaemonNotRunning, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if len(body) == 0 {
		return errors.New(resp.Status)
	}
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") {
		var payload struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(trimmed), &payload); err == nil {
			if msg := strings.TrimSpace(payload.Error); msg != "" {
				return errors.New(msg)
			}
		}
	}
	return errors.New(trimmed)
}
