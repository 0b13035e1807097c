// Package client is a Go client for the jobletd HTTP API.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"
)

const (
	DefaultBaseURL = "http://127.0.0.1:8080/api"
	DefaultTimeout = 10 * time.Second
)

// ErrAtCapacity is returned by Submit when the daemon runs its maximum
// number of joblets.
var ErrAtCapacity = errors.New("client: daemon is at capacity")

// ErrNotFound is returned when the daemon knows nothing about the resource.
var ErrNotFound = errors.New("client: not found")

type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger
	TLS      *TLSClientConfig
	Insecure bool // skip certificate verification
}

type TLSClientConfig struct {
	CACert     string // CA certificate file, e.g. the daemon's tls_ca.crt
	ClientCert string
	ClientKey  string
	ServerName string
}

func DefaultConfig() Config {
	return Config{BaseURL: DefaultBaseURL, Timeout: DefaultTimeout}
}

// New builds a client. TLS material that fails to load is logged and the
// transport falls back to the system defaults.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.TLS != nil || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout, Transport: transport},
	}
}

// IsReachable reports whether the daemon answers on its capacity endpoint.
func (c *Client) IsReachable(ctx context.Context) bool {
	_, err := c.Capacity(ctx)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	return true
}

// Submit asks the daemon to launch a joblet. It fails with ErrAtCapacity
// when no slot is free.
func (c *Client) Submit(ctx context.Context, req JobletRequest) (Submission, error) {
	var out Submission
	c.logger.Debug("Submitting joblet", "name", req.Name, "factory", req.Factory)
	err := c.do(ctx, http.MethodPost, "/joblets", req, http.StatusAccepted, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context, id string) (JobStatus, error) {
	var out JobStatus
	err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(id), nil, http.StatusOK, &out)
	return out, err
}

// Forget deletes the recorded status of a finished job.
func (c *Client) Forget(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/status/"+url.PathEscape(id), nil, http.StatusOK, nil)
}

func (c *Client) Processes(ctx context.Context) ([]Process, error) {
	var out []Process
	err := c.do(ctx, http.MethodGet, "/processes", nil, http.StatusOK, &out)
	return out, err
}

func (c *Client) Capacity(ctx context.Context) (Capacity, error) {
	var out Capacity
	err := c.do(ctx, http.MethodGet, "/capacity", nil, http.StatusOK, &out)
	return out, err
}

// Reconcile triggers a reconciliation cycle and returns how many entries it removed.
func (c *Client) Reconcile(ctx context.Context) (int, error) {
	var out struct {
		Removed int `json:"removed"`
	}
	err := c.do(ctx, http.MethodPost, "/reconcile", nil, http.StatusOK, &out)
	return out.Removed, err
}

func (c *Client) Resources(ctx context.Context, id string) (Resources, error) {
	var out Resources
	err := c.do(ctx, http.MethodGet, "/joblets/"+url.PathEscape(id)+"/resources", nil, http.StatusOK, &out)
	return out, err
}

// WaitTerminal polls Status every interval until the job is DONE or ERROR
// or ctx ends.
func (c *Client) WaitTerminal(ctx context.Context, id string, interval time.Duration) (JobStatus, error) {
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		st, err := c.Status(ctx, id)
		if err != nil || st.State.Terminal() {
			return st, err
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-t.C:
		}
	}
}

func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if config.Insecure {
		// #nosec G402 explicitly requested
		tlsConfig.InsecureSkipVerify = true
	}
	if config.TLS == nil {
		return tlsConfig, nil
	}
	tlsConfig.ServerName = config.TLS.ServerName
	if config.TLS.CACert != "" {
		if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
			return nil, fmt.Errorf("failed to load CA certificate: %w", err)
		}
	}
	if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

func loadCACert(tlsConfig *tls.Config, path string) error {
	pem, err := os.ReadFile(path) // #nosec G304 operator supplied path
	if err != nil {
		return err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return errors.New("no certificates found in " + path)
	}
	tlsConfig.RootCAs = pool
	return nil
}

// do sends body as JSON (when non-nil) and decodes the response into out
// (when non-nil) if the daemon answers with want.
func (c *Client) do(ctx context.Context, method, path string, body any, want int, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != want {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) handleErrorResponse(resp *http.Response) error {
	var sentinel error
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		sentinel = ErrAtCapacity
	case http.StatusNotFound:
		sentinel = ErrNotFound
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var errorResp ErrorResponse
	msg := string(bytes.TrimSpace(data))
	if json.Unmarshal(data, &errorResp) == nil && errorResp.Error != "" {
		msg = errorResp.Error
	}
	c.logger.Debug("API request failed", "status", resp.StatusCode, "error", msg)
	if sentinel != nil {
		return fmt.Errorf("%w: %s", sentinel, msg)
	}
	return fmt.Errorf("API error (%d): %s", resp.StatusCode, msg)
}
