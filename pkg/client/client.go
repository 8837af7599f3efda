package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotFound is returned for unknown services.
var ErrNotFound = errors.New("not found")

// Client talks to a running voicewatch daemon.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	tls     *tls.Config
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Token    string // bearer token for reset and cycle
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	CACert     string // CA certificate file path
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

const (
	DefaultBaseURL = "http://127.0.0.1:8099/api"
	DefaultTimeout = 10 * time.Second
)

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{BaseURL: DefaultBaseURL, Timeout: DefaultTimeout}
}

// New creates a client. TLS settings that cannot be loaded are returned as an error.
func New(config Config) (*Client, error) {
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
	var tlsConfig *tls.Config
	if config.TLS != nil || config.Insecure {
		var err error
		if tlsConfig, err = setupClientTLS(config); err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		token:   config.Token,
		tls:     tlsConfig,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}, nil
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	resp, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Status returns every service. An unhealthy set is not an error; check AllHealthy.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	err := c.getJSON(ctx, "/status", nil, &out, http.StatusServiceUnavailable)
	return out, err
}

// Service returns one service's status.
func (c *Client) Service(ctx context.Context, name string) (ServiceStatus, error) {
	var out ServiceStatus
	err := c.getJSON(ctx, "/status", url.Values{"name": {name}}, &out, http.StatusServiceUnavailable)
	return out, err
}

// Transitions returns up to limit recent transitions, newest first.
// An empty service returns all services.
func (c *Client) Transitions(ctx context.Context, limit int, service string) ([]Transition, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if service != "" {
		q.Set("service", service)
	}
	var out []Transition
	err := c.getJSON(ctx, "/transitions", q, &out)
	return out, err
}

// Host returns the daemon host's resource readings.
func (c *Client) Host(ctx context.Context) (HostReport, error) {
	var out HostReport
	err := c.getJSON(ctx, "/host", nil, &out)
	return out, err
}

// Reset clears the failure budget of a service.
func (c *Client) Reset(ctx context.Context, name string) error {
	return c.post(ctx, "/reset", url.Values{"name": {name}})
}

// Cycle asks the daemon for an immediate supervision cycle.
func (c *Client) Cycle(ctx context.Context) error {
	return c.post(ctx, "/cycle", nil)
}

// Watch streams the /watch websocket until ctx ends, the server closes the
// stream, or fn returns an error.
func (c *Client) Watch(ctx context.Context, fn func(WatchMessage) error) error {
	u, err := url.Parse(c.baseURL + "/watch")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	dialer := *websocket.DefaultDialer
	dialer.TLSClientConfig = c.tls
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var m WatchMessage
		if err := conn.ReadJSON(&m); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values) (*http.Response, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	return resp, nil
}

// getJSON decodes a 200 body, or a body with one of the accepted codes, into v.
func (c *Client) getJSON(ctx context.Context, path string, q url.Values, v any, accept ...int) error {
	resp, err := c.do(ctx, http.MethodGet, path, q)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	ok := resp.StatusCode == http.StatusOK
	for _, code := range accept {
		ok = ok || resp.StatusCode == code
	}
	if !ok {
		return c.handleErrorResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, q url.Values) error {
	resp, err := c.do(ctx, http.MethodPost, path, q)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted {
		return nil
	}
	return c.handleErrorResponse(resp)
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, errorResp.Error)
	}
	return fmt.Errorf("API error (HTTP %d): %s", resp.StatusCode, errorResp.Error)
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true //nolint:gosec // explicit opt-in
		return tlsConfig, nil
	}
	if config.TLS != nil {
		tlsConfig.InsecureSkipVerify = config.TLS.SkipVerify //nolint:gosec // explicit opt-in
		tlsConfig.ServerName = config.TLS.ServerName
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
	}
	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig.RootCAs = caCertPool
	return nil
}
