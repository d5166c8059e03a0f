// Package backend performs single outbound calls against the CRUD services
// fronted by the gateway and maps their responses to domain failures.
package backend

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

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/tenant-mcp-gateway/internal/domain"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/tenant"
)

const (
	DefaultTimeout    = 10 * time.Second
	DefaultHealthPath = "/health"

	maxResponseBytes = 8 << 20
	maxMessageLength = 512
)

// Request describes one outbound call. Path is already escaped.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// BreakerConfig configures the optional circuit breaker.
type BreakerConfig struct {
	Enabled     bool
	MaxFailures uint32
	Timeout     time.Duration
	Interval    time.Duration
}

// Config describes one backend service.
type Config struct {
	Namespace  string
	BaseURL    string
	Timeout    time.Duration
	HealthPath string
	APIToken   string
	Breaker    BreakerConfig
}

// Connector calls one backend. It keeps no tenant state between calls;
// every call receives its tenant.Context as a parameter.
type Connector struct {
	namespace  string
	baseURL    string
	timeout    time.Duration
	healthPath string
	apiToken   string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker[json.RawMessage]
	logger     *slog.Logger
}

// Option configures a Connector.
type Option func(*Connector)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Connector) {
		c.client = client
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Connector) {
		c.logger = logger
	}
}

// New creates a connector for cfg.
func New(cfg Config, opts ...Option) (*Connector, error) {
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("backend namespace is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend %s: invalid base_url %q", cfg.Namespace, cfg.BaseURL)
	}

	c := &Connector{
		namespace:  cfg.Namespace,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
		healthPath: cfg.HealthPath,
		apiToken:   cfg.APIToken,
		client:     &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		logger:     slog.Default(),
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.healthPath == "" {
		c.healthPath = DefaultHealthPath
	}
	for _, opt := range opts {
		opt(c)
	}

	if cfg.Breaker.Enabled {
		c.breaker = c.newBreaker(cfg.Breaker)
	}

	return c, nil
}

func (c *Connector) newBreaker(cfg BreakerConfig) *gobreaker.CircuitBreaker[json.RawMessage] {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return gobreaker.NewCircuitBreaker[json.RawMessage](gobreaker.Settings{
		Name:        "backend:" + c.namespace,
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
		// 4xx answers mean the backend is healthy.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			f := domain.AsFailure(err)
			return !f.Retryable
		},
	})
}

// Namespace returns the namespace this connector serves.
func (c *Connector) Namespace() string {
	return c.namespace
}

// Timeout returns the per-call timeout.
func (c *Connector) Timeout() time.Duration {
	return c.timeout
}

// Do performs one call on behalf of tc. A nil result with a nil error means
// the backend answered 2xx with an empty body.
func (c *Connector) Do(ctx context.Context, tc tenant.Context, req Request) (json.RawMessage, error) {
	if tc.IsZero() {
		return nil, domain.ErrInternal("backend call without tenant")
	}
	if c.breaker == nil {
		return c.do(ctx, tc, req)
	}

	out, err := c.breaker.Execute(func() (json.RawMessage, error) {
		return c.do(ctx, tc, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, domain.ErrCircuitOpen(c.namespace).WithCause(err)
	}
	return out, err
}

func (c *Connector) do(ctx context.Context, tc tenant.Context, req Request) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, domain.ErrInternal("encode backend request").WithCause(err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.resolve(req.Path, req.Query), body)
	if err != nil {
		return nil, domain.ErrInternal("build backend request").WithCause(err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	tc.Apply(httpReq.Header)
	if c.apiToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	c.logger.Debug("backend request",
		slog.String("backend", c.namespace),
		slog.String("method", req.Method),
		slog.String("path", req.Path),
		slog.String("tenant_id", tc.TenantID()))

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, c.transportFailure(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, c.transportFailure(ctx, err)
	}

	return c.interpret(resp.StatusCode, data)
}

func (c *Connector) transportFailure(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrTimeout(fmt.Sprintf("backend %s did not answer within %s", c.namespace, c.timeout)).WithCause(err)
	}
	return domain.ErrUpstream(fmt.Sprintf("backend %s unavailable", c.namespace)).WithCause(err)
}

func (c *Connector) interpret(status int, data []byte) (json.RawMessage, error) {
	switch {
	case status >= 200 && status < 300:
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) == 0 {
			return nil, nil
		}
		if json.Valid(trimmed) {
			return json.RawMessage(trimmed), nil
		}
		wrapped, err := json.Marshal(string(trimmed))
		if err != nil {
			return nil, domain.ErrInternal("encode backend response").WithCause(err)
		}
		return wrapped, nil

	case status == http.StatusBadRequest:
		return nil, domain.ErrInvalidArguments("", backendMessage(data, "backend rejected the request"))
	case status == http.StatusNotFound:
		return nil, domain.ErrNotFound(backendMessage(data, "resource not found"))
	case status == http.StatusConflict:
		return nil, domain.ErrConflict(backendMessage(data, "resource conflict"))
	case status >= 400 && status < 500:
		return nil, domain.NewFailure(domain.KindClientError, backendMessage(data, http.StatusText(status))).
			WithStatusCode(status)

	default:
		return nil, domain.ErrUpstream(fmt.Sprintf("backend %s failed", c.namespace)).
			WithCause(fmt.Errorf("status %d: %s", status, truncate(string(data))))
	}
}

// Health probes the backend health endpoint. It is an infrastructure call
// and carries no tenant.
func (c *Connector) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(c.healthPath, nil), nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend %s health: %w", c.namespace, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("backend %s health: status %d", c.namespace, resp.StatusCode)
	}
	return nil
}

func (c *Connector) resolve(path string, query url.Values) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// backendMessage extracts a client-safe message from an error body.
func backendMessage(data []byte, fallback string) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Message != "" {
			return truncate(body.Message)
		}
		if body.Error != "" {
			return truncate(body.Error)
		}
	}
	return fallback
}

func truncate(s string) string {
	if len(s) <= maxMessageLength {
		return s
	}
	return s[:maxMessageLength] + "..."
}
