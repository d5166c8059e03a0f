// Package frontdoor exposes the tool registry over JSON-RPC (MCP), plain REST
// and server-sent events.
//
// Every inbound call follows the same steps: parse the envelope, build a
// tenant.Context from the caller's headers, dispatch to the registry with
// that context as a parameter, and serialize the result or failure into the
// transport's shape. Only this package turns a domain.Failure into a wire
// error.
package frontdoor

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/tenant-mcp-gateway/internal/cache"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/registry"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/server"
)

// Default SSE intervals.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultStatusInterval    = 60 * time.Second
)

// maxBodyBytes bounds a JSON-RPC or REST request body.
const maxBodyBytes = 1 << 20

// Info names the gateway in initialize and metadata responses.
type Info struct {
	Name    string
	Version string
}

// SSEConfig sets the periodic event intervals of a stream.
type SSEConfig struct {
	HeartbeatInterval time.Duration
	StatusInterval    time.Duration
}

// HealthChecker probes one backend.
type HealthChecker interface {
	Namespace() string
	Health(ctx context.Context) error
}

// Config wires a Gateway.
type Config struct {
	Registry *registry.Registry
	Cache    *cache.Cache
	Info     Info
	SSE      SSEConfig
	Limiter  server.Limiter
	Backends []HealthChecker
	Logger   *slog.Logger
}

// Gateway serves the inbound surfaces. It holds no per-call state.
type Gateway struct {
	registry *registry.Registry
	cache    *cache.Cache
	info     Info
	sse      SSEConfig
	limiter  server.Limiter
	backends []HealthChecker
	logger   *slog.Logger
	sessions *sessionHub

	closing   chan struct{}
	closeOnce sync.Once
}

// New validates cfg and returns a Gateway.
func New(cfg Config) (*Gateway, error) {
	if cfg.Registry == nil {
		return nil, errors.New("frontdoor: registry is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Info.Name == "" {
		cfg.Info.Name = "tenant-mcp-gateway"
	}
	if cfg.SSE.HeartbeatInterval <= 0 {
		cfg.SSE.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.SSE.StatusInterval <= 0 {
		cfg.SSE.StatusInterval = DefaultStatusInterval
	}

	return &Gateway{
		registry: cfg.Registry,
		cache:    cfg.Cache,
		info:     cfg.Info,
		sse:      cfg.SSE,
		limiter:  cfg.Limiter,
		backends: cfg.Backends,
		logger:   cfg.Logger,
		sessions: newSessionHub(),
		closing:  make(chan struct{}),
	}, nil
}

// Mount registers every route on r.
func (g *Gateway) Mount(r chi.Router) {
	// Infrastructure paths never build a tenant context.
	r.Get("/health", g.handleHealth)
	r.Get("/metadata", g.handleMetadata)
	r.Get("/docs", g.handleDocs)
	r.Delete("/cache", g.handleCacheFlush)
	r.Get("/cache/stats", g.handleCacheStats)

	// JSON-RPC and SSE resolve the tenant after parsing the envelope so
	// failures can echo the request id.
	r.Post("/mcp", g.handleRPC)
	r.Post("/{namespace}/mcp", g.handleRPC)
	r.Get("/sse", g.handleSSE)
	r.Post("/sse/message", g.handleSSEMessage)

	r.Group(func(r chi.Router) {
		r.Use(server.TenantMiddleware)
		r.Use(server.RateLimitMiddleware(g.limiter))
		r.Get("/{namespace}/tools", g.handleListTools)
		r.Post("/{namespace}/tools/{toolName}", g.handleCallTool)
	})
}

// Close ends every open SSE stream. Streams do not end on their own when the
// HTTP server shuts down, so Close is registered as a shutdown hook.
func (g *Gateway) Close() {
	g.closeOnce.Do(func() { close(g.closing) })
}

// SessionCount returns the number of open SSE streams.
func (g *Gateway) SessionCount() int {
	return g.sessions.len()
}

func (g *Gateway) hasNamespace(namespace string) bool {
	for _, ns := range g.registry.Namespaces() {
		if ns == namespace {
			return true
		}
	}
	return false
}

func (g *Gateway) requestLogger(r *http.Request) *slog.Logger {
	return g.logger.With(slog.String("request_id", server.GetRequestID(r.Context())))
}
