// Package runtime provides the Gateway struct and lifecycle management for
// the tenant MCP gateway.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"

	"github.com/tjfontaine/tenant-mcp-gateway/internal/backend"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/cache"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/catalog"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/frontdoor"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/pkg/config"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/registry"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/server"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/storage"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/storage/memory"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/storage/redis"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/storage/sqlite"
)

// Gateway wires configuration, the result cache, backend connectors, the
// tool registry and the inbound surfaces, and owns the HTTP server.
// It can be embedded in larger applications or run standalone.
type Gateway struct {
	// Dependencies (injected via options)
	cfg           *config.Config
	logger        *slog.Logger
	version       string
	store         storage.Store
	storeDriver   string
	backendClient *http.Client

	// Built by Start
	cache      *cache.Cache
	connectors []*backend.Connector
	registry   *registry.Registry
	frontdoor  *frontdoor.Gateway
	server     *server.Server

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

// New creates a Gateway with the given options. A configuration source is
// required (WithFileConfig or WithConfig).
func New(opts ...Option) (*Gateway, error) {
	gw := &Gateway{
		logger:  slog.Default(),
		version: "dev",
	}

	for _, opt := range opts {
		if err := opt(gw); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if gw.cfg == nil {
		return nil, errors.New("config required (use WithFileConfig or WithConfig)")
	}
	return gw, nil
}

// Start builds every component and starts serving in the background.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.server != nil {
		return errors.New("gateway already started")
	}
	g.ctx, g.cancel = context.WithCancel(ctx)

	if err := g.build(); err != nil {
		g.cancel()
		g.closeCache()
		return err
	}

	srv := g.server
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("server error", slog.String("error", err.Error()))
		}
	}()

	g.logger.Info("gateway started",
		slog.Int("port", g.cfg.Server.Port),
		slog.Int("backends", len(g.connectors)),
		slog.Int("tools", g.registry.Len()),
		slog.String("cache_driver", g.storeDriver))
	return nil
}

func (g *Gateway) build() error {
	if err := g.initCache(); err != nil {
		return fmt.Errorf("init cache: %w", err)
	}
	defs, err := g.initBackends()
	if err != nil {
		return fmt.Errorf("init backends: %w", err)
	}

	reg, err := registry.New(defs, registry.WithLogger(g.logger))
	if err != nil {
		return fmt.Errorf("init registry: %w", err)
	}
	g.registry = reg

	if err := g.checkBackends(); err != nil {
		return err
	}

	fdCfg := frontdoor.Config{
		Registry: g.registry,
		Cache:    g.cache,
		Info:     frontdoor.Info{Name: g.cfg.Telemetry.ServiceName, Version: g.version},
		SSE: frontdoor.SSEConfig{
			HeartbeatInterval: g.cfg.SSE.HeartbeatInterval,
			StatusInterval:    g.cfg.SSE.StatusInterval,
		},
		Logger: g.logger,
	}
	for _, c := range g.connectors {
		fdCfg.Backends = append(fdCfg.Backends, c)
	}
	if rl := g.cfg.RateLimit; rl.RequestsPerSecond > 0 {
		burst := rl.Burst
		if burst <= 0 {
			burst = int(math.Ceil(rl.RequestsPerSecond))
		}
		fdCfg.Limiter = server.NewTenantLimiter(g.ctx, rl.RequestsPerSecond, burst)
	}

	fd, err := frontdoor.New(fdCfg)
	if err != nil {
		return fmt.Errorf("init frontdoor: %w", err)
	}
	g.frontdoor = fd

	g.server = server.New(g.cfg.Server.Port, g.logger, server.Options{
		RequestTimeout: g.cfg.Server.RequestTimeout,
		ServiceName:    g.cfg.Telemetry.ServiceName,
	})
	g.frontdoor.Mount(g.server.Router)
	g.server.RegisterOnShutdown(g.frontdoor.Close)
	return nil
}

// initCache opens the store selected by cache.driver unless one was injected.
func (g *Gateway) initCache() error {
	if g.store == nil {
		store, err := openStore(g.ctx, g.cfg.Cache)
		if err != nil {
			return err
		}
		g.store = store
		g.storeDriver = g.cfg.Cache.Driver
	}
	g.cache = cache.New(g.store, cache.WithLogger(g.logger), cache.WithDriver(g.storeDriver))
	return nil
}

func openStore(ctx context.Context, cfg config.CacheConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return memory.New(cfg.MaxEntries, cfg.Shards)
	case "sqlite":
		return sqlite.New(cfg.SQLite.Path, cfg.MaxEntries)
	case "redis":
		return redis.New(ctx, cfg.Redis.URL, cfg.Redis.KeyPrefix)
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
}

// initBackends creates one connector per configured backend and binds its
// service catalog to it.
func (g *Gateway) initBackends() ([]registry.Definition, error) {
	var defs []registry.Definition
	for _, bc := range g.cfg.Backends {
		opts := []backend.Option{backend.WithLogger(g.logger)}
		if g.backendClient != nil {
			opts = append(opts, backend.WithHTTPClient(g.backendClient))
		}
		conn, err := backend.New(backend.Config{
			Namespace:  bc.Namespace,
			BaseURL:    bc.BaseURL,
			Timeout:    bc.Timeout,
			HealthPath: bc.HealthPath,
			APIToken:   bc.APIToken,
			Breaker: backend.BreakerConfig{
				Enabled:     bc.Breaker.Enabled,
				MaxFailures: bc.Breaker.MaxFailures,
				Timeout:     bc.Breaker.Timeout,
				Interval:    bc.Breaker.Interval,
			},
		}, opts...)
		if err != nil {
			return nil, err
		}

		routes, err := catalog.Routes(bc.Service)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", bc.Namespace, err)
		}
		built, err := catalog.Builder{
			Namespace:  bc.Namespace,
			Caller:     conn,
			Cache:      g.cache,
			DefaultTTL: g.cfg.Cache.DefaultTTL,
			Logger:     g.logger,
		}.Build(routes)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", bc.Namespace, err)
		}

		g.connectors = append(g.connectors, conn)
		defs = append(defs, built...)
		g.logger.Debug("backend registered",
			slog.String("namespace", bc.Namespace),
			slog.String("service", bc.Service),
			slog.Int("tools", len(built)))
	}
	return defs, nil
}

// checkBackends probes every backend once. Failures are fatal only when
// server.require_healthy_backends is set.
func (g *Gateway) checkBackends() error {
	for _, c := range g.connectors {
		err := c.Health(g.ctx)
		if err == nil {
			continue
		}
		if g.cfg.Server.RequireHealthyBackends {
			return fmt.Errorf("backend %s unhealthy: %w", c.Namespace(), err)
		}
		g.logger.Warn("backend unhealthy at startup",
			slog.String("namespace", c.Namespace()),
			slog.String("error", err.Error()))
	}
	return nil
}

// Handler returns the HTTP handler with every route mounted. It is nil
// before Start.
func (g *Gateway) Handler() http.Handler {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.server == nil {
		return nil
	}
	return g.server.Router
}

// Registry returns the tool registry. It is nil before Start.
func (g *Gateway) Registry() *registry.Registry {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.registry
}

// Shutdown gracefully stops the gateway.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("shutting down gateway")

	if g.cancel != nil {
		g.cancel()
	}

	var err error
	if g.server != nil {
		if err = g.server.Shutdown(ctx); err != nil {
			g.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
		}
	}

	// The stores are released even when draining timed out.
	g.closeCache()
	if err != nil {
		return err
	}
	g.logger.Info("gateway shutdown complete")
	return nil
}

func (g *Gateway) closeCache() {
	var err error
	switch {
	case g.cache != nil:
		err = g.cache.Close()
	case g.store != nil:
		err = g.store.Close()
	}
	if err != nil {
		g.logger.Error("failed to close cache store", slog.String("error", err.Error()))
	}
	g.cache = nil
	g.store = nil
}
