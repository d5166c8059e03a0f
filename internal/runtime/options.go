package runtime

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/tenant-mcp-gateway/internal/pkg/config"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/storage"
)

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway) error

// WithFileConfig loads configuration from a YAML file plus MCPGW_ environment
// overrides. An empty path reads config.yaml if present.
func WithFileConfig(path string) Option {
	return func(g *Gateway) error {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		g.cfg = cfg
		return nil
	}
}

// WithConfig uses an already-built configuration.
func WithConfig(cfg *config.Config) Option {
	return func(g *Gateway) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		g.cfg = cfg
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		g.logger = logger
		return nil
	}
}

// WithVersion sets the version reported by initialize, /health and /metadata.
func WithVersion(version string) Option {
	return func(g *Gateway) error {
		g.version = version
		return nil
	}
}

// WithStore replaces the store selected by cache.driver. The gateway closes
// it on shutdown.
func WithStore(store storage.Store, driver string) Option {
	return func(g *Gateway) error {
		g.store = store
		g.storeDriver = driver
		return nil
	}
}

// WithBackendClient sets the HTTP client every backend connector uses.
func WithBackendClient(client *http.Client) Option {
	return func(g *Gateway) error {
		g.backendClient = client
		return nil
	}
}
