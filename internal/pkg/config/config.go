package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment overrides: MCPGW_SERVER__PORT sets server.port.
const EnvPrefix = "MCPGW_"

// DefaultPath is read when no explicit path is given. A missing default file
// is not an error.
const DefaultPath = "config.yaml"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Backends  []BackendConfig `koanf:"backends"`
	Cache     CacheConfig     `koanf:"cache"`
	SSE       SSEConfig       `koanf:"sse"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// RequireHealthyBackends aborts startup when a backend health probe fails.
	RequireHealthyBackends bool `koanf:"require_healthy_backends"`
}

type LogConfig struct {
	Level string `koanf:"level"` // debug, info, warn, error
}

// BackendConfig describes one fronted service. Service selects the tool
// catalog (payments, parts, repair-orders); Namespace defaults to it.
type BackendConfig struct {
	Namespace  string        `koanf:"namespace"`
	Service    string        `koanf:"service"`
	BaseURL    string        `koanf:"base_url"`
	Timeout    time.Duration `koanf:"timeout"`
	HealthPath string        `koanf:"health_path"`
	APIToken   string        `koanf:"api_token"`
	Breaker    BreakerConfig `koanf:"breaker"`
}

type BreakerConfig struct {
	Enabled     bool          `koanf:"enabled"`
	MaxFailures uint32        `koanf:"max_failures"`
	Timeout     time.Duration `koanf:"timeout"`
	Interval    time.Duration `koanf:"interval"`
}

type CacheConfig struct {
	Driver     string        `koanf:"driver"` // memory, sqlite, redis
	MaxEntries int           `koanf:"max_entries"`
	Shards     int           `koanf:"shards"`
	DefaultTTL time.Duration `koanf:"default_ttl"`
	SQLite     SQLiteConfig  `koanf:"sqlite"`
	Redis      RedisConfig   `koanf:"redis"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type RedisConfig struct {
	URL       string `koanf:"url"`
	KeyPrefix string `koanf:"key_prefix"`
}

type SSEConfig struct {
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	StatusInterval    time.Duration `koanf:"status_interval"`
}

// RateLimitConfig is per tenant. A zero rate disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

var defaults = map[string]any{
	"server.port":             8080,
	"server.request_timeout":  "30s",
	"server.shutdown_timeout": "30s",
	"log.level":               "info",
	"cache.driver":            "memory",
	"cache.max_entries":       10000,
	"cache.shards":            16,
	"cache.default_ttl":       "5m",
	"cache.sqlite.path":       "gateway-cache.db",
	"cache.redis.url":         "redis://localhost:6379/0",
	"cache.redis.key_prefix":  "mcpgw:",
	"sse.heartbeat_interval":  "30s",
	"sse.status_interval":     "60s",
	"telemetry.service_name":  "tenant-mcp-gateway",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path (or DefaultPath when empty), applies MCPGW_ environment
// overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// Only the implicit default file may be absent.
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, v := range defaults {
		if !k.Exists(key) {
			k.Set(key, v)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	for i := range cfg.Backends {
		b := &cfg.Backends[i]
		b.APIToken = substituteEnvVars(b.APIToken)
		b.BaseURL = substituteEnvVars(b.BaseURL)
		if b.Namespace == "" {
			b.Namespace = b.Service
		}
		if b.Service == "" {
			b.Service = b.Namespace
		}
	}
	cfg.Cache.Redis.URL = substituteEnvVars(cfg.Cache.Redis.URL)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if len(c.Backends) == 0 {
		return errors.New("at least one backend must be configured")
	}

	seen := make(map[string]bool, len(c.Backends))
	for i, b := range c.Backends {
		if b.Namespace == "" {
			return fmt.Errorf("backends[%d]: namespace or service is required", i)
		}
		if strings.ContainsAny(b.Namespace, ":/ ") {
			return fmt.Errorf("backends[%d]: namespace %q must not contain ':', '/' or spaces", i, b.Namespace)
		}
		if seen[b.Namespace] {
			return fmt.Errorf("backends[%d]: duplicate namespace %q", i, b.Namespace)
		}
		seen[b.Namespace] = true
		if b.BaseURL == "" {
			return fmt.Errorf("backends[%d] (%s): base_url is required", i, b.Namespace)
		}
	}

	switch c.Cache.Driver {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("cache.driver %q: want memory, sqlite or redis", c.Cache.Driver)
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return errors.New("rate_limit.requests_per_second must not be negative")
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
