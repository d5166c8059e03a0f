// Package cache memoizes read operations per tenant and drops stale entries
// after writes.
package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/blake3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/tenant-mcp-gateway/internal/domain"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/storage"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/tenant"
)

// epochStripes bounds the invalidation epochs kept regardless of how many
// tenant ids are seen. Tenants sharing a stripe only lose a store now and then.
const epochStripes = 256

// Compute produces the value for a cache miss.
type Compute func(ctx context.Context) (json.RawMessage, error)

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Entries       int    `json:"entries"`
	Hits          int64  `json:"hits"`
	Misses        int64  `json:"misses"`
	Evictions     int64  `json:"evictions"`
	Invalidations int64  `json:"invalidations"`
	Driver        string `json:"driver,omitempty"`
}

// Cache is the tenant-scoped result cache. It is safe for concurrent use and
// holds no per-call state.
type Cache struct {
	store  storage.Store
	driver string
	logger *slog.Logger
	tracer trace.Tracer

	hits          atomic.Int64
	misses        atomic.Int64
	invalidations atomic.Int64

	// epochs are bumped on every invalidation of a tenant hashing to the
	// stripe, so a compute that overlapped one does not keep its result.
	epochs [epochStripes]atomic.Uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithDriver names the store in Stats.
func WithDriver(name string) Option {
	return func(c *Cache) {
		c.driver = name
	}
}

// New creates a cache over store.
func New(store storage.Store, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		logger: slog.Default(),
		tracer: otel.Tracer("github.com/tjfontaine/tenant-mcp-gateway/internal/cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Digest returns the BLAKE3 hex digest of the canonical JSON encoding of
// args. Map keys are sorted by encoding/json, so equal arguments always
// produce equal digests.
func Digest(args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	canonical, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode arguments: %w", err)
	}
	sum := blake3.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// GetOrCompute returns the cached value for (namespace, argsDigest, tenant)
// or calls compute and stores its result for ttl. Compute failures are never
// stored and ttl <= 0 disables storing. Concurrent misses on the same key
// may each call compute.
func (c *Cache) GetOrCompute(ctx context.Context, tc tenant.Context, namespace, argsDigest string, ttl time.Duration, compute Compute) (json.RawMessage, error) {
	if tc.IsZero() {
		return nil, domain.ErrInternal("cache lookup without tenant")
	}
	if !storage.ValidNamespace(namespace) {
		return nil, domain.ErrInternal("invalid cache namespace").WithCause(storage.ErrInvalidNamespace)
	}

	ctx, span := c.tracer.Start(ctx, "cache.GetOrCompute",
		trace.WithAttributes(
			attribute.String("cache.namespace", namespace),
			attribute.String("tenant.id", tc.TenantID()),
		))
	defer span.End()

	key := storage.Key(namespace, argsDigest, tc.TenantID())

	value, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed",
			slog.String("namespace", namespace),
			slog.String("tenant_id", tc.TenantID()),
			slog.String("error", err.Error()))
	}
	if ok {
		c.hits.Add(1)
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return json.RawMessage(value), nil
	}
	c.misses.Add(1)
	span.SetAttributes(attribute.Bool("cache.hit", false))

	epoch := c.epoch(tc.TenantID())
	before := epoch.Load()

	result, err := compute(ctx)
	if err != nil {
		return nil, err
	}

	if ttl <= 0 {
		return result, nil
	}
	if epoch.Load() != before {
		c.logger.Debug("skipping cache store after concurrent invalidation",
			slog.String("namespace", namespace),
			slog.String("tenant_id", tc.TenantID()))
		return result, nil
	}

	if err := c.store.Set(ctx, key, result, ttl); err != nil {
		c.logger.Warn("cache write failed",
			slog.String("namespace", namespace),
			slog.String("tenant_id", tc.TenantID()),
			slog.String("error", err.Error()))
		return result, nil
	}

	// An invalidation between the check above and Set may have missed the
	// new entry.
	if epoch.Load() != before {
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.Warn("cache delete after concurrent invalidation failed",
				slog.String("namespace", namespace),
				slog.String("tenant_id", tc.TenantID()),
				slog.String("error", err.Error()))
		}
	}
	return result, nil
}

// Invalidate removes every entry of tc's tenant whose namespace equals prefix
// or is a dotted child of it. Other tenants are never touched.
func (c *Cache) Invalidate(ctx context.Context, tc tenant.Context, prefix string) (int, error) {
	if tc.IsZero() {
		return 0, domain.ErrInternal("cache invalidation without tenant")
	}
	if !storage.ValidNamespace(prefix) {
		return 0, domain.ErrInternal("invalid cache namespace").WithCause(storage.ErrInvalidNamespace)
	}

	c.epoch(tc.TenantID()).Add(1)

	n, err := c.store.Invalidate(ctx, prefix, tc.TenantID())
	if err != nil {
		return 0, fmt.Errorf("invalidate %s: %w", prefix, err)
	}
	if n > 0 {
		c.invalidations.Add(int64(n))
		c.logger.Debug("cache invalidated",
			slog.String("prefix", prefix),
			slog.String("tenant_id", tc.TenantID()),
			slog.Int("entries", n))
	}
	return n, nil
}

// Flush removes every entry of every tenant. Operator use only.
func (c *Cache) Flush(ctx context.Context) (int, error) {
	for i := range c.epochs {
		c.epochs[i].Add(1)
	}
	n, err := c.store.Flush(ctx)
	if err != nil {
		return 0, fmt.Errorf("flush cache: %w", err)
	}
	return n, nil
}

// Stats returns the current counters.
func (c *Cache) Stats(ctx context.Context) Stats {
	s := Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
		Driver:        c.driver,
	}
	if n, err := c.store.Len(ctx); err == nil {
		s.Entries = n
	} else {
		c.logger.Warn("cache size unavailable", slog.String("error", err.Error()))
	}
	if ec, ok := c.store.(storage.EvictionCounter); ok {
		s.Evictions = ec.Evictions()
	}
	return s
}

// Close releases the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}

func (c *Cache) epoch(tenantID string) *atomic.Uint64 {
	return &c.epochs[xxhash.Sum64String(tenantID)%epochStripes]
}
