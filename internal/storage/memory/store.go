package memory

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tjfontaine/tenant-mcp-gateway/internal/storage"
)

const (
	DefaultMaxEntries = 10000
	DefaultShards     = 16
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Store is a sharded in-memory LRU store. Each shard carries its own lock,
// so lookups on different keys rarely contend.
type Store struct {
	shards    []*lru.Cache[string, entry]
	evictions atomic.Int64
	now       func() time.Time
}

var (
	_ storage.Store           = (*Store)(nil)
	_ storage.EvictionCounter = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a new in-memory store bounded to roughly maxEntries.
func New(maxEntries, shards int, opts ...Option) (*Store, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if shards <= 0 {
		shards = DefaultShards
	}
	if shards > maxEntries {
		shards = maxEntries
	}

	perShard := (maxEntries + shards - 1) / shards
	s := &Store{
		shards: make([]*lru.Cache[string, entry], shards),
		now:    time.Now,
	}
	for i := range s.shards {
		c, err := lru.New[string, entry](perShard)
		if err != nil {
			return nil, fmt.Errorf("create shard %d: %w", i, err)
		}
		s.shards[i] = c
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *Store) shard(key string) *lru.Cache[string, entry] {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	sh := s.shard(key)
	e, ok := sh.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !s.now().Before(e.expiresAt) {
		sh.Remove(key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	buf := make([]byte, len(value))
	copy(buf, value)

	if evicted := s.shard(key).Add(key, entry{value: buf, expiresAt: s.now().Add(ttl)}); evicted {
		s.evictions.Add(1)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.shard(key).Remove(key)
	return nil
}

func (s *Store) Invalidate(ctx context.Context, prefix, tenantID string) (int, error) {
	removed := 0
	for _, sh := range s.shards {
		for _, key := range sh.Keys() {
			if storage.Matches(key, prefix, tenantID) && sh.Remove(key) {
				removed++
			}
		}
	}
	return removed, nil
}

func (s *Store) Flush(ctx context.Context) (int, error) {
	n := 0
	for _, sh := range s.shards {
		n += sh.Len()
		sh.Purge()
	}
	return n, nil
}

func (s *Store) Len(ctx context.Context) (int, error) {
	n := 0
	for _, sh := range s.shards {
		n += sh.Len()
	}
	return n, nil
}

// Evictions reports how many entries were dropped for capacity.
func (s *Store) Evictions() int64 {
	return s.evictions.Load()
}

func (s *Store) Close() error {
	return nil
}
