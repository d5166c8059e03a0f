// Package sqlite provides a persistent cache tier so a single-node gateway
// keeps its warm entries across restarts.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tjfontaine/tenant-mcp-gateway/internal/storage"
)

// Store is a SQLite implementation of storage.Store
type Store struct {
	db         *sql.DB
	maxEntries int
	seq        atomic.Int64
	evictions  atomic.Int64
	now        func() time.Time
}

var (
	_ storage.Store           = (*Store)(nil)
	_ storage.EvictionCounter = (*Store)(nil)
)

// New creates a new SQLite store. maxEntries <= 0 disables the capacity bound.
func New(dbPath string, maxEntries int) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db, maxEntries: maxEntries, now: time.Now}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	var maxSeq sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(accessed_seq) FROM cache_entries`).Scan(&maxSeq); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read access sequence: %w", err)
	}
	store.seq.Store(maxSeq.Int64)

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS cache_entries (
			key TEXT PRIMARY KEY,
			namespace TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			value BLOB NOT NULL,
			inserted_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			accessed_seq INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_tenant ON cache_entries(tenant_id, namespace)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_accessed ON cache_entries(accessed_seq)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value     []byte
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	if s.now().UnixNano() >= expiresAt {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
			return nil, false, fmt.Errorf("failed to drop expired entry: %w", err)
		}
		return nil, false, nil
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE cache_entries SET accessed_seq = ? WHERE key = ?`, s.seq.Add(1), key,
	); err != nil {
		return nil, false, fmt.Errorf("failed to touch cache entry: %w", err)
	}

	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ns, _, tenantID, ok := storage.ParseKey(key)
	if !ok {
		return fmt.Errorf("malformed cache key %q", key)
	}

	now := s.now()
	query := `INSERT INTO cache_entries (key, namespace, tenant_id, value, inserted_at, expires_at, accessed_seq)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			inserted_at = excluded.inserted_at,
			expires_at = excluded.expires_at,
			accessed_seq = excluded.accessed_seq`
	if _, err := s.db.ExecContext(ctx, query,
		key, ns, tenantID, value, now.UnixNano(), now.Add(ttl).UnixNano(), s.seq.Add(1),
	); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}

	return s.enforceCapacity(ctx)
}

// enforceCapacity drops expired rows, then least recently used rows above maxEntries.
func (s *Store) enforceCapacity(ctx context.Context) error {
	if s.maxEntries <= 0 {
		return nil
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&count); err != nil {
		return fmt.Errorf("failed to count cache entries: %w", err)
	}
	if count <= s.maxEntries {
		return nil
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at <= ?`, s.now().UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to drop expired entries: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&count); err != nil {
		return fmt.Errorf("failed to count cache entries: %w", err)
	}
	excess := count - s.maxEntries
	if excess <= 0 {
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE key IN (
			SELECT key FROM cache_entries ORDER BY accessed_seq ASC LIMIT ?
		)`, excess)
	if err != nil {
		return fmt.Errorf("failed to evict cache entries: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		s.evictions.Add(n)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func (s *Store) Invalidate(ctx context.Context, prefix, tenantID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries
		WHERE tenant_id = ? AND (namespace = ? OR substr(namespace, 1, length(?)) = ?)`,
		tenantID, prefix, prefix+".", prefix+".",
	)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate cache entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count invalidated entries: %w", err)
	}
	return int(n), nil
}

func (s *Store) Flush(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	if err != nil {
		return 0, fmt.Errorf("failed to flush cache entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count flushed entries: %w", err)
	}
	return int(n), nil
}

func (s *Store) Len(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return count, nil
}

// Evictions reports how many rows were dropped for capacity.
func (s *Store) Evictions() int64 {
	return s.evictions.Load()
}

func (s *Store) Close() error {
	return s.db.Close()
}
