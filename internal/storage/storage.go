// Package storage defines the backing stores for the result cache and the
// key layout they share.
//
// Every key is "namespace:argsDigest:tenantID". Namespaces are dotted
// ("payments.transactions.get_transactions_list") and never contain ':',
// digests are hex, so the tenant part is everything after the second ':'.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrInvalidNamespace is returned for namespaces that would break the key layout.
var ErrInvalidNamespace = errors.New("namespace must be non-empty and must not contain ':'")

// Store is a TTL-bounded byte store keyed by cache keys.
type Store interface {
	// Get returns the value for key. A missing or expired entry is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. A missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Invalidate removes every entry whose namespace equals prefix or is a
	// dotted child of it, and whose tenant part equals tenantID exactly.
	Invalidate(ctx context.Context, prefix, tenantID string) (int, error)

	// Flush removes every entry and reports how many were removed.
	Flush(ctx context.Context) (int, error)

	// Len reports the number of stored entries.
	Len(ctx context.Context) (int, error)

	Close() error
}

// EvictionCounter is implemented by stores that evict on capacity.
type EvictionCounter interface {
	Evictions() int64
}

// Key composes a cache key.
func Key(namespace, digest, tenantID string) string {
	return namespace + ":" + digest + ":" + tenantID
}

// ParseKey splits a key into its parts.
func ParseKey(key string) (namespace, digest, tenantID string, ok bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// ValidNamespace reports whether ns can be used as a key namespace.
func ValidNamespace(ns string) bool {
	return ns != "" && !strings.Contains(ns, ":")
}

// NamespaceMatches reports whether ns equals prefix or is a dotted child of it.
func NamespaceMatches(ns, prefix string) bool {
	return ns == prefix || strings.HasPrefix(ns, prefix+".")
}

// Matches reports whether key falls under prefix for tenantID.
func Matches(key, prefix, tenantID string) bool {
	ns, _, tid, ok := ParseKey(key)
	if !ok {
		return false
	}
	return tid == tenantID && NamespaceMatches(ns, prefix)
}
