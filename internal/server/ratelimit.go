package server

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tjfontaine/tenant-mcp-gateway/internal/domain"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/tenant"
)

// idleLimiterTTL is how long an unused tenant bucket is kept.
const idleLimiterTTL = 3 * time.Minute

// RateLimitInfo describes a tenant's request budget after one request.
type RateLimitInfo struct {
	RequestsLimit     int
	RequestsRemaining int
}

// Limiter decides whether a tenant may make another request.
type Limiter interface {
	Allow(tenantID string) (RateLimitInfo, bool)
}

// TenantLimiter is a token bucket per tenant.
type TenantLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	tenants map[string]*tenantBucket
	now     func() time.Time
}

type tenantBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewTenantLimiter allows each tenant requestsPerSecond with the given burst.
// Idle buckets are swept until ctx is cancelled.
func NewTenantLimiter(ctx context.Context, requestsPerSecond float64, burst int) *TenantLimiter {
	if burst < 1 {
		burst = 1
	}
	l := &TenantLimiter{
		limit:   rate.Limit(requestsPerSecond),
		burst:   burst,
		tenants: make(map[string]*tenantBucket),
		now:     time.Now,
	}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.sweep()
			case <-ctx.Done():
				return
			}
		}
	}()

	return l
}

// Allow spends one token from the tenant's bucket.
func (l *TenantLimiter) Allow(tenantID string) (RateLimitInfo, bool) {
	now := l.now()

	l.mu.Lock()
	b, ok := l.tenants[tenantID]
	if !ok {
		b = &tenantBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.tenants[tenantID] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	allowed := b.limiter.AllowN(now, 1)
	remaining := int(b.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return RateLimitInfo{RequestsLimit: l.burst, RequestsRemaining: remaining}, allowed
}

// Len returns the number of tracked tenants.
func (l *TenantLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tenants)
}

func (l *TenantLimiter) sweep() {
	cutoff := l.now().Add(-idleLimiterTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, b := range l.tenants {
		if b.lastSeen.Before(cutoff) {
			delete(l.tenants, id)
		}
	}
}

// WriteRateLimitHeaders sets the x-ratelimit-* response headers.
func WriteRateLimitHeaders(h http.Header, info RateLimitInfo) {
	if info.RequestsLimit <= 0 {
		return
	}
	h.Set("x-ratelimit-limit-requests", strconv.Itoa(info.RequestsLimit))
	h.Set("x-ratelimit-remaining-requests", strconv.Itoa(info.RequestsRemaining))
}

// RateLimitMiddleware rejects requests from tenants over their budget. It
// must run after TenantMiddleware; a nil limiter disables it.
func RateLimitMiddleware(limiter Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc, ok := tenant.FromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			info, allowed := limiter.Allow(tc.TenantID())
			WriteRateLimitHeaders(w.Header(), info)
			if !allowed {
				WriteFailure(w, r, domain.ErrRateLimited(tc.TenantID()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
