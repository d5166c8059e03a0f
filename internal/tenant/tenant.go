// Package tenant identifies the caller of exactly one in-flight operation.
//
// A Context is a value: it is built once per inbound call, passed as an
// explicit parameter down to the cache and the backend connector, and
// dropped when the call completes. Nothing in the gateway stores one on a
// long-lived object.
package tenant

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/tjfontaine/tenant-mcp-gateway/internal/domain"
)

// Header names carrying tenant identity on inbound and outbound calls.
const (
	HeaderTenantID = "X-Tenant-Id"
	HeaderDealerID = "X-Dealer-Id"
	HeaderUserID   = "X-User-Id"
	HeaderLocale   = "X-Locale"
)

// Query parameter names used by transports that cannot set headers (SSE).
const (
	QueryTenantID = "tenantId"
	QueryDealerID = "dealerId"
	QueryUserID   = "userId"
	QueryLocale   = "locale"
)

// MaxFieldLength bounds tenant, dealer and user identifiers.
const MaxFieldLength = 50

// DefaultLocale is used when the caller sends none.
const DefaultLocale = "en-US"

// Context identifies the caller for one operation.
type Context struct {
	tenantID string
	dealerID string
	userID   string
	locale   string
}

// New validates the identity fields and returns a Context.
// Fields are trimmed before validation; a blank locale becomes DefaultLocale.
func New(tenantID, dealerID, userID, locale string) (Context, error) {
	fields := []struct {
		header string
		value  string
	}{
		{HeaderTenantID, strings.TrimSpace(tenantID)},
		{HeaderDealerID, strings.TrimSpace(dealerID)},
		{HeaderUserID, strings.TrimSpace(userID)},
	}

	for _, f := range fields {
		if f.value == "" {
			return Context{}, domain.ErrMissingTenantHeaders(f.header)
		}
	}
	for _, f := range fields {
		if utf8.RuneCountInString(f.value) > MaxFieldLength {
			return Context{}, domain.ErrHeaderTooLong(f.header, MaxFieldLength)
		}
	}

	locale = strings.TrimSpace(locale)
	if locale == "" {
		locale = DefaultLocale
	}

	return Context{
		tenantID: fields[0].value,
		dealerID: fields[1].value,
		userID:   fields[2].value,
		locale:   locale,
	}, nil
}

// FromHeaders builds a Context from X-Tenant-Id, X-Dealer-Id, X-User-Id and
// X-Locale.
func FromHeaders(h http.Header) (Context, error) {
	return New(
		h.Get(HeaderTenantID),
		h.Get(HeaderDealerID),
		h.Get(HeaderUserID),
		h.Get(HeaderLocale),
	)
}

// FromQuery builds a Context from query parameters. Failures still name the
// header equivalent so clients see one vocabulary.
func FromQuery(q url.Values) (Context, error) {
	return New(
		q.Get(QueryTenantID),
		q.Get(QueryDealerID),
		q.Get(QueryUserID),
		q.Get(QueryLocale),
	)
}

// TenantID returns the tenant identifier.
func (c Context) TenantID() string { return c.tenantID }

// DealerID returns the dealer identifier.
func (c Context) DealerID() string { return c.dealerID }

// UserID returns the user identifier.
func (c Context) UserID() string { return c.userID }

// Locale returns the caller locale.
func (c Context) Locale() string { return c.locale }

// IsZero reports whether c was never validated.
func (c Context) IsZero() bool {
	return c.tenantID == ""
}

// Apply sets the four tenant headers on an outbound request.
func (c Context) Apply(h http.Header) {
	h.Set(HeaderTenantID, c.tenantID)
	h.Set(HeaderDealerID, c.dealerID)
	h.Set(HeaderUserID, c.userID)
	h.Set(HeaderLocale, c.locale)
}

// String implements fmt.Stringer.
func (c Context) String() string {
	return c.tenantID + "/" + c.dealerID + "/" + c.userID
}

// LogValue implements slog.LogValuer.
func (c Context) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("tenant_id", c.tenantID),
		slog.String("dealer_id", c.dealerID),
		slog.String("user_id", c.userID),
	)
}

// contextKey is the type for tenant context keys
type contextKey struct{}

// WithContext hands a validated Context from middleware to the handler that
// serves the request. Handlers pull it once and pass it explicitly.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext returns the Context stored by WithContext.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(contextKey{}).(Context)
	return tc, ok && !tc.IsZero()
}
