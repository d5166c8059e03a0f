package server

import (
	"net/http"
	"time"

	"github.com/tjfontaine/tenant-mcp-gateway/internal/domain"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/tenant"
)

// TenantValidationCode is the error code of a rejected tenant header set.
const TenantValidationCode = "MT001"

// TenantError is the body returned when tenant headers are missing or invalid.
type TenantError struct {
	Error     string      `json:"error"`
	Message   string      `json:"message"`
	Code      string      `json:"code"`
	Reason    domain.Code `json:"reason"`
	Field     string      `json:"field,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// TenantMiddleware validates the X-Tenant-Id, X-Dealer-Id, X-User-Id and
// X-Locale headers and hands the resulting tenant.Context to the handler.
// Requests with missing or oversized headers are rejected before any
// handler runs.
func TenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc, err := tenant.FromHeaders(r.Header)
		if err != nil {
			f := domain.AsFailure(err)
			AddError(r.Context(), f)
			WriteJSON(w, f.HTTPStatus(), TenantError{
				Error:     "Tenant Validation Failed",
				Message:   f.Message,
				Code:      TenantValidationCode,
				Reason:    f.Code,
				Field:     f.Field,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
			return
		}

		AddLogField(r.Context(), "tenant_id", tc.TenantID())
		next.ServeHTTP(w, r.WithContext(tenant.WithContext(r.Context(), tc)))
	})
}
