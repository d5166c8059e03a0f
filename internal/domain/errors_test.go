package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestFailure_HTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		f    *Failure
		want int
	}{
		{"client error", ErrInvalidArguments("amount", "is required"), http.StatusBadRequest},
		{"missing tenant", ErrMissingTenantHeaders("X-User-Id"), http.StatusBadRequest},
		{"rate limited", ErrRateLimited("T1"), http.StatusTooManyRequests},
		{"not found", ErrNotFound("no such part"), http.StatusNotFound},
		{"conflict", ErrConflict("duplicate"), http.StatusConflict},
		{"upstream", ErrUpstream("backend failure"), http.StatusBadGateway},
		{"circuit open", ErrCircuitOpen("parts"), http.StatusBadGateway},
		{"timeout", ErrTimeout("deadline"), http.StatusGatewayTimeout},
		{"internal", ErrInternal("boom"), http.StatusInternalServerError},
		{"override", ErrUpstream("x").WithStatusCode(http.StatusServiceUnavailable), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFailure_Retryable(t *testing.T) {
	if ErrInvalidArguments("x", "bad").Retryable {
		t.Error("client errors must not be retryable")
	}
	if ErrNotFound("x").Retryable {
		t.Error("not found must not be retryable")
	}
	if !ErrUpstream("x").Retryable {
		t.Error("upstream must be retryable")
	}
	if !ErrTimeout("x").Retryable {
		t.Error("timeout must be retryable")
	}
}

func TestFailure_PublicMessage(t *testing.T) {
	f := ErrInternal("nil map write in handler")
	if f.PublicMessage() == f.Message {
		t.Error("internal failure leaked its message")
	}

	nf := ErrNotFound("part 42 not found")
	if nf.PublicMessage() != "part 42 not found" {
		t.Errorf("PublicMessage() = %q", nf.PublicMessage())
	}
}

func TestAsFailure(t *testing.T) {
	if AsFailure(nil) != nil {
		t.Error("AsFailure(nil) should be nil")
	}

	orig := ErrConflict("dup")
	wrapped := fmt.Errorf("create part: %w", orig)
	if got := AsFailure(wrapped); got != orig {
		t.Errorf("AsFailure lost the wrapped failure: %v", got)
	}

	plain := errors.New("socket closed")
	got := AsFailure(plain)
	if got.Kind != KindInternal {
		t.Errorf("Kind = %s, want internal", got.Kind)
	}
	if !errors.Is(got, plain) {
		t.Error("cause not kept")
	}
}

func TestIsKind(t *testing.T) {
	err := fmt.Errorf("lookup: %w", ErrNotFound("missing"))
	if !IsKind(err, KindNotFound) {
		t.Error("IsKind(not_found) = false")
	}
	if IsKind(err, KindConflict) {
		t.Error("IsKind(conflict) = true")
	}
	if IsKind(errors.New("x"), KindInternal) {
		t.Error("plain errors are not failures")
	}
}

func TestFailure_Error(t *testing.T) {
	f := ErrMissingTenantHeaders("X-Dealer-Id")
	want := "client_error (missing_tenant_headers): missing required header: X-Dealer-Id"
	if f.Error() != want {
		t.Errorf("Error() = %q, want %q", f.Error(), want)
	}
	if f.Field != "X-Dealer-Id" {
		t.Errorf("Field = %q", f.Field)
	}
}
