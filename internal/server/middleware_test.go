package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/tenant-mcp-gateway/internal/domain"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/tenant"
)

func tenantRequest(method, path, tenantID, dealerID, userID string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	if tenantID != "" {
		req.Header.Set(tenant.HeaderTenantID, tenantID)
	}
	if dealerID != "" {
		req.Header.Set(tenant.HeaderDealerID, dealerID)
	}
	if userID != "" {
		req.Header.Set(tenant.HeaderUserID, userID)
	}
	return req
}

// =============================================================================
// RequestIDMiddleware Tests
// =============================================================================

func TestRequestIDMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRequestID(r.Context()) == "" {
			t.Error("Expected request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	RequestIDMiddleware(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Header().Get(HeaderRequestID) == "" {
		t.Error("Expected X-Request-ID header to be set")
	}
}

func TestRequestIDMiddleware_UniqueIDs(t *testing.T) {
	wrapped := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec1 := httptest.NewRecorder()
	wrapped.ServeHTTP(rec1, httptest.NewRequest("GET", "/", nil))
	rec2 := httptest.NewRecorder()
	wrapped.ServeHTTP(rec2, httptest.NewRequest("GET", "/", nil))

	if id1, id2 := rec1.Header().Get(HeaderRequestID), rec2.Header().Get(HeaderRequestID); id1 == id2 {
		t.Errorf("Expected unique request IDs, got same: %s", id1)
	}
}

func TestRequestIDMiddleware_KeepsCallerID(t *testing.T) {
	tests := []struct {
		name    string
		inbound string
		keep    bool
	}{
		{"short id kept", "trace-abc", true},
		{"oversized id replaced", strings.Repeat("x", maxRequestIDLength+1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.Header.Set(HeaderRequestID, tt.inbound)
			rec := httptest.NewRecorder()
			RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)

			got := rec.Header().Get(HeaderRequestID)
			if (got == tt.inbound) != tt.keep {
				t.Errorf("X-Request-ID = %q, keep = %v", got, tt.keep)
			}
		})
	}
}

func TestGetRequestID_NotSet(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("Expected empty string, got %q", id)
	}
}

// =============================================================================
// TimeoutMiddleware Tests
// =============================================================================

func TestTimeoutMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Deadline(); !ok {
			t.Error("Expected context to have deadline")
		}
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	TimeoutMiddleware(30*time.Second)(handler).ServeHTTP(rec, httptest.NewRequest("POST", "/mcp", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, rec.Code)
	}
}

func TestTimeoutMiddleware_ContextCancelled(t *testing.T) {
	cancelled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			cancelled = true
		case <-time.After(100 * time.Millisecond):
		}
	})

	TimeoutMiddleware(10*time.Millisecond)(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/mcp", nil))

	if !cancelled {
		t.Error("Expected context to be cancelled due to timeout")
	}
}

func TestTimeoutMiddleware_EventStreamExempt(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		accept string
	}{
		{"accept header", "/events", "text/event-stream"},
		{"sse path", "/sse", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if _, ok := r.Context().Deadline(); ok {
					t.Error("event stream got a deadline")
				}
			})
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			TimeoutMiddleware(time.Second)(handler).ServeHTTP(httptest.NewRecorder(), req)
		})
	}
}

// =============================================================================
// TenantMiddleware Tests
// =============================================================================

func TestTenantMiddleware_Valid(t *testing.T) {
	var got tenant.Context
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc, ok := tenant.FromContext(r.Context())
		if !ok {
			t.Error("Expected tenant in context")
		}
		got = tc
		w.WriteHeader(http.StatusOK)
	})

	req := tenantRequest("GET", "/payments/tools", "T1", "D1", "U1")
	req.Header.Set(tenant.HeaderLocale, "fr-FR")
	rec := httptest.NewRecorder()
	TenantMiddleware(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got.TenantID() != "T1" || got.DealerID() != "D1" || got.UserID() != "U1" || got.Locale() != "fr-FR" {
		t.Errorf("tenant = %v (%s)", got, got.Locale())
	}
}

func TestTenantMiddleware_Rejects(t *testing.T) {
	tests := []struct {
		name       string
		req        *http.Request
		wantReason domain.Code
		wantField  string
	}{
		{"missing user", tenantRequest("GET", "/", "T1", "D1", ""), domain.CodeMissingTenantHeaders, tenant.HeaderUserID},
		{"missing all", tenantRequest("GET", "/", "", "", ""), domain.CodeMissingTenantHeaders, tenant.HeaderTenantID},
		{"blank dealer", tenantRequest("GET", "/", "T1", "   ", "U1"), domain.CodeMissingTenantHeaders, tenant.HeaderDealerID},
		{"too long", tenantRequest("GET", "/", strings.Repeat("t", 51), "D1", "U1"), domain.CodeHeaderTooLong, tenant.HeaderTenantID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

			rec := httptest.NewRecorder()
			TenantMiddleware(handler).ServeHTTP(rec, tt.req)

			if called {
				t.Error("handler ran for an invalid tenant")
			}
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			var body TenantError
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.Code != TenantValidationCode || body.Reason != tt.wantReason || body.Field != tt.wantField {
				t.Errorf("body = %+v", body)
			}
			if body.Timestamp == "" {
				t.Error("missing timestamp")
			}
		})
	}
}

// =============================================================================
// Rate limiting Tests
// =============================================================================

func TestTenantLimiter_PerTenantBuckets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewTenantLimiter(ctx, 0.001, 2)
	fixed := time.Now()
	l.now = func() time.Time { return fixed }

	for i := 0; i < 2; i++ {
		if _, ok := l.Allow("T1"); !ok {
			t.Fatalf("request %d denied", i)
		}
	}
	info, ok := l.Allow("T1")
	if ok {
		t.Error("third request within burst allowed")
	}
	if info.RequestsLimit != 2 || info.RequestsRemaining != 0 {
		t.Errorf("info = %+v", info)
	}

	if _, ok := l.Allow("T2"); !ok {
		t.Error("T2 throttled by T1 traffic")
	}
	if l.Len() != 2 {
		t.Errorf("Len() = %d", l.Len())
	}
}

func TestTenantLimiter_SweepsIdle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewTenantLimiter(ctx, 10, 10)
	start := time.Now()
	l.now = func() time.Time { return start }
	l.Allow("T1")

	l.now = func() time.Time { return start.Add(idleLimiterTTL + time.Second) }
	l.Allow("T2")
	l.sweep()

	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1", l.Len())
	}
}

type denyAll struct{}

func (denyAll) Allow(string) (RateLimitInfo, bool) {
	return RateLimitInfo{RequestsLimit: 5}, false
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler ran for a throttled tenant")
	})
	wrapped := TenantMiddleware(RateLimitMiddleware(denyAll{})(handler))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, tenantRequest("POST", "/parts/tools/get_all_parts", "T1", "D1", "U1"))

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
	checkHeader(t, rec, "x-ratelimit-limit-requests", "5")
	checkHeader(t, rec, "x-ratelimit-remaining-requests", "0")

	var body ErrorBody
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Error.Code != domain.CodeRateLimited || !body.Error.Retryable {
		t.Errorf("body = %+v", body)
	}
}

func TestRateLimitMiddleware_NilLimiter(t *testing.T) {
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	RateLimitMiddleware(nil)(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	if !called {
		t.Error("nil limiter blocked the request")
	}
}

// =============================================================================
// WriteFailure Tests
// =============================================================================

func TestWriteFailure(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   domain.Kind
		wantMsg    string
	}{
		{"not found", domain.ErrNotFound("Part not found"), http.StatusNotFound, domain.KindNotFound, "Part not found"},
		{"upstream", domain.ErrUpstream("backend unavailable"), http.StatusBadGateway, domain.KindUpstream, "backend unavailable"},
		{"plain error is opaque", errors.New("sql: no rows"), http.StatusInternalServerError, domain.KindInternal, "internal gateway error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteFailure(rec, httptest.NewRequest("GET", "/", nil), tt.err)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body ErrorBody
			json.Unmarshal(rec.Body.Bytes(), &body)
			if body.Error.Kind != tt.wantKind || body.Error.Message != tt.wantMsg {
				t.Errorf("body = %+v", body)
			}
		})
	}
}

// =============================================================================
// LoggingMiddleware Tests
// =============================================================================

func TestLoggingMiddleware(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	wrapped := RequestIDMiddleware(LoggingMiddleware(logger)(testHandler))
	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/test-path", nil))

	output := buf.String()
	for _, want := range []string{"request started", "request completed", "/test-path", "level=INFO"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q in log output, got: %s", want, output)
		}
	}
}

func TestLoggingMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "level=INFO"},
		{http.StatusBadRequest, "level=WARN"},
		{http.StatusBadGateway, "level=ERROR"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var buf strings.Builder
			logger := slog.New(slog.NewTextHandler(&buf, nil))
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			LoggingMiddleware(logger)(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
			if !strings.Contains(buf.String(), tt.level) {
				t.Errorf("log = %s, want %s", buf.String(), tt.level)
			}
		})
	}
}

func TestAddLogField(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddLogField(r.Context(), "tenant_id", "T1")
		AddLogField(r.Context(), "tool", "get_all_parts")
		AddLogField(r.Context(), "empty_field", "")
	})

	LoggingMiddleware(logger)(testHandler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	output := buf.String()
	if !strings.Contains(output, "tenant_id=T1") || !strings.Contains(output, "tool=get_all_parts") {
		t.Errorf("Expected custom fields in log output, got: %s", output)
	}
	if strings.Contains(output, "empty_field") {
		t.Errorf("Empty field should not be in log output, got: %s", output)
	}
}

func TestAddLogField_NoContext(t *testing.T) {
	AddLogField(context.Background(), "key", "value")
}

func TestAddError(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddError(r.Context(), errors.New("test error message"))
		AddError(r.Context(), nil)
		w.WriteHeader(http.StatusInternalServerError)
	})

	LoggingMiddleware(logger)(testHandler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if !strings.Contains(buf.String(), "test error message") {
		t.Errorf("Expected error in log output, got: %s", buf.String())
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func checkHeader(t *testing.T, rec *httptest.ResponseRecorder, name, expected string) {
	t.Helper()
	actual := rec.Header().Get(name)
	if actual != expected {
		t.Errorf("Header %s = %q, want %q", name, actual, expected)
	}
}

// =============================================================================
// Server Tests
// =============================================================================

func TestServer_ShutdownBeforeStart(t *testing.T) {
	srv := New(0, slog.Default(), Options{})

	hooked := make(chan struct{})
	srv.RegisterOnShutdown(func() { close(hooked) })

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := srv.Start(); !errors.Is(err, http.ErrServerClosed) {
		t.Errorf("Start() after Shutdown = %v, want ErrServerClosed", err)
	}
	select {
	case <-hooked:
	case <-time.After(time.Second):
		t.Error("shutdown hook did not run")
	}
}
