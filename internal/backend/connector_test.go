package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tjfontaine/tenant-mcp-gateway/internal/domain"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/tenant"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/testutil"
)

func mustTenant(t *testing.T, id string) tenant.Context {
	t.Helper()
	tc, err := tenant.New(id, "D1", "U1", "")
	if err != nil {
		t.Fatal(err)
	}
	return tc
}

func newTestConnector(t *testing.T, baseURL string, cfg Config, opts ...Option) *Connector {
	t.Helper()
	cfg.BaseURL = baseURL
	if cfg.Namespace == "" {
		cfg.Namespace = "payments"
	}
	c, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

// ============================================================================
// Configuration
// ============================================================================

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{BaseURL: "http://x"}); err == nil {
		t.Error("expected error for missing namespace")
	}
	if _, err := New(Config{Namespace: "parts", BaseURL: "not a url"}); err == nil {
		t.Error("expected error for invalid base url")
	}

	c, err := New(Config{Namespace: "parts", BaseURL: "http://parts.test/"})
	if err != nil {
		t.Fatal(err)
	}
	if c.Timeout() != DefaultTimeout {
		t.Errorf("Timeout() = %s, want %s", c.Timeout(), DefaultTimeout)
	}
	if got := c.resolve("/api/parts", url.Values{"term": {"brake pad"}}); got != "http://parts.test/api/parts?term=brake+pad" {
		t.Errorf("resolve() = %s", got)
	}
}

// ============================================================================
// Outbound headers
// ============================================================================

func TestDo_AttachesTenantHeaders(t *testing.T) {
	var got http.Header
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":42}`))
	}))
	defer srv.Close()

	c := newTestConnector(t, srv.URL, Config{APIToken: "secret"})
	tc, _ := tenant.New("T1", "D9", "U7", "fr-FR")

	out, err := c.Do(context.Background(), tc, Request{
		Method: http.MethodPost,
		Path:   "/api/v1/transactions",
		Body:   map[string]any{"amount": 10},
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if string(out) != `{"id":42}` {
		t.Errorf("Do() = %s", out)
	}

	checkHeader(t, got, tenant.HeaderTenantID, "T1")
	checkHeader(t, got, tenant.HeaderDealerID, "D9")
	checkHeader(t, got, tenant.HeaderUserID, "U7")
	checkHeader(t, got, tenant.HeaderLocale, "fr-FR")
	checkHeader(t, got, "Authorization", "Bearer secret")
	checkHeader(t, got, "Content-Type", "application/json")
	if string(gotBody) != `{"amount":10}` {
		t.Errorf("body = %s", gotBody)
	}
}

func TestDo_RequiresTenant(t *testing.T) {
	c := newTestConnector(t, "http://unused.test", Config{})
	_, err := c.Do(context.Background(), tenant.Context{}, Request{Method: http.MethodGet, Path: "/x"})
	if !domain.IsKind(err, domain.KindInternal) {
		t.Errorf("err = %v, want internal", err)
	}
}

// Two tenants interleaved at the backend suspension point must each see
// only their own identity.
func TestDo_ConcurrentTenantsNeverLeak(t *testing.T) {
	release := make(chan struct{})
	var arrived sync.WaitGroup
	arrived.Add(2)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		arrived.Done()
		<-release
		// Echo the tenant the backend saw.
		json.NewEncoder(w).Encode(map[string]string{
			"tenant": r.Header.Get(tenant.HeaderTenantID),
			"user":   r.Header.Get(tenant.HeaderUserID),
		})
	}))
	defer srv.Close()

	c := newTestConnector(t, srv.URL, Config{})
	tenants := map[string]string{"A": "UA", "B": "UB"}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for tid, uid := range tenants {
		wg.Add(1)
		go func(tid, uid string) {
			defer wg.Done()
			tc, _ := tenant.New(tid, "D", uid, "")
			out, err := c.Do(context.Background(), tc, Request{Method: http.MethodGet, Path: "/api/parts"})
			if err != nil {
				errs <- err
				return
			}
			var seen map[string]string
			json.Unmarshal(out, &seen)
			if seen["tenant"] != tid || seen["user"] != uid {
				errs <- fmt.Errorf("tenant %s/%s saw %v", tid, uid, seen)
			}
		}(tid, uid)
	}

	arrived.Wait()
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

// ============================================================================
// Status mapping
// ============================================================================

func TestDo_StatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantKind  domain.Kind
		wantRetry bool
		wantMsg   string
		wantOut   string
	}{
		{name: "ok", status: 200, body: `{"a":1}`, wantOut: `{"a":1}`},
		{name: "no content", status: 204},
		{name: "plain text", status: 200, body: "deleted", wantOut: `"deleted"`},
		{name: "bad request", status: 400, body: `{"message":"partNumber is required"}`, wantKind: domain.KindClientError, wantMsg: "partNumber is required"},
		{name: "not found", status: 404, body: `{"error":"Part not found"}`, wantKind: domain.KindNotFound, wantMsg: "Part not found"},
		{name: "conflict", status: 409, body: `{"message":"duplicate partNumber"}`, wantKind: domain.KindConflict, wantMsg: "duplicate partNumber"},
		{name: "unprocessable", status: 422, body: ``, wantKind: domain.KindClientError, wantMsg: "Unprocessable Entity"},
		{name: "server error", status: 500, body: `{"message":"SQLState 08001 at db-primary"}`, wantKind: domain.KindUpstream, wantRetry: true, wantMsg: "backend payments failed"},
		{name: "bad gateway", status: 502, wantKind: domain.KindUpstream, wantRetry: true, wantMsg: "backend payments failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := newTestConnector(t, srv.URL, Config{})
			out, err := c.Do(context.Background(), mustTenant(t, "T1"), Request{Method: http.MethodGet, Path: "/x"})

			if tt.wantKind == "" {
				if err != nil {
					t.Fatalf("Do() error = %v", err)
				}
				if string(out) != tt.wantOut {
					t.Errorf("Do() = %s, want %s", out, tt.wantOut)
				}
				return
			}

			f := domain.AsFailure(err)
			if f == nil {
				t.Fatal("expected failure")
			}
			if f.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", f.Kind, tt.wantKind)
			}
			if f.Retryable != tt.wantRetry {
				t.Errorf("Retryable = %v, want %v", f.Retryable, tt.wantRetry)
			}
			if f.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", f.Message, tt.wantMsg)
			}
		})
	}
}

func TestDo_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := newTestConnector(t, srv.URL, Config{Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := c.Do(context.Background(), mustTenant(t, "T1"), Request{Method: http.MethodGet, Path: "/slow"})

	f := domain.AsFailure(err)
	if f == nil || f.Kind != domain.KindTimeout || !f.Retryable {
		t.Fatalf("err = %v, want retryable timeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %s", elapsed)
	}
}

func TestDo_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	c := newTestConnector(t, base, Config{})
	_, err := c.Do(context.Background(), mustTenant(t, "T1"), Request{Method: http.MethodGet, Path: "/x"})
	f := domain.AsFailure(err)
	if f == nil || f.Kind != domain.KindUpstream || !f.Retryable {
		t.Errorf("err = %v, want retryable upstream", err)
	}
}

// ============================================================================
// Circuit breaker
// ============================================================================

func TestDo_CircuitBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestConnector(t, srv.URL, Config{
		Breaker: BreakerConfig{Enabled: true, MaxFailures: 2, Timeout: time.Minute},
	})
	tc := mustTenant(t, "T1")
	ctx := context.Background()

	// Client errors do not trip the breaker.
	for i := 0; i < 3; i++ {
		c.Do(ctx, tc, Request{Method: http.MethodGet, Path: "/missing"})
	}

	c.Do(ctx, tc, Request{Method: http.MethodGet, Path: "/down"})
	c.Do(ctx, tc, Request{Method: http.MethodGet, Path: "/down"})
	before := calls.Load()

	_, err := c.Do(ctx, tc, Request{Method: http.MethodGet, Path: "/down"})
	f := domain.AsFailure(err)
	if f == nil || f.Code != domain.CodeCircuitOpen || !f.Retryable {
		t.Fatalf("err = %v, want circuit_open", err)
	}
	if calls.Load() != before {
		t.Error("open breaker still reached the backend")
	}
}

// ============================================================================
// Health
// ============================================================================

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(tenant.HeaderTenantID) != "" {
			t.Error("health probe carried a tenant")
		}
		if r.URL.Path == "/actuator/health" {
			w.Write([]byte(`{"status":"UP"}`))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	healthy := newTestConnector(t, srv.URL, Config{HealthPath: "/actuator/health"})
	if err := healthy.Health(context.Background()); err != nil {
		t.Errorf("Health() error = %v", err)
	}

	down := newTestConnector(t, srv.URL, Config{})
	if err := down.Health(context.Background()); err == nil {
		t.Error("Health() should fail on 503")
	}
}

// ============================================================================
// Recorded backend
// ============================================================================

func TestDo_RecordedPaymentsBackend(t *testing.T) {
	recorder, cleanup := testutil.NewVCRRecorder(t, "payments_transactions")
	defer cleanup()

	c := newTestConnector(t, "http://payments.test", Config{}, WithHTTPClient(testutil.VCRHTTPClient(recorder)))
	tc := mustTenant(t, "T1")
	ctx := context.Background()

	out, err := c.Do(ctx, tc, Request{
		Method: http.MethodGet,
		Path:   "/api/v1/transactions",
		Query:  url.Values{"page": {"0"}, "size": {"10"}, "sortBy": {"createdAt"}, "sortDirection": {"desc"}},
	})
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	var page struct {
		Content       []map[string]any `json:"content"`
		TotalElements int              `json:"totalElements"`
	}
	if err := json.Unmarshal(out, &page); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if page.TotalElements != 1 || page.Content[0]["invoiceNumber"] != "INV-1001" {
		t.Errorf("unexpected page %+v", page)
	}

	_, err = c.Do(ctx, tc, Request{Method: http.MethodGet, Path: "/api/v1/transactions/999"})
	if f := domain.AsFailure(err); f == nil || f.Kind != domain.KindNotFound || f.Message != "Transaction not found with id: 999" {
		t.Errorf("get missing = %v", err)
	}

	_, err = c.Do(ctx, tc, Request{Method: http.MethodPost, Path: "/api/v1/transactions", Body: map[string]any{"amount": -5}})
	if f := domain.AsFailure(err); f == nil || f.Code != domain.CodeInvalidArguments || f.Message != "amount must be greater than 0" {
		t.Errorf("create invalid = %v", err)
	}

	_, err = c.Do(ctx, tc, Request{Method: http.MethodGet, Path: "/api/v1/transactions/metadata/card-types"})
	f := domain.AsFailure(err)
	if f == nil || f.Kind != domain.KindUpstream {
		t.Fatalf("metadata = %v, want upstream", err)
	}
	if f.PublicMessage() != "backend payments failed" {
		t.Errorf("upstream leaked backend detail: %q", f.PublicMessage())
	}
}

func TestDo_RecordedBackendRejectsOtherTenant(t *testing.T) {
	recorder, cleanup := testutil.NewVCRRecorder(t, "payments_transactions")
	defer cleanup()

	c := newTestConnector(t, "http://payments.test", Config{}, WithHTTPClient(testutil.VCRHTTPClient(recorder)))
	_, err := c.Do(context.Background(), mustTenant(t, "T2"), Request{Method: http.MethodGet, Path: "/api/v1/transactions/999"})
	if err == nil {
		t.Fatal("cassette served tenant T1's response to T2")
	}
}

func checkHeader(t *testing.T, h http.Header, key, want string) {
	t.Helper()
	if got := h.Get(key); got != want {
		t.Errorf("header %s = %q, want %q", key, got, want)
	}
}
