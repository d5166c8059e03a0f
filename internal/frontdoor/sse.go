package frontdoor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/tenant-mcp-gateway/internal/cache"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/domain"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/server"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/tenant"
)

// SSE event names.
const (
	eventConnected = "connected"
	eventHeartbeat = "heartbeat"
	eventStatus    = "status"
	eventMessage   = "message"
)

// sessionOutbox is the number of undelivered responses a stream buffers.
const sessionOutbox = 16

type sseEvent struct {
	name string
	data []byte
}

// session is one open SSE stream. The tenant is the identity the stream was
// opened with; it answers /sse/message posts that carry no tenant headers.
type session struct {
	id     string
	tenant tenant.Context
	events chan sseEvent
	done   chan struct{}
}

// push queues ev for the stream. It fails once the stream has closed.
func (s *session) push(ctx context.Context, ev sseEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

type sessionHub struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newSessionHub() *sessionHub {
	return &sessionHub{sessions: make(map[string]*session)}
}

func (h *sessionHub) open(tc tenant.Context) *session {
	s := &session{
		id:     uuid.NewString(),
		tenant: tc,
		events: make(chan sseEvent, sessionOutbox),
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()
	return s
}

func (h *sessionHub) close(s *session) {
	h.mu.Lock()
	delete(h.sessions, s.id)
	h.mu.Unlock()
	close(s.done)
}

func (h *sessionHub) get(id string) (*session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

func (h *sessionHub) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// StatusEvent is the payload of a periodic status event.
type StatusEvent struct {
	Tools     int          `json:"tools"`
	Sessions  int          `json:"sessions"`
	Cache     *cache.Stats `json:"cache,omitempty"`
	Timestamp string       `json:"timestamp"`
}

// handleSSE serves GET /sse: a connected event, then heartbeat and status
// events until the client goes away. Browsers cannot set headers on an
// EventSource, so the tenant may also come from the query string.
func (g *Gateway) handleSSE(w http.ResponseWriter, r *http.Request) {
	tc, err := streamTenant(r)
	if err != nil {
		server.WriteFailure(w, r, err)
		return
	}
	server.AddLogField(r.Context(), "tenant_id", tc.TenantID())

	flusher, ok := w.(http.Flusher)
	if !ok {
		server.WriteFailure(w, r, domain.ErrInternal("streaming not supported"))
		return
	}

	sess := g.sessions.open(tc)
	defer g.sessions.close(sess)

	logger := g.requestLogger(r).With(slog.String("session_id", sess.id), slog.String("tenant_id", tc.TenantID()))
	logger.Debug("sse stream opened")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := g.writeSSEEvent(w, eventConnected, map[string]any{
		"sessionId":       sess.id,
		"messageEndpoint": "/sse/message?sessionId=" + sess.id,
		"tenantId":        tc.TenantID(),
		"server":          g.info.Name,
		"version":         g.info.Version,
	}); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(g.sse.HeartbeatInterval)
	defer heartbeat.Stop()
	status := time.NewTicker(g.sse.StatusInterval)
	defer status.Stop()

	ctx := r.Context()
	for {
		var err error
		select {
		case <-ctx.Done():
			logger.Debug("sse stream closed")
			return
		case <-g.closing:
			logger.Debug("sse stream closed for shutdown")
			return
		case ev := <-sess.events:
			err = writeRawSSEEvent(w, ev.name, ev.data)
		case t := <-heartbeat.C:
			err = g.writeSSEEvent(w, eventHeartbeat, map[string]string{"timestamp": t.UTC().Format(time.RFC3339)})
		case t := <-status.C:
			err = g.writeSSEEvent(w, eventStatus, g.status(ctx, t))
		}
		if err != nil {
			logger.Debug("sse write failed", slog.String("error", err.Error()))
			return
		}
		flusher.Flush()
	}
}

// handleSSEMessage serves POST /sse/message?sessionId=…: the JSON-RPC reply
// is pushed onto the session's stream and the POST itself gets 202.
func (g *Gateway) handleSSEMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := g.sessions.get(r.URL.Query().Get("sessionId"))
	if !ok {
		server.WriteFailure(w, r, domain.ErrNotFound("unknown session"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		server.WriteFailure(w, r, domain.ErrMalformedEnvelope("request body unreadable").WithCause(err))
		return
	}

	resolve := func() (tenant.Context, error) {
		if r.Header.Get(tenant.HeaderTenantID) != "" {
			return tenant.FromHeaders(r.Header)
		}
		return sess.tenant, nil
	}

	ctx := context.WithoutCancel(r.Context())
	out := g.serveEnvelope(ctx, body, "", resolve, g.requestLogger(r))
	if out != nil && !sess.push(r.Context(), sseEvent{name: eventMessage, data: out}) {
		server.WriteFailure(w, r, domain.ErrNotFound("session closed"))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (g *Gateway) status(ctx context.Context, now time.Time) StatusEvent {
	ev := StatusEvent{
		Tools:     g.registry.Len(),
		Sessions:  g.sessions.len(),
		Timestamp: now.UTC().Format(time.RFC3339),
	}
	if g.cache != nil {
		stats := g.cache.Stats(ctx)
		ev.Cache = &stats
	}
	return ev
}

// streamTenant prefers headers and falls back to query parameters.
func streamTenant(r *http.Request) (tenant.Context, error) {
	q := r.URL.Query()
	if r.Header.Get(tenant.HeaderTenantID) == "" && q.Get(tenant.QueryTenantID) != "" {
		return tenant.FromQuery(q)
	}
	return tenant.FromHeaders(r.Header)
}

func (g *Gateway) writeSSEEvent(w io.Writer, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", slog.String("event", event), slog.String("error", err.Error()))
		return nil
	}
	return writeRawSSEEvent(w, event, payload)
}

func writeRawSSEEvent(w io.Writer, event string, payload []byte) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}
