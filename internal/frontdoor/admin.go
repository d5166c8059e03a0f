package frontdoor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tjfontaine/tenant-mcp-gateway/internal/server"
)

// healthProbeTimeout bounds the backend probes behind GET /health.
const healthProbeTimeout = 5 * time.Second

// Health is the body of GET /health.
type Health struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version,omitempty"`
	Tools     int               `json:"tools"`
	Backends  map[string]string `json:"backends,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// NamespaceInfo summarizes one backend service.
type NamespaceInfo struct {
	Name  string `json:"name"`
	Tools int    `json:"tools"`
}

// Metadata is the body of GET /metadata.
type Metadata struct {
	Name            string          `json:"name"`
	Version         string          `json:"version,omitempty"`
	ProtocolVersion string          `json:"protocolVersion"`
	Namespaces      []NamespaceInfo `json:"namespaces"`
	Transports      []string        `json:"transports"`
}

// handleHealth reports UP when every backend answers its health probe and
// DEGRADED (503) otherwise.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := Health{
		Status:    "UP",
		Service:   g.info.Name,
		Version:   g.info.Version,
		Tools:     g.registry.Len(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if len(g.backends) > 0 {
		h.Backends = g.probeBackends(r.Context())
		for _, state := range h.Backends {
			if state != "UP" {
				h.Status = "DEGRADED"
			}
		}
	}

	status := http.StatusOK
	if h.Status != "UP" {
		status = http.StatusServiceUnavailable
	}
	server.WriteJSON(w, status, h)
}

func (g *Gateway) probeBackends(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[string]string, len(g.backends))
	)
	for _, b := range g.backends {
		wg.Add(1)
		go func(b HealthChecker) {
			defer wg.Done()
			state := "UP"
			if err := b.Health(ctx); err != nil {
				state = "DOWN"
			}
			mu.Lock()
			out[b.Namespace()] = state
			mu.Unlock()
		}(b)
	}
	wg.Wait()
	return out
}

func (g *Gateway) handleMetadata(w http.ResponseWriter, r *http.Request) {
	md := Metadata{
		Name:            g.info.Name,
		Version:         g.info.Version,
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		Transports:      []string{"jsonrpc", "rest", "sse"},
	}
	for _, ns := range g.registry.Namespaces() {
		md.Namespaces = append(md.Namespaces, NamespaceInfo{Name: ns, Tools: len(g.registry.ListNamespace(ns))})
	}
	server.WriteJSON(w, http.StatusOK, md)
}

// handleCacheFlush serves DELETE /cache. Operator surface, not tenant-scoped.
func (g *Gateway) handleCacheFlush(w http.ResponseWriter, r *http.Request) {
	if g.cache == nil {
		server.WriteJSON(w, http.StatusOK, map[string]int{"flushed": 0})
		return
	}
	n, err := g.cache.Flush(r.Context())
	if err != nil {
		server.WriteFailure(w, r, err)
		return
	}
	g.requestLogger(r).Info("cache flushed by operator")
	server.WriteJSON(w, http.StatusOK, map[string]int{"flushed": n})
}

func (g *Gateway) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if g.cache == nil {
		server.WriteJSON(w, http.StatusOK, map[string]any{"entries": 0, "hits": 0, "misses": 0})
		return
	}
	server.WriteJSON(w, http.StatusOK, g.cache.Stats(r.Context()))
}
