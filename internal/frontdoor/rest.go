package frontdoor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/tenant-mcp-gateway/internal/domain"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/server"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/tenant"
)

// ToolInfo describes one tool on the REST surface.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
	ReadOnly    bool            `json:"readOnly"`
}

// ToolList is the body of GET /{namespace}/tools.
type ToolList struct {
	Namespace string     `json:"namespace"`
	Tools     []ToolInfo `json:"tools"`
}

func (g *Gateway) handleListTools(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	if !g.hasNamespace(namespace) {
		server.WriteFailure(w, r, domain.ErrNotFound("unknown namespace: "+namespace))
		return
	}

	server.WriteJSON(w, http.StatusOK, g.toolList(namespace))
}

// handleDocs serves GET /docs: every namespace's tools. Infrastructure path,
// no tenant.
func (g *Gateway) handleDocs(w http.ResponseWriter, r *http.Request) {
	namespaces := g.registry.Namespaces()
	docs := make([]ToolList, 0, len(namespaces))
	for _, ns := range namespaces {
		docs = append(docs, g.toolList(ns))
	}
	server.WriteJSON(w, http.StatusOK, docs)
}

func (g *Gateway) toolList(namespace string) ToolList {
	defs := g.registry.ListNamespace(namespace)
	list := ToolList{Namespace: namespace, Tools: make([]ToolInfo, 0, len(defs))}
	for _, d := range defs {
		list.Tools = append(list.Tools, ToolInfo{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: g.registry.SchemaJSON(d.Name),
			ReadOnly:    d.ReadOnly,
		})
	}
	return list
}

// handleCallTool serves POST /{namespace}/tools/{toolName}. The body is the
// argument object; an empty body means no arguments.
func (g *Gateway) handleCallTool(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	name := chi.URLParam(r, "toolName")
	server.AddLogField(r.Context(), "tool", name)

	tc, ok := tenant.FromContext(r.Context())
	if !ok {
		server.WriteFailure(w, r, domain.ErrInternal("tenant middleware not installed"))
		return
	}

	if def, ok := g.registry.Get(name); !ok || def.Namespace != namespace {
		server.WriteFailure(w, r, domain.ErrUnknownOperation(name))
		return
	}

	args, err := decodeArguments(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		server.WriteFailure(w, r, err)
		return
	}

	out, err := g.registry.Invoke(context.WithoutCancel(r.Context()), name, tc, args)
	if err != nil {
		server.WriteFailure(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func decodeArguments(body io.Reader) (map[string]any, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, domain.ErrMalformedEnvelope("request body unreadable").WithCause(err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, domain.ErrMalformedEnvelope("request body must be a JSON object").WithCause(err)
	}
	return args, nil
}
