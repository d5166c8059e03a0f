package frontdoor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/viant/jsonrpc"

	"github.com/tjfontaine/tenant-mcp-gateway/internal/domain"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/server"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/tenant"
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603

	// codeTenantRejected covers tenant header and rate limit failures.
	codeTenantRejected = -32001
)

// MCP methods served by the gateway.
const (
	methodInitialize    = "initialize"
	methodPing          = "ping"
	methodToolsList     = "tools/list"
	methodToolsCall     = "tools/call"
	methodResourcesList = "resources/list"
	methodPromptsList   = "prompts/list"
	notificationPrefix  = "notifications/"
)

// tenantResolver returns the caller identity for one envelope.
type tenantResolver func() (tenant.Context, error)

type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    map[string]any     `json:"capabilities"`
	ServerInfo      mcp.Implementation `json:"serverInfo"`
}

// handleRPC serves POST /mcp and POST /{namespace}/mcp. A namespaced
// endpoint only lists and calls that namespace's tools.
func (g *Gateway) handleRPC(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	if namespace != "" && !g.hasNamespace(namespace) {
		server.WriteFailure(w, r, domain.ErrNotFound("unknown namespace: "+namespace))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeRPC(w, mustMarshal(errorResponse(nil, jsonrpc.NewError(codeParseError, "request body unreadable", nil))))
		return
	}

	resolve := func() (tenant.Context, error) {
		return tenant.FromHeaders(r.Header)
	}

	// Backend calls outlive a disconnected client so their result can still
	// populate the cache; the response is then discarded.
	ctx := context.WithoutCancel(r.Context())
	out := g.serveEnvelope(ctx, body, namespace, resolve, g.requestLogger(r))
	if out == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeRPC(w, out)
}

func writeRPC(w http.ResponseWriter, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// serveEnvelope handles a single envelope or a batch and returns the encoded
// reply, or nil when nothing is owed (notifications only).
func (g *Gateway) serveEnvelope(ctx context.Context, body []byte, namespace string, resolve tenantResolver, logger *slog.Logger) []byte {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '[' {
		resp := g.dispatch(ctx, body, namespace, resolve, logger)
		if resp == nil {
			return nil
		}
		return mustMarshal(resp)
	}

	var batch []json.RawMessage
	if err := json.Unmarshal(body, &batch); err != nil {
		return mustMarshal(errorResponse(nil, jsonrpc.NewError(codeParseError, "parse error: "+err.Error(), nil)))
	}
	if len(batch) == 0 {
		return mustMarshal(errorResponse(nil, jsonrpc.NewError(codeInvalidRequest, "empty batch", nil)))
	}

	var responses []*jsonrpc.Response
	for _, raw := range batch {
		if resp := g.dispatch(ctx, raw, namespace, resolve, logger); resp != nil {
			responses = append(responses, resp)
		}
	}
	if len(responses) == 0 {
		return nil
	}
	return mustMarshal(responses)
}

// dispatch runs one envelope through parse, tenant and dispatch. It returns
// nil for notifications.
func (g *Gateway) dispatch(ctx context.Context, raw []byte, namespace string, resolve tenantResolver, logger *slog.Logger) *jsonrpc.Response {
	req, rpcErr := parseRequest(raw)
	if rpcErr != nil {
		return errorResponse(req.Id, rpcErr)
	}
	if strings.HasPrefix(req.Method, notificationPrefix) {
		logger.Debug("notification received", slog.String("method", req.Method))
		return nil
	}

	tc, err := resolve()
	if err != nil {
		return failureResponse(req.Id, codeTenantRejected, err)
	}
	server.AddLogField(ctx, "tenant_id", tc.TenantID())
	if g.limiter != nil {
		if _, ok := g.limiter.Allow(tc.TenantID()); !ok {
			return failureResponse(req.Id, codeTenantRejected, domain.ErrRateLimited(tc.TenantID()))
		}
	}

	switch req.Method {
	case methodInitialize:
		return resultResponse(req.Id, initializeResult{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities: map[string]any{
				"tools":     map[string]any{"listChanged": false},
				"resources": map[string]any{},
				"prompts":   map[string]any{},
			},
			ServerInfo: mcp.Implementation{Name: g.info.Name, Version: g.info.Version},
		})
	case methodPing:
		return resultResponse(req.Id, struct{}{})
	case methodToolsList:
		return resultResponse(req.Id, mcp.ListToolsResult{Tools: g.mcpTools(namespace)})
	case methodToolsCall:
		return g.callTool(ctx, req, tc, namespace, logger)
	case methodResourcesList:
		return resultResponse(req.Id, mcp.ListResourcesResult{Resources: []mcp.Resource{}})
	case methodPromptsList:
		return resultResponse(req.Id, mcp.ListPromptsResult{Prompts: []mcp.Prompt{}})
	default:
		return errorResponse(req.Id, jsonrpc.NewError(codeMethodNotFound, "method not found: "+req.Method, nil))
	}
}

// envelope is the loosely typed shape of a request. Member types are checked
// by parseRequest so that a well-formed JSON object with bad members is an
// invalid request rather than a parse error.
type envelope struct {
	ID      json.RawMessage `json:"id"`
	JSONRPC json.RawMessage `json:"jsonrpc"`
	Method  json.RawMessage `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// parseRequest decodes one envelope. The returned request carries the id
// whenever one could be read, including alongside an error.
func parseRequest(raw []byte) (jsonrpc.Request, *jsonrpc.Error) {
	var req jsonrpc.Request
	var env envelope
	if !json.Valid(raw) {
		return req, jsonrpc.NewError(codeParseError, "parse error: invalid JSON", nil)
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return req, jsonrpc.NewError(codeInvalidRequest, "request must be a JSON object", nil)
	}
	if len(env.ID) > 0 {
		var id any
		if err := json.Unmarshal(env.ID, &id); err == nil {
			req.Id = id
		}
	}

	var version string
	if len(env.JSONRPC) == 0 || json.Unmarshal(env.JSONRPC, &version) != nil || version != jsonrpc.Version {
		return req, jsonrpc.NewError(codeInvalidRequest, "invalid JSON-RPC version", nil)
	}
	req.Jsonrpc = version

	if len(env.Method) == 0 || json.Unmarshal(env.Method, &req.Method) != nil || req.Method == "" {
		return req, jsonrpc.NewError(codeInvalidRequest, "method must be a non-empty string", nil)
	}
	req.Params = env.Params
	return req, nil
}

// callTool invokes the named tool. Unknown tools and argument violations are
// protocol errors; every other failure is a tool result with isError set.
func (g *Gateway) callTool(ctx context.Context, req jsonrpc.Request, tc tenant.Context, namespace string, logger *slog.Logger) *jsonrpc.Response {
	var p callParams
	if len(req.Params) == 0 || json.Unmarshal(req.Params, &p) != nil || p.Name == "" {
		return errorResponse(req.Id, jsonrpc.NewError(codeInvalidParams, "tools/call requires params {name, arguments}", nil))
	}
	server.AddLogField(ctx, "tool", p.Name)

	if namespace != "" {
		if def, ok := g.registry.Get(p.Name); !ok || def.Namespace != namespace {
			return failureResponse(req.Id, codeInvalidParams, domain.ErrUnknownOperation(p.Name))
		}
	}

	out, err := g.registry.Invoke(ctx, p.Name, tc, p.Arguments)
	if err != nil {
		f := domain.AsFailure(err)
		switch f.Code {
		case domain.CodeUnknownOperation, domain.CodeInvalidArguments:
			return failureResponse(req.Id, codeInvalidParams, f)
		}
		logger.Debug("tool call failed",
			slog.String("tool", p.Name),
			slog.String("tenant_id", tc.TenantID()),
			slog.String("kind", string(f.Kind)))
		return resultResponse(req.Id, toolFailure(f))
	}
	return resultResponse(req.Id, mcp.NewToolResultText(string(out)))
}

func (g *Gateway) mcpTools(namespace string) []mcp.Tool {
	defs := g.registry.List()
	if namespace != "" {
		defs = g.registry.ListNamespace(namespace)
	}
	tools := make([]mcp.Tool, 0, len(defs))
	for _, d := range defs {
		tool := mcp.NewToolWithRawSchema(d.Name, d.Description, g.registry.SchemaJSON(d.Name))
		tool.Annotations.ReadOnlyHint = mcp.ToBoolPtr(d.ReadOnly)
		tools = append(tools, tool)
	}
	return tools
}

func toolFailure(f *domain.Failure) *mcp.CallToolResult {
	text, _ := json.Marshal(failureDetail(f))
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(text))},
		IsError: true,
	}
}

func failureDetail(f *domain.Failure) server.ErrorDetail {
	return server.ErrorDetail{
		Kind:      f.Kind,
		Code:      f.Code,
		Message:   f.PublicMessage(),
		Field:     f.Field,
		Retryable: f.Retryable,
	}
}

func resultResponse(id any, result any) *jsonrpc.Response {
	data, err := json.Marshal(result)
	if err != nil {
		return errorResponse(id, jsonrpc.NewError(codeInternalError, "internal gateway error", nil))
	}
	return &jsonrpc.Response{Id: id, Jsonrpc: jsonrpc.Version, Result: data}
}

func errorResponse(id any, rpcErr *jsonrpc.Error) *jsonrpc.Response {
	return &jsonrpc.Response{Id: id, Jsonrpc: jsonrpc.Version, Error: rpcErr}
}

func failureResponse(id any, code int, err error) *jsonrpc.Response {
	f := domain.AsFailure(err)
	return errorResponse(id, jsonrpc.NewError(code, f.PublicMessage(), failureDetail(f)))
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal gateway error"}}`)
	}
	return data
}
