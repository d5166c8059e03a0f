// Package registry maps tool names to their argument schema and handler.
//
// A Registry is built once at startup and never mutated, so one instance is
// shared by every in-flight call.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/tenant-mcp-gateway/internal/domain"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/tenant"
)

// Handler executes one tool call for tc.
type Handler func(ctx context.Context, tc tenant.Context, args map[string]any) (json.RawMessage, error)

// Definition declares a tool.
type Definition struct {
	Name        string
	Description string
	Namespace   string
	InputSchema Schema
	Handler     Handler
	ReadOnly    bool
}

type entry struct {
	def    Definition
	schema *jsonschema.Schema
	raw    json.RawMessage
}

// Registry is the fixed tool table.
type Registry struct {
	order   []string
	entries map[string]*entry
	logger  *slog.Logger
	tracer  trace.Tracer
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// New builds a registry. Duplicate or empty names, missing handlers and
// schemas that do not compile are startup errors.
func New(defs []Definition, opts ...Option) (*Registry, error) {
	r := &Registry{
		entries: make(map[string]*entry, len(defs)),
		logger:  slog.Default(),
		tracer:  otel.Tracer("github.com/tjfontaine/tenant-mcp-gateway/internal/registry"),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("tool with empty name in namespace %q", def.Namespace)
		}
		if _, dup := r.entries[def.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", def.Name)
		}
		if def.Handler == nil {
			return nil, fmt.Errorf("tool %q has no handler", def.Name)
		}

		compiled, err := compileSchema(def.Name, def.InputSchema)
		if err != nil {
			return nil, err
		}
		raw, err := def.InputSchema.JSON()
		if err != nil {
			return nil, fmt.Errorf("encode schema for %q: %w", def.Name, err)
		}

		r.entries[def.Name] = &entry{def: def, schema: compiled, raw: raw}
		r.order = append(r.order, def.Name)
	}

	return r, nil
}

// List returns all definitions in registration order.
func (r *Registry) List() []Definition {
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].def)
	}
	return out
}

// ListNamespace returns the definitions of one namespace in registration order.
func (r *Registry) ListNamespace(namespace string) []Definition {
	var out []Definition
	for _, name := range r.order {
		if def := r.entries[name].def; def.Namespace == namespace {
			out = append(out, def)
		}
	}
	return out
}

// Namespaces returns the distinct namespaces in registration order.
func (r *Registry) Namespaces() []string {
	seen := make(map[string]bool)
	var out []string
	for _, name := range r.order {
		ns := r.entries[name].def.Namespace
		if !seen[ns] {
			seen[ns] = true
			out = append(out, ns)
		}
	}
	return out
}

// Exists reports whether name is registered.
func (r *Registry) Exists(name string) bool {
	_, ok := r.entries[name]
	return ok
}

// Get returns the definition for name.
func (r *Registry) Get(name string) (Definition, bool) {
	e, ok := r.entries[name]
	if !ok {
		return Definition{}, false
	}
	return e.def, true
}

// SchemaJSON returns the compiled schema document for name.
func (r *Registry) SchemaJSON(name string) json.RawMessage {
	if e, ok := r.entries[name]; ok {
		return e.raw
	}
	return nil
}

// Len returns the number of tools.
func (r *Registry) Len() int {
	return len(r.order)
}

// Invoke validates args against the tool schema and runs its handler for tc.
// Every returned error is a *domain.Failure.
func (r *Registry) Invoke(ctx context.Context, name string, tc tenant.Context, args map[string]any) (out json.RawMessage, err error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, domain.ErrUnknownOperation(name)
	}
	if args == nil {
		args = map[string]any{}
	}

	ctx, span := r.tracer.Start(ctx, "tool "+name,
		trace.WithAttributes(
			attribute.String("tool.name", name),
			attribute.String("tool.namespace", e.def.Namespace),
			attribute.String("tenant.id", tc.TenantID()),
		))
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := validate(e, args); err != nil {
		return nil, err
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool handler panic",
				slog.String("tool", name),
				slog.String("tenant_id", tc.TenantID()),
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())))
			out, err = nil, domain.ErrInternal("tool handler panicked").WithCause(fmt.Errorf("panic: %v", p))
		}
	}()

	out, err = e.def.Handler(ctx, tc, args)
	if err != nil {
		f := domain.AsFailure(err)
		if f.Kind == domain.KindInternal {
			r.logger.Error("tool failed",
				slog.String("tool", name),
				slog.String("tenant_id", tc.TenantID()),
				slog.String("error", err.Error()))
		}
		return nil, f
	}
	return out, nil
}

func validate(e *entry, args map[string]any) error {
	for _, field := range e.def.InputSchema.Required {
		v, ok := args[field]
		if !ok || v == nil {
			return domain.ErrInvalidArguments(field, "is required")
		}
	}

	doc, err := normalize(args)
	if err != nil {
		return domain.ErrInvalidArguments("", "arguments are not valid JSON").WithCause(err)
	}
	if err := e.schema.Validate(doc); err != nil {
		field, reason := firstViolation(err)
		return domain.ErrInvalidArguments(field, reason)
	}
	return nil
}

// normalize re-decodes args so the validator only sees JSON value types.
func normalize(args map[string]any) (any, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}
