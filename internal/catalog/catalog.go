// Package catalog declares the tools each backend service exposes and turns
// them into registry definitions.
//
// Every tool is one Route: an outbound method and path template, the
// arguments that become query parameters or the JSON body, and the cache
// behavior. Reads are cached under "<namespace>.<resource>.<tool>"; writes
// invalidate "<namespace>.<resource>" for the calling tenant.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/tjfontaine/tenant-mcp-gateway/internal/backend"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/cache"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/domain"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/registry"
	"github.com/tjfontaine/tenant-mcp-gateway/internal/tenant"
)

// Service names understood by Routes.
const (
	ServicePayments     = "payments"
	ServiceParts        = "parts"
	ServiceRepairOrders = "repair-orders"
)

// NoCache disables caching for a read route.
const NoCache time.Duration = -1

// Caller performs one backend call for a tenant.
type Caller interface {
	Do(ctx context.Context, tc tenant.Context, req backend.Request) (json.RawMessage, error)
}

// Route declares one tool.
type Route struct {
	Name        string
	Description string
	Resource    string
	Method      string
	Path        string
	Query       []string
	Body        bool
	Schema      registry.Schema
	Defaults    map[string]any
	TTL         time.Duration
	Invalidates []string
}

// ReadOnly reports whether the route never changes backend state.
func (r Route) ReadOnly() bool {
	return r.Method == http.MethodGet
}

var pathParam = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// Routes returns the tool table for a service.
func Routes(service string) ([]Route, error) {
	switch service {
	case ServicePayments:
		return paymentRoutes(), nil
	case ServiceParts:
		return partRoutes(), nil
	case ServiceRepairOrders:
		return repairOrderRoutes(), nil
	default:
		return nil, fmt.Errorf("unknown service %q", service)
	}
}

// Builder turns routes into registry definitions bound to one backend.
type Builder struct {
	Namespace  string
	Caller     Caller
	Cache      *cache.Cache
	DefaultTTL time.Duration
	Logger     *slog.Logger
}

// Build returns one definition per route.
func (b Builder) Build(routes []Route) ([]registry.Definition, error) {
	if b.Logger == nil {
		b.Logger = slog.Default()
	}

	defs := make([]registry.Definition, 0, len(routes))
	for _, rt := range routes {
		if rt.Resource == "" {
			return nil, fmt.Errorf("tool %q has no resource", rt.Name)
		}
		for _, m := range pathParam.FindAllStringSubmatch(rt.Path, -1) {
			if _, ok := rt.Schema.Properties[m[1]]; !ok {
				return nil, fmt.Errorf("tool %q: path parameter %q has no schema property", rt.Name, m[1])
			}
		}

		defs = append(defs, registry.Definition{
			Name:        rt.Name,
			Description: rt.Description,
			Namespace:   b.Namespace,
			InputSchema: rt.Schema,
			Handler:     b.handler(rt),
			ReadOnly:    rt.ReadOnly(),
		})
	}
	return defs, nil
}

func (b Builder) handler(rt Route) registry.Handler {
	opKey := b.Namespace + "." + rt.Resource + "." + rt.Name
	ttl := rt.TTL
	if ttl == 0 {
		ttl = b.DefaultTTL
	}

	invalidates := rt.Invalidates
	if !rt.ReadOnly() && len(invalidates) == 0 {
		invalidates = []string{rt.Resource}
	}

	return func(ctx context.Context, tc tenant.Context, args map[string]any) (json.RawMessage, error) {
		args = withDefaults(args, rt.Defaults)
		req, err := rt.request(args)
		if err != nil {
			return nil, err
		}

		call := func(ctx context.Context) (json.RawMessage, error) {
			out, err := b.Caller.Do(ctx, tc, req)
			if err != nil {
				return nil, err
			}
			if out == nil {
				out = json.RawMessage(`{"success":true}`)
			}
			return out, nil
		}

		if rt.ReadOnly() {
			if ttl <= 0 || b.Cache == nil {
				return call(ctx)
			}
			digest, err := cache.Digest(args)
			if err != nil {
				return nil, domain.ErrInvalidArguments("", "arguments cannot be encoded").WithCause(err)
			}
			return b.Cache.GetOrCompute(ctx, tc, opKey, digest, ttl, call)
		}

		out, err := call(ctx)
		if err != nil {
			return nil, err
		}
		if b.Cache != nil {
			for _, res := range invalidates {
				if _, err := b.Cache.Invalidate(ctx, tc, b.Namespace+"."+res); err != nil {
					b.Logger.Warn("cache invalidation failed",
						slog.String("tool", rt.Name),
						slog.String("tenant_id", tc.TenantID()),
						slog.String("error", err.Error()))
				}
			}
		}
		return out, nil
	}
}

// request expands the route for args.
func (rt Route) request(args map[string]any) (backend.Request, error) {
	used := make(map[string]bool)

	var missing string
	path := pathParam.ReplaceAllStringFunc(rt.Path, func(m string) string {
		name := m[1 : len(m)-1]
		used[name] = true
		v, ok := args[name]
		if !ok || v == nil {
			if missing == "" {
				missing = name
			}
			return ""
		}
		return url.PathEscape(formatValue(v))
	})
	if missing != "" {
		return backend.Request{}, domain.ErrInvalidArguments(missing, "is required")
	}

	var query url.Values
	for _, name := range rt.Query {
		used[name] = true
		v, ok := args[name]
		if !ok || v == nil {
			continue
		}
		if query == nil {
			query = url.Values{}
		}
		if list, ok := v.([]any); ok {
			for _, item := range list {
				query.Add(name, formatValue(item))
			}
			continue
		}
		query.Set(name, formatValue(v))
	}

	req := backend.Request{Method: rt.Method, Path: path, Query: query}
	if rt.Body {
		body := make(map[string]any, len(args))
		for k, v := range args {
			if !used[k] {
				body[k] = v
			}
		}
		req.Body = body
	}
	return req, nil
}

func withDefaults(args, defaults map[string]any) map[string]any {
	out := make(map[string]any, len(args)+len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range args {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// Names returns the sorted tool names of routes.
func Names(routes []Route) []string {
	names := make([]string, 0, len(routes))
	for _, r := range routes {
		names = append(names, r.Name)
	}
	sort.Strings(names)
	return names
}
