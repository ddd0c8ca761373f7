package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// Commander is the slice of the connection supervisor the registry needs:
// the single send path, wrapped in the reconnect policy.
type Commander interface {
	ExecuteWithReconnect(ctx context.Context, op func(ctx context.Context) (json.RawMessage, error)) (json.RawMessage, error)
	SendCommand(ctx context.Context, command string, parameters map[string]any) (json.RawMessage, error)
}

// Registry holds the capabilities discovered from the Unity schema.
// Registration is append-only: a name, once registered, is never
// redefined.
type Registry struct {
	peer Commander

	mu        sync.RWMutex
	tools     map[string]Tool
	resources map[string]Resource

	toolOrder     []string
	resourceOrder []string
}

// New creates an empty Registry that queries the peer through cmdr.
func New(cmdr Commander) *Registry {
	return &Registry{
		peer:      cmdr,
		tools:     make(map[string]Tool),
		resources: make(map[string]Resource),
	}
}

// RegisterFromSchema queries the peer's schema and registers every
// declared tool and resource. It returns true when a usable schema shape
// was found and processed; any failure returns false without an error
// escaping to the caller.
func (r *Registry) RegisterFromSchema(ctx context.Context) bool {
	slog.Info("registry: fetching Unity schema for capability registration")

	raw, err := r.peer.ExecuteWithReconnect(ctx, func(ctx context.Context) (json.RawMessage, error) {
		return r.peer.SendCommand(ctx, "get_schema", nil)
	})
	if err != nil {
		slog.Error("registry: schema query failed", "err", err)
		return false
	}

	tools, resources, ok := extractSchema(raw, 0)
	if !ok {
		slog.Error("registry: no recognizable schema shape in response")
		return false
	}

	for _, entry := range tools {
		tool, err := parseTool(entry)
		if err != nil {
			slog.Warn("registry: skipping tool entry", "err", err)
			continue
		}
		r.registerTool(tool)
	}
	for _, entry := range resources {
		resource, err := parseResource(entry)
		if err != nil {
			slog.Warn("registry: skipping resource entry", "err", err)
			continue
		}
		r.registerResource(resource)
	}

	r.mu.RLock()
	nTools, nResources := len(r.tools), len(r.resources)
	r.mu.RUnlock()
	slog.Info("registry: registration complete", "tools", nTools, "resources", nResources)
	return true
}

// extractSchema resolves the schema payload out of its transport wrapping.
// The shapes are tried in order:
//
//  1. a JSON string that itself contains the schema
//  2. direct top-level {tools, resources}
//  3. the same object under "result"
//  4. a {type:"text", text:"<json>"} item inside "content", either at the
//     top level or inside "result"
//
// The first shape yielding both arrays wins.
func extractSchema(raw json.RawMessage, depth int) (tools, resources []json.RawMessage, ok bool) {
	if len(raw) == 0 || depth > 3 {
		return nil, nil, false
	}

	// A quoted JSON string needs one unwrap-and-parse step.
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return extractSchema(json.RawMessage(asString), depth+1)
	}

	var direct struct {
		Tools     *[]json.RawMessage `json:"tools"`
		Resources *[]json.RawMessage `json:"resources"`
	}
	if err := json.Unmarshal(raw, &direct); err == nil && direct.Tools != nil && direct.Resources != nil {
		return *direct.Tools, *direct.Resources, true
	}

	var wrapped struct {
		Result  json.RawMessage `json:"result"`
		Content []contentItem   `json:"content"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, nil, false
	}

	if len(wrapped.Result) > 0 {
		if t, res, ok := extractSchema(wrapped.Result, depth+1); ok {
			return t, res, true
		}
	}
	if t, res, ok := extractFromContent(wrapped.Content, depth); ok {
		return t, res, true
	}
	return nil, nil, false
}

type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// extractFromContent scans content items for a text entry whose text
// parses as JSON containing a tools array.
func extractFromContent(items []contentItem, depth int) (tools, resources []json.RawMessage, ok bool) {
	for _, item := range items {
		if item.Type != "text" || item.Text == "" {
			continue
		}
		if t, res, ok := extractSchema(json.RawMessage(item.Text), depth+1); ok {
			return t, res, true
		}
	}
	return nil, nil, false
}

// registerTool records a tool; re-registration of a known name is a no-op.
func (r *Registry) registerTool(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		slog.Debug("registry: tool already registered", "tool", t.Name)
		return
	}
	r.tools[t.Name] = t
	r.toolOrder = append(r.toolOrder, t.Name)
	slog.Info("registry: registered tool", "tool", t.Name)
}

// registerResource records a resource; re-registration is a no-op.
func (r *Registry) registerResource(res Resource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.resources[res.Name]; exists {
		slog.Debug("registry: resource already registered", "resource", res.Name)
		return
	}
	r.resources[res.Name] = res
	r.resourceOrder = append(r.resourceOrder, res.Name)
	slog.Info("registry: registered resource", "resource", res.Name, "uri", res.URI)
}

// Tool returns the descriptor for name.
func (r *Registry) Tool(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Resource returns the descriptor for name.
func (r *Registry) Resource(name string) (Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resources[name]
	return res, ok
}

// Tools lists the registered tools in registration order.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.toolOrder))
	for _, name := range r.toolOrder {
		out = append(out, r.tools[name])
	}
	return out
}

// Resources lists the registered resources in registration order.
func (r *Registry) Resources() []Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Resource, 0, len(r.resourceOrder))
	for _, name := range r.resourceOrder {
		out = append(out, r.resources[name])
	}
	return out
}
