// Package registry turns the Unity editor's runtime-discovered capability
// schema into invocable tools and parameterized resources.
package registry

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Param is one declared tool parameter.
type Param struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// Tool describes one callable capability. The parameter list preserves the
// declaration order from the schema, which is what positional argument
// binding keys on.
type Tool struct {
	Name        string
	Description string
	Params      []Param
}

// Resource describes one parameterized read. Params are the placeholder
// names extracted from the URI template, in template order.
type Resource struct {
	Name        string
	Description string
	URI         string
	Params      []string
}

// rawTool mirrors one schema tool entry. InputSchema stays raw so the
// property order can be recovered; encoding/json maps would lose it.
type rawTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// rawResource mirrors one schema resource entry. Older Unity plugins send
// the template under "urlPattern" instead of "uri".
type rawResource struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	URI         string `json:"uri"`
	URLPattern  string `json:"urlPattern"`
}

// parseTool builds a Tool descriptor from one schema entry.
func parseTool(raw json.RawMessage) (Tool, error) {
	var rt rawTool
	if err := json.Unmarshal(raw, &rt); err != nil {
		return Tool{}, fmt.Errorf("parse tool entry: %w", err)
	}
	if rt.Name == "" {
		return Tool{}, fmt.Errorf("tool without name")
	}

	t := Tool{
		Name:        rt.Name,
		Description: rt.Description,
	}
	if t.Description == "" {
		t.Description = "Unity tool: " + rt.Name
	}

	if len(rt.InputSchema) > 0 {
		var is struct {
			Properties json.RawMessage `json:"properties"`
			Required   []string        `json:"required"`
		}
		if err := json.Unmarshal(rt.InputSchema, &is); err != nil {
			return Tool{}, fmt.Errorf("parse inputSchema for %s: %w", rt.Name, err)
		}

		required := make(map[string]bool, len(is.Required))
		for _, r := range is.Required {
			required[r] = true
		}

		names, err := orderedKeys(is.Properties)
		if err != nil {
			return Tool{}, fmt.Errorf("parse properties for %s: %w", rt.Name, err)
		}

		var props map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		}
		if len(is.Properties) > 0 {
			if err := json.Unmarshal(is.Properties, &props); err != nil {
				return Tool{}, fmt.Errorf("parse properties for %s: %w", rt.Name, err)
			}
		}

		for _, name := range names {
			p := Param{Name: name, Required: required[name]}
			if info, ok := props[name]; ok {
				p.Type = info.Type
				p.Description = info.Description
			}
			t.Params = append(t.Params, p)
		}
	}

	return t, nil
}

// parseResource builds a Resource descriptor from one schema entry.
func parseResource(raw json.RawMessage) (Resource, error) {
	var rr rawResource
	if err := json.Unmarshal(raw, &rr); err != nil {
		return Resource{}, fmt.Errorf("parse resource entry: %w", err)
	}
	if rr.Name == "" {
		return Resource{}, fmt.Errorf("resource without name")
	}

	uri := rr.URI
	if uri == "" {
		uri = rr.URLPattern
	}
	if uri == "" {
		return Resource{}, fmt.Errorf("resource %s has no URI template", rr.Name)
	}

	r := Resource{
		Name:        rr.Name,
		Description: rr.Description,
		URI:         uri,
		Params:      templateParams(uri),
	}
	if r.Description == "" {
		r.Description = "Unity resource: " + rr.Name
	}
	return r, nil
}

// orderedKeys returns the top-level keys of a JSON object in declaration
// order. encoding/json maps are unordered, so the token stream is walked
// instead.
func orderedKeys(obj json.RawMessage) ([]string, error) {
	if len(obj) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(strings.NewReader(string(obj)))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected JSON object, got %v", tok)
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", tok)
		}
		keys = append(keys, key)

		// Skip the value.
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// templateParams extracts placeholder names from a URI template, in order.
// Both literal "{x}" and percent-encoded "%7Bx%7D" forms occur in Unity
// schemas; both are recognized.
func templateParams(uri string) []string {
	// Normalize the percent-encoded braces first.
	normalized := strings.NewReplacer("%7B", "{", "%7b", "{", "%7D", "}", "%7d", "}").Replace(uri)

	var params []string
	rest := normalized
	for {
		open := strings.Index(rest, "{")
		if open < 0 {
			break
		}
		close := strings.Index(rest[open:], "}")
		if close < 0 {
			break
		}
		name := rest[open+1 : open+close]
		if name != "" {
			params = append(params, name)
		}
		rest = rest[open+close+1:]
	}
	return params
}

// BindArgs merges positional and named arguments into the parameter map
// sent to the peer. Positional arguments bind in declared property order;
// named arguments are merged on top, unknown extras included. No
// required-parameter check happens here: the peer's own validation is the
// ground truth.
func (t Tool) BindArgs(positional []any, named map[string]any) map[string]any {
	params := make(map[string]any, len(positional)+len(named))
	for i, v := range positional {
		if i >= len(t.Params) {
			break
		}
		params[t.Params[i].Name] = v
	}
	for k, v := range named {
		params[k] = v
	}
	return params
}

// snakeToCamel converts snake_case to camelCase, the parameter naming the
// Unity side expects. Keys without underscores pass through unchanged.
func snakeToCamel(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}
	parts := strings.Split(s, "_")
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// normalizeParamNames converts every snake_case key to camelCase.
func normalizeParamNames(params map[string]any) map[string]any {
	normalized := make(map[string]any, len(params))
	for k, v := range params {
		normalized[snakeToCamel(k)] = v
	}
	return normalized
}
