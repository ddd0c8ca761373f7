package registry

import (
	"encoding/json"
	"reflect"
	"testing"
)

// ─── parseTool ─────────────────────────────────────────────────────────────

func TestParseTool_OrderedParams(t *testing.T) {
	entry := json.RawMessage(`{
		"name": "execute_code",
		"description": "Run C# in the editor",
		"inputSchema": {
			"type": "object",
			"properties": {
				"code": {"type": "string", "description": "C# source"},
				"timeout": {"type": "number"},
				"include_logs": {"type": "boolean"}
			},
			"required": ["code"]
		}
	}`)

	tool, err := parseTool(entry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tool.Name != "execute_code" {
		t.Errorf("unexpected name %q", tool.Name)
	}
	if tool.Description != "Run C# in the editor" {
		t.Errorf("unexpected description %q", tool.Description)
	}

	var names []string
	for _, p := range tool.Params {
		names = append(names, p.Name)
	}
	// Declaration order must survive; positional binding depends on it.
	want := []string{"code", "timeout", "include_logs"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("param order mismatch: got %v, want %v", names, want)
	}

	if !tool.Params[0].Required {
		t.Error("expected code to be required")
	}
	if tool.Params[1].Required {
		t.Error("expected timeout to be optional")
	}
	if tool.Params[0].Type != "string" || tool.Params[1].Type != "number" {
		t.Errorf("unexpected param types: %+v", tool.Params)
	}
}

func TestParseTool_NoSchema(t *testing.T) {
	tool, err := parseTool(json.RawMessage(`{"name": "refresh_assets"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tool.Params) != 0 {
		t.Errorf("expected no params, got %v", tool.Params)
	}
	if tool.Description != "Unity tool: refresh_assets" {
		t.Errorf("expected fallback description, got %q", tool.Description)
	}
}

func TestParseTool_MissingName(t *testing.T) {
	if _, err := parseTool(json.RawMessage(`{"description": "nameless"}`)); err == nil {
		t.Fatal("expected error for tool without name")
	}
}

// ─── parseResource ─────────────────────────────────────────────────────────

func TestParseResource_URITemplate(t *testing.T) {
	res, err := parseResource(json.RawMessage(`{
		"name": "scene_info",
		"uri": "unity://scenes/{scene_name}/objects/{object_id}"
	}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(res.Params, []string{"scene_name", "object_id"}) {
		t.Errorf("unexpected params: %v", res.Params)
	}
	if res.Description != "Unity resource: scene_info" {
		t.Errorf("expected fallback description, got %q", res.Description)
	}
}

func TestParseResource_URLPatternFallback(t *testing.T) {
	res, err := parseResource(json.RawMessage(`{
		"name": "legacy",
		"urlPattern": "unity://legacy/{id}"
	}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.URI != "unity://legacy/{id}" {
		t.Errorf("unexpected URI %q", res.URI)
	}
	if !reflect.DeepEqual(res.Params, []string{"id"}) {
		t.Errorf("unexpected params: %v", res.Params)
	}
}

func TestParseResource_NoURI(t *testing.T) {
	if _, err := parseResource(json.RawMessage(`{"name": "broken"}`)); err == nil {
		t.Fatal("expected error for resource without URI template")
	}
}

// ─── templateParams ────────────────────────────────────────────────────────

func TestTemplateParams(t *testing.T) {
	cases := []struct {
		uri  string
		want []string
	}{
		{"unity://scenes/{scene_name}", []string{"scene_name"}},
		{"ns://a/{x}/{y}", []string{"x", "y"}},
		{"unity://menu-items/%7Bmenu_path%7D", []string{"menu_path"}},
		{"unity://mixed/{a}/%7Bb%7D", []string{"a", "b"}},
		{"unity://static/path", nil},
		{"unity://empty/{}", nil},
	}
	for _, tc := range cases {
		if got := templateParams(tc.uri); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("templateParams(%q) = %v, want %v", tc.uri, got, tc.want)
		}
	}
}

// ─── BindArgs ──────────────────────────────────────────────────────────────

func TestBindArgs_PositionalOrder(t *testing.T) {
	tool := Tool{
		Name: "execute_code",
		Params: []Param{
			{Name: "code"},
			{Name: "timeout"},
		},
	}

	params := tool.BindArgs([]any{"print(1)", 30}, nil)
	if params["code"] != "print(1)" {
		t.Errorf("positional 0 bound wrong: %v", params)
	}
	if params["timeout"] != 30 {
		t.Errorf("positional 1 bound wrong: %v", params)
	}
}

func TestBindArgs_NamedOverridesPositional(t *testing.T) {
	tool := Tool{Params: []Param{{Name: "code"}}}
	params := tool.BindArgs([]any{"positional"}, map[string]any{"code": "named"})
	if params["code"] != "named" {
		t.Errorf("expected named to win, got %v", params["code"])
	}
}

func TestBindArgs_ExtraPositionalIgnored(t *testing.T) {
	tool := Tool{Params: []Param{{Name: "only"}}}
	params := tool.BindArgs([]any{1, 2, 3}, nil)
	if len(params) != 1 || params["only"] != 1 {
		t.Errorf("unexpected binding: %v", params)
	}
}

func TestBindArgs_UnknownNamedAccepted(t *testing.T) {
	tool := Tool{Params: []Param{{Name: "known"}}}
	params := tool.BindArgs(nil, map[string]any{"mystery": true})
	if params["mystery"] != true {
		t.Errorf("unknown named argument must pass through: %v", params)
	}
}

// ─── Name normalization ────────────────────────────────────────────────────

func TestSnakeToCamel(t *testing.T) {
	cases := map[string]string{
		"object_name":      "objectName",
		"max_result_count": "maxResultCount",
		"plain":            "plain",
		"trailing_":        "trailing",
		"a_b_c":            "aBC",
	}
	for in, want := range cases {
		if got := snakeToCamel(in); got != want {
			t.Errorf("snakeToCamel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeParamNames(t *testing.T) {
	got := normalizeParamNames(map[string]any{
		"scene_name": "Main",
		"depth":      2,
	})
	want := map[string]any{"sceneName": "Main", "depth": 2}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("normalizeParamNames = %v, want %v", got, want)
	}
}

// ─── orderedKeys ───────────────────────────────────────────────────────────

func TestOrderedKeys(t *testing.T) {
	keys, err := orderedKeys(json.RawMessage(`{"z": 1, "a": {"nested": true}, "m": [1,2]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"z", "a", "m"}) {
		t.Errorf("unexpected order: %v", keys)
	}
}

func TestOrderedKeys_Empty(t *testing.T) {
	keys, err := orderedKeys(nil)
	if err != nil || keys != nil {
		t.Errorf("expected nil, nil for empty input, got %v, %v", keys, err)
	}
}

func TestOrderedKeys_NotAnObject(t *testing.T) {
	if _, err := orderedKeys(json.RawMessage(`[1,2,3]`)); err == nil {
		t.Fatal("expected error for non-object input")
	}
}
