package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/unitybridge/unitybridge/internal/unity"
)

// NotFoundError reports an invocation of a capability name the registry
// has never seen.
type NotFoundError struct {
	Kind string // "tool" or "resource"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s does not exist in the Unity schema", e.Kind, e.Name)
}

// MissingParameterError reports a peer rejection reclassified as a missing
// required parameter. The schema's required list is advisory; the peer's
// validation is the ground truth, so the condition is detected after the
// call, from the peer's error text.
type MissingParameterError struct {
	Capability string
	Message    string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing required parameter for %s: %s", e.Capability, e.Message)
}

// ArgumentCountError reports a resource invocation whose parameter count
// does not match the URI template. Detected locally, before any peer
// traffic.
type ArgumentCountError struct {
	Resource string
	Want     int
	Got      int
}

func (e *ArgumentCountError) Error() string {
	return fmt.Sprintf("resource %s requires exactly %d parameter(s), got %d", e.Resource, e.Want, e.Got)
}

// isMissingParameterMessage is the single classification point for the
// peer's missing-parameter phrasing. If the peer protocol grows structured
// error codes, only this function changes.
func isMissingParameterMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, phrase := range []string{
		"required parameter",
		"missing parameter",
		"not provided",
		"parameter required",
	} {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// Invoker executes registered capabilities against the peer and shapes
// every failure into a structured result the front end can always relay.
type Invoker struct {
	reg  *Registry
	peer Commander
}

// NewInvoker wires an Invoker over the registry and its peer connection.
func NewInvoker(reg *Registry, peer Commander) *Invoker {
	return &Invoker{reg: reg, peer: peer}
}

// CallTool invokes a registered tool with positional and/or named
// arguments and returns the peer's result. Errors are typed:
// *NotFoundError, *MissingParameterError, *unity.TimeoutError,
// *unity.CommandError, or a connectivity failure.
func (i *Invoker) CallTool(ctx context.Context, name string, positional []any, named map[string]any) (json.RawMessage, error) {
	tool, ok := i.reg.Tool(name)
	if !ok {
		return nil, &NotFoundError{Kind: "tool", Name: name}
	}

	params := tool.BindArgs(positional, named)
	slog.Info("registry: invoking tool", "tool", name, "params", len(params))

	result, err := i.peer.ExecuteWithReconnect(ctx, func(ctx context.Context) (json.RawMessage, error) {
		return i.peer.SendCommand(ctx, name, params)
	})
	if err != nil {
		return nil, i.classify(name, err)
	}
	if rerr := resultError(result); rerr != "" {
		if isMissingParameterMessage(rerr) {
			return nil, &MissingParameterError{Capability: name, Message: rerr}
		}
	}
	return result, nil
}

// CallResource invokes a registered resource. The parameter count must
// match the URI template exactly; snake_case parameter names are converted
// to camelCase before the call, which is what the Unity side expects.
func (i *Invoker) CallResource(ctx context.Context, name string, params map[string]any) (json.RawMessage, error) {
	resource, ok := i.reg.Resource(name)
	if !ok {
		return nil, &NotFoundError{Kind: "resource", Name: name}
	}
	if len(params) != len(resource.Params) {
		return nil, &ArgumentCountError{Resource: name, Want: len(resource.Params), Got: len(params)}
	}

	normalized := normalizeParamNames(params)
	slog.Info("registry: accessing resource", "resource", name, "uri", resource.URI)

	result, err := i.peer.ExecuteWithReconnect(ctx, func(ctx context.Context) (json.RawMessage, error) {
		return i.peer.SendCommand(ctx, "access_resource", map[string]any{
			"resource_name": name,
			"parameters":    normalized,
		})
	})
	if err != nil {
		return nil, i.classify(name, err)
	}
	if rerr := resultError(result); rerr != "" {
		if isMissingParameterMessage(rerr) {
			return nil, &MissingParameterError{Capability: name, Message: rerr}
		}
	}
	return result, nil
}

// classify reclassifies a peer error as Missing-Parameter when its text
// says so; everything else passes through.
func (i *Invoker) classify(capability string, err error) error {
	var cmdErr *unity.CommandError
	if errors.As(err, &cmdErr) && isMissingParameterMessage(cmdErr.Message) {
		return &MissingParameterError{Capability: capability, Message: cmdErr.Message}
	}
	if isMissingParameterMessage(err.Error()) {
		return &MissingParameterError{Capability: capability, Message: err.Error()}
	}
	return err
}

// resultError extracts the error text from a result object of the form
// {"isError": true, "content": [{"type": "text", "text": "..."}]}, which
// is how the peer reports tool-level failures inside a success envelope.
func resultError(result json.RawMessage) string {
	if len(result) == 0 {
		return ""
	}
	var probe struct {
		IsError bool          `json:"isError"`
		Content []contentItem `json:"content"`
	}
	if err := json.Unmarshal(result, &probe); err != nil || !probe.IsError {
		return ""
	}
	for _, item := range probe.Content {
		if item.Type == "text" && item.Text != "" {
			return item.Text
		}
	}
	return "Unknown error"
}

// InvokeTool is the front-end-facing tool call: it never returns an error,
// always a JSON-marshalable value. Failures come back as {"error": "..."}
// so the caller can always produce a response.
func (i *Invoker) InvokeTool(ctx context.Context, name string, params map[string]any) any {
	result, err := i.CallTool(ctx, name, nil, params)
	if err != nil {
		return errorResult(err)
	}
	return rawToAny(result)
}

// InvokeResource is the front-end-facing resource call. Same error
// shaping as InvokeTool.
func (i *Invoker) InvokeResource(ctx context.Context, name string, params map[string]any) any {
	result, err := i.CallResource(ctx, name, params)
	if err != nil {
		return errorResult(err)
	}
	return rawToAny(result)
}

func errorResult(err error) map[string]any {
	return map[string]any{"error": err.Error()}
}

func rawToAny(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
