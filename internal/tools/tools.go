// Package tools defines the capability interface the language model
// calls through. Each tool has a name, a description, a JSON schema for
// its arguments, and an Invoke method; the turn pipeline depends only on
// this interface and never on a provider's function-calling format.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Tool is a capability exposed to the language model.
type Tool interface {
	Name() string
	Description() string
	// Parameters is a JSON schema object describing the arguments.
	Parameters() map[string]any
	Invoke(ctx context.Context, args map[string]any) (Result, error)
}

// Result is what a tool hands back to the pipeline.
type Result struct {
	// Payload is encoded as JSON and given to the model as the tool
	// response.
	Payload any

	// SuppressFollowup ends the turn without another generation. Control
	// tools that already spoke a fixed utterance set it.
	SuppressFollowup bool
}

// Outcome is the payload shape of every domain-data tool: success with
// data, or failure with an error message the model can relay.
type Outcome struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Success returns a successful result carrying data.
func Success(data any) Result {
	return Result{Payload: Outcome{Success: true, Data: data}}
}

// Failure returns a failed result carrying msg.
func Failure(msg string) Result {
	return Result{Payload: Outcome{Success: false, Error: msg}}
}

// Encode renders a payload for the model. Strings pass through as-is.
func Encode(payload any) string {
	if s, ok := payload.(string); ok {
		return s
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, "unencodable tool result: "+err.Error())
	}
	return string(b)
}

// Func adapts a plain function into a [Tool].
type Func struct {
	ToolName string
	Desc     string
	Params   map[string]any
	Handler  func(ctx context.Context, args map[string]any) (Result, error)
}

func (f *Func) Name() string        { return f.ToolName }
func (f *Func) Description() string { return f.Desc }

// Parameters returns the schema, defaulting to an empty object.
func (f *Func) Parameters() map[string]any {
	if f.Params == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return f.Params
}

func (f *Func) Invoke(ctx context.Context, args map[string]any) (Result, error) {
	return f.Handler(ctx, args)
}

// Registry holds available tools. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any tool of the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all tools in OpenAI function format, sorted by name so
// the request prefix is stable across turns.
func (r *Registry) List() []map[string]any {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]map[string]any, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name(),
				"description": t.Description(),
				"parameters":  t.Parameters(),
			},
		})
	}
	return result
}

// Execute runs a tool by name. The returned Result is always usable as a
// tool response: when the tool is missing or fails, it carries a failure
// payload and the error explains why. A failing tool may supply its own
// payload; otherwise the error text is used.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (Result, error) {
	t, ok := r.Get(name)
	if !ok {
		err := &ErrToolUnavailable{ToolName: name}
		return Failure(err.Error()), err
	}
	if args == nil {
		args = map[string]any{}
	}

	res, err := t.Invoke(ctx, args)
	if err != nil {
		if res.Payload == nil {
			res = Failure(err.Error())
		}
		res.SuppressFollowup = false
		return res, fmt.Errorf("tool %s: %w", name, err)
	}
	return res, nil
}
