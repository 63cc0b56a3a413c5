// Package tools compiles declarative HTTP tool descriptors into functions the
// model can call, and dispatches the calls it makes.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/sashabaranov/go-openai"
)

// Tool is one callable function exposed to the model.
type Tool interface {
	Name() string
	Definition() openai.Tool
	// Validate checks decoded arguments against the tool's schema.
	Validate(args map[string]any) error
	// Invoke never fails; upstream problems are reported in the returned text.
	Invoke(ctx context.Context, args map[string]any) string
}

// UnknownToolError is returned for a call naming a tool that is not registered.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("Unknown tool: %s", e.Name)
}

// ArgumentError is returned when a call's arguments cannot be decoded or do not fit the schema.
type ArgumentError struct {
	Tool string
	Err  error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

// Result is the outcome of one tool call: either Output or Err is set.
type Result struct {
	CallID string
	Name   string
	Output string
	Err    error
}

// Text renders the result the way it is shown to the model.
func (r Result) Text() string {
	if r.Err != nil {
		return "Error: " + r.Err.Error()
	}
	return r.Output
}

type Registry struct {
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds t, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *Registry) Len() int {
	return len(r.tools)
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the tool definitions sorted by name.
func (r *Registry) Definitions() []openai.Tool {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]openai.Tool, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Dispatch executes one tool call requested by the model.
func (r *Registry) Dispatch(ctx context.Context, call openai.ToolCall) Result {
	res := Result{CallID: call.ID, Name: call.Function.Name}

	tool, ok := r.Lookup(call.Function.Name)
	if !ok {
		res.Err = &UnknownToolError{Name: call.Function.Name}
		return res
	}

	args := map[string]any{}
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			res.Err = &ArgumentError{Tool: tool.Name(), Err: err}
			return res
		}
	}
	if err := tool.Validate(args); err != nil {
		res.Err = &ArgumentError{Tool: tool.Name(), Err: err}
		return res
	}

	res.Output = tool.Invoke(ctx, args)
	return res
}
