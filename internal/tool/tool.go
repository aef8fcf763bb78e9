// Package tool declares the tools an agent can call and executes tool calls
// against them.
package tool

import (
	"context"
	"errors"
	"fmt"

	"github.com/user/agentloop/pkg/history"
	"github.com/user/agentloop/pkg/llm"
)

var (
	// ErrDuplicateTool is returned when two tools share a name.
	ErrDuplicateTool = errors.New("duplicate tool name")
	// ErrInvalidToolOutput is returned when a handler returns something that
	// is neither a string nor a valid Output. It is a programming error and
	// is not reported to the model.
	ErrInvalidToolOutput = errors.New("invalid tool output")
)

// Handler runs a tool with parameters already parsed by the tool's Schema.
// It returns a string, an Output or a *Output.
type Handler func(ctx context.Context, params any) (any, error)

// Tool is a named, schema-described function the model may call.
type Tool struct {
	Name        string
	Description string
	Params      Schema
	Handler     Handler
}

func (t Tool) schema() Schema {
	if t.Params == nil {
		return noParams{}
	}
	return t.Params
}

// Declaration returns what the model is told about t.
func (t Tool) Declaration() llm.ToolDeclaration {
	return llm.ToolDeclaration{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  t.schema().JSONSchema(),
	}
}

// Output is the normalized result of a tool run.
type Output struct {
	Result      string
	Attachments []history.Attachment
}

// Validate checks every attachment.
func (o *Output) Validate() error {
	if o == nil {
		return fmt.Errorf("%w: nil output", ErrInvalidToolOutput)
	}
	for i, a := range o.Attachments {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("%w: attachment %d: %w", ErrInvalidToolOutput, i, err)
		}
	}
	return nil
}

func normalize(v any) (Output, error) {
	switch out := v.(type) {
	case string:
		return Output{Result: out}, nil
	case Output:
		if err := out.Validate(); err != nil {
			return Output{}, err
		}
		return out, nil
	case *Output:
		if err := out.Validate(); err != nil {
			return Output{}, err
		}
		return *out, nil
	default:
		return Output{}, fmt.Errorf("%w: unexpected %T", ErrInvalidToolOutput, v)
	}
}

// Registry holds tools by name in registration order.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates a registry holding tools.
func NewRegistry(tools ...Tool) (*Registry, error) {
	if err := CheckUnique(tools); err != nil {
		return nil, err
	}
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	return r, nil
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(t Tool) error {
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name)
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// All returns all registered tools in registration order.
func (r *Registry) All() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Declarations converts registered tools to the model-facing format.
func (r *Registry) Declarations() []llm.ToolDeclaration {
	out := make([]llm.ToolDeclaration, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Declaration())
	}
	return out
}

// Dispatch runs call against the registered tools.
func (r *Registry) Dispatch(ctx context.Context, call history.ToolCall) (Output, error) {
	return Dispatch(ctx, r.All(), call)
}
