package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/user/agentloop/pkg/history"
)

// Dispatch validates call against the matching tool and runs it.
//
// Problems the model can fix (unknown tool, bad arguments, a failing
// handler) come back as an Output whose Result explains them. The error
// return is reserved for ErrInvalidToolOutput and context cancellation.
func Dispatch(ctx context.Context, tools []Tool, call history.ToolCall) (Output, error) {
	t, ok := find(tools, call.Name)
	if !ok {
		return Output{Result: fmt.Sprintf("Tool %s not found. Available tools: %s", call.Name, names(tools))}, nil
	}
	return run(ctx, t, call.Name, call.Parameters, false)
}

func run(ctx context.Context, t Tool, label string, raw json.RawMessage, strict bool) (Output, error) {
	params, err := t.schema().Parse(raw, strict)
	if err != nil {
		return Output{Result: fmt.Sprintf("Invalid arguments for tool %s: %v", label, err)}, nil
	}

	value, err := t.Handler(ctx, params)
	if err != nil {
		if errors.Is(err, ErrInvalidToolOutput) {
			return Output{}, fmt.Errorf("run tool %s: %w", label, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Output{}, fmt.Errorf("run tool %s: %w", label, ctxErr)
		}
		return Output{Result: fmt.Sprintf("Error running tool %s: %v", label, err)}, nil
	}

	out, err := normalize(value)
	if err != nil {
		return Output{}, fmt.Errorf("run tool %s: %w", label, err)
	}
	return out, nil
}

func find(tools []Tool, name string) (Tool, bool) {
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

func names(tools []Tool) string {
	if len(tools) == 0 {
		return "none"
	}
	out := make([]string, len(tools))
	for i, t := range tools {
		out[i] = t.Name
	}
	return strings.Join(out, ", ")
}

// CheckUnique returns ErrDuplicateTool when two tools share a name.
func CheckUnique(tools []Tool) error {
	seen := make(map[string]bool, len(tools))
	for _, t := range tools {
		if seen[t.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}
