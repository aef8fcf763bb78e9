package llm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/user/agentloop/pkg/history"
)

// Caller turns a prompt, tool declarations and history into the events of
// one model turn. Implementations make a single round trip per call;
// retries belong to wrappers such as the recovery package.
type Caller interface {
	CallModel(ctx context.Context, req Request) ([]history.Event, error)
}

// CallerFunc adapts a function to the Caller interface.
type CallerFunc func(ctx context.Context, req Request) ([]history.Event, error)

func (f CallerFunc) CallModel(ctx context.Context, req Request) ([]history.Event, error) {
	return f(ctx, req)
}

// RewriteFunc persists replace-by-id repairs to the history owner.
type RewriteFunc func(ctx context.Context, replacements map[string]history.Event) error

// ToolDeclaration is what the model sees of a tool.
type ToolDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Request holds everything a Caller needs for one model call.
type Request struct {
	Prompt  string
	Tools   []ToolDeclaration
	History []history.Event

	// Rewrite persists history repairs made while recovering from provider
	// errors. Nil means repairs only live for the duration of the call.
	Rewrite RewriteFunc

	// Model overrides the adapter's default model when set.
	Model           string
	Light           bool
	ImageGeneration bool
	MaxOutputTokens int
	Location        *time.Location
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	LightModel  string
	ImageModel  string
	MaxTokens   int
	Temperature float32
}
