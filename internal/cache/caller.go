package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/user/agentloop/pkg/history"
	"github.com/user/agentloop/pkg/llm"
)

type callKey struct {
	Prompt          string                `json:"prompt"`
	Tools           []llm.ToolDeclaration `json:"tools"`
	History         json.RawMessage       `json:"history"`
	Model           string                `json:"model,omitempty"`
	Light           bool                  `json:"light,omitempty"`
	ImageGeneration bool                  `json:"imageGeneration,omitempty"`
	MaxOutputTokens int                   `json:"maxOutputTokens,omitempty"`
	Location        string                `json:"location,omitempty"`
}

type cachingCaller struct {
	next  llm.Caller
	cache *Cache
}

// Caller memoizes next in c. Identical requests (same prompt, tools, history
// and model selection) replay the cached events without a model call.
func Caller(next llm.Caller, c *Cache) llm.Caller {
	if c == nil || c.bypass {
		return next
	}
	return &cachingCaller{next: next, cache: c}
}

func (cc *cachingCaller) CallModel(ctx context.Context, req llm.Request) ([]history.Event, error) {
	hist, err := history.MarshalList(req.History)
	if err != nil {
		return nil, fmt.Errorf("marshal history: %w", err)
	}
	key := callKey{
		Prompt:          req.Prompt,
		Tools:           req.Tools,
		History:         hist,
		Model:           req.Model,
		Light:           req.Light,
		ImageGeneration: req.ImageGeneration,
		MaxOutputTokens: req.MaxOutputTokens,
	}
	if req.Location != nil {
		key.Location = req.Location.String()
	}

	call := Wrap(cc.cache, func(ctx context.Context, _ callKey) (json.RawMessage, error) {
		events, err := cc.next.CallModel(ctx, req)
		if err != nil {
			return nil, err
		}
		return history.MarshalList(events)
	})
	raw, err := call(ctx, key)
	if err != nil {
		return nil, err
	}
	events, err := history.UnmarshalList(raw)
	if err != nil {
		return nil, fmt.Errorf("decode cached events: %w", err)
	}
	return events, nil
}
