package openai

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Budget trims chat messages to a model's context window using the
// model's tokenizer.
type Budget struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
	reserve   int
}

// NewBudget creates a budget for model. maxTokens is the context window
// and reserve is kept free for the response.
func NewBudget(model string, maxTokens, reserve int) (*Budget, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Budget{tokenizer: enc, maxTokens: maxTokens, reserve: reserve}, nil
}

func (b *Budget) countTokens(text string) int {
	return len(b.tokenizer.Encode(text, nil, nil))
}

func (b *Budget) messageTokens(m message) int {
	n := 4
	switch c := m.Content.(type) {
	case string:
		n += b.countTokens(c)
	case []contentPart:
		for _, p := range c {
			n += b.countTokens(p.Text)
			if p.ImageURL != nil {
				n += 765
			}
		}
	}
	for _, tc := range m.ToolCalls {
		n += b.countTokens(tc.Function.Name) + b.countTokens(tc.Function.Arguments)
	}
	return n
}

// Fit keeps the system message and as many of the most recent messages as
// fit. The kept window never opens with a tool message whose call was cut.
func (b *Budget) Fit(msgs []message) []message {
	if len(msgs) == 0 {
		return msgs
	}
	var system []message
	rest := msgs
	if msgs[0].Role == "system" {
		system, rest = msgs[:1], msgs[1:]
	}

	remaining := b.maxTokens - b.reserve
	for _, m := range system {
		remaining -= b.messageTokens(m)
	}

	start := len(rest)
	for start > 0 {
		cost := b.messageTokens(rest[start-1])
		if cost > remaining {
			break
		}
		remaining -= cost
		start--
	}
	for start < len(rest) && rest[start].Role == "tool" {
		start++
	}

	out := make([]message, 0, len(system)+len(rest)-start)
	out = append(out, system...)
	return append(out, rest[start:]...)
}
