// Package openai implements llm.Caller on OpenAI-compatible chat
// completions APIs.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/user/agentloop/pkg/history"
	"github.com/user/agentloop/pkg/llm"
)

const providerName = "openai"

// Client implements llm.Caller for OpenAI-compatible APIs.
type Client struct {
	config     llm.Config
	httpClient *http.Client
	budget     *Budget
	gen        history.Generator
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBudget trims prompts to fit the model's context window.
func WithBudget(b *Budget) Option {
	return func(c *Client) { c.budget = b }
}

// WithGenerator sets the generator used to stamp output events.
func WithGenerator(g history.Generator) Option {
	return func(c *Client) { c.gen = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a new OpenAI-compatible client with the given configuration.
func New(config llm.Config, opts ...Option) *Client {
	c := &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		gen:    history.Default,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the model a request resolves to.
func (c *Client) Model(req llm.Request) string {
	switch {
	case req.Model != "":
		return req.Model
	case req.Light && c.config.LightModel != "":
		return c.config.LightModel
	default:
		return c.config.Model
	}
}

// CallModel sends a chat completion request and maps the first choice to
// history events.
func (c *Client) CallModel(ctx context.Context, req llm.Request) ([]history.Event, error) {
	model := c.Model(req)
	messages := buildMessages(req.Prompt, req.History)
	if c.budget != nil {
		messages = c.budget.Fit(messages)
	}

	reqBody := chatRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: req.MaxOutputTokens,
	}
	if reqBody.MaxTokens == 0 {
		reqBody.MaxTokens = c.config.MaxTokens
	}
	for _, t := range req.Tools {
		reqBody.Tools = append(reqBody.Tools, tool{
			Type:     "function",
			Function: function{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}
	if c.config.Temperature != 0 {
		temp := c.config.Temperature
		reqBody.Temperature = &temp
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &llm.APIError{StatusCode: resp.StatusCode, Model: model, Message: strings.TrimSpace(string(respBody))}
		var parsed errorResponse
		if json.Unmarshal(respBody, &parsed) == nil && parsed.Error.Message != "" {
			apiErr.Message = parsed.Error.Message
			apiErr.Status = parsed.Error.Type
		}
		return nil, apiErr
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	c.logger.Debug("openai response",
		"model", model,
		"input_tokens", chatResp.Usage.PromptTokens,
		"output_tokens", chatResp.Usage.CompletionTokens,
	)

	responseID := chatResp.ID
	if responseID == "" {
		responseID = uuid.NewString()
	}
	meta := history.Metadata{ResponseID: responseID, Provider: providerName}
	return llm.MapParts(outputParts(chatResp.Choices[0].Message), c.gen, meta), nil
}
