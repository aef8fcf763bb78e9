// Package gemini implements llm.Caller on the Gemini generateContent API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/user/agentloop/pkg/history"
	"github.com/user/agentloop/pkg/llm"
)

const (
	DefaultBaseURL    = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel      = "gemini-2.5-pro"
	DefaultLightModel = "gemini-2.5-flash"
	DefaultImageModel = "gemini-2.5-flash-image"
	providerName      = "gemini"
)

// Client implements llm.Caller for the Gemini API.
type Client struct {
	config     llm.Config
	apiKey     func() (string, error)
	httpClient *http.Client
	gen        history.Generator
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKeyFunc resolves the API key per request instead of reading
// Config.APIKey.
func WithAPIKeyFunc(fn func() (string, error)) Option {
	return func(c *Client) { c.apiKey = fn }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithGenerator sets the generator used to stamp output events.
func WithGenerator(g history.Generator) Option {
	return func(c *Client) { c.gen = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Gemini client. Empty config fields fall back to the
// package defaults.
func New(config llm.Config, opts ...Option) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.LightModel == "" {
		config.LightModel = DefaultLightModel
	}
	if config.ImageModel == "" {
		config.ImageModel = DefaultImageModel
	}
	c := &Client{
		config:     config,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		gen:        history.Default,
		logger:     slog.Default(),
	}
	c.apiKey = func() (string, error) { return c.config.APIKey, nil }
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
	case req.ImageGeneration:
		return c.config.ImageModel
	case req.Light:
		return c.config.LightModel
	default:
		return c.config.Model
	}
}

func (c *Client) buildRequest(req llm.Request) generateRequest {
	body := generateRequest{Contents: buildContents(req.History)}
	if req.Prompt != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: req.Prompt}}}
	}
	if len(req.Tools) > 0 {
		decls := make([]functionDeclaration, len(req.Tools))
		for i, t := range req.Tools {
			decls[i] = functionDeclaration{Name: t.Name, Description: t.Description, ParametersJSONSchema: t.Parameters}
		}
		body.Tools = []toolSet{{FunctionDeclarations: decls}}
	}

	cfg := &generationConfig{MaxOutputTokens: req.MaxOutputTokens}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = c.config.MaxTokens
	}
	if c.config.Temperature != 0 {
		temp := c.config.Temperature
		cfg.Temperature = &temp
	}
	if req.ImageGeneration {
		cfg.ResponseModalities = []string{"TEXT", "IMAGE"}
	} else {
		cfg.ThinkingConfig = &thinkingConfig{IncludeThoughts: true}
	}
	body.GenerationConfig = cfg
	return body
}

// CallModel sends one generateContent request and maps the first
// candidate to history events.
func (c *Client) CallModel(ctx context.Context, req llm.Request) ([]history.Event, error) {
	model := c.Model(req)
	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	key, err := c.apiKey()
	if err != nil {
		return nil, fmt.Errorf("resolving api key: %w", err)
	}

	endpoint := strings.TrimRight(c.config.BaseURL, "/") + "/models/" + url.PathEscape(model) + ":generateContent"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", key)

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
		return nil, apiError(resp.StatusCode, model, respBody)
	}

	var genResp generateResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	c.logger.Debug("gemini response",
		"model", model,
		"input_tokens", genResp.UsageMetadata.PromptTokenCount,
		"output_tokens", genResp.UsageMetadata.CandidatesTokenCount,
		"thought_tokens", genResp.UsageMetadata.ThoughtsTokenCount,
	)

	responseID := genResp.ResponseID
	if responseID == "" {
		responseID = uuid.NewString()
	}
	meta := history.Metadata{ResponseID: responseID, Provider: providerName}

	var parts []part
	if len(genResp.Candidates) > 0 {
		parts = genResp.Candidates[0].Content.Parts
	} else if genResp.PromptFeedback != nil {
		c.logger.Warn("gemini blocked prompt", "model", model, "reason", genResp.PromptFeedback.BlockReason)
	}
	return llm.MapParts(outputParts(parts), c.gen, meta), nil
}

func apiError(code int, model string, body []byte) error {
	apiErr := &llm.APIError{StatusCode: code, Model: model, Message: strings.TrimSpace(string(body))}
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		apiErr.Message = parsed.Error.Message
		apiErr.Status = parsed.Error.Status
	}
	return apiErr
}
