// Package recovery wraps a model caller with the repairs and retries that
// known provider failures call for.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/user/agentloop/pkg/history"
	"github.com/user/agentloop/pkg/llm"
)

// ErrRecoveryExhausted is returned when the attempt budget runs out or a
// repair leaves nothing to change.
var ErrRecoveryExhausted = errors.New("model call recovery exhausted")

// Caller is an llm.Caller that retries transient failures and repairs
// history for file and content type rejections.
type Caller struct {
	next              llm.Caller
	maxAttempts       int
	transientAttempts int
	backoff           Backoff
	fallback          func(model string) string
	defaultModel      string
	resolve           func(llm.Request) string
	logger            *slog.Logger
}

// Option configures a Caller.
type Option func(*Caller)

// WithMaxAttempts bounds the calls made for one request. Default 5;
// values below 1 keep the default.
func WithMaxAttempts(n int) Option {
	return func(c *Caller) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithTransientAttempts sets how many times a 5xx is retried on the
// requested model before switching to the fallback model. Default 3.
func WithTransientAttempts(n int) Option {
	return func(c *Caller) { c.transientAttempts = n }
}

// WithBackoff sets the delay policy between transient retries.
func WithBackoff(b Backoff) Option {
	return func(c *Caller) { c.backoff = b }
}

// WithFallback sets the model pairing used after transient retries run
// out. Default llm.FallbackModel.
func WithFallback(fn func(model string) string) Option {
	return func(c *Caller) { c.fallback = fn }
}

// WithDefaultModel names the model the wrapped caller uses when a request
// does not override it, so a fallback can be derived.
func WithDefaultModel(model string) Option {
	return func(c *Caller) { c.defaultModel = model }
}

// WithModelResolver reports which model the wrapped caller uses for a
// request without an explicit model. It takes precedence over
// WithDefaultModel.
func WithModelResolver(fn func(llm.Request) string) Option {
	return func(c *Caller) { c.resolve = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Caller) { c.logger = l }
}

// Wrap returns next with recovery applied.
func Wrap(next llm.Caller, opts ...Option) *Caller {
	c := &Caller{
		next:              next,
		maxAttempts:       5,
		transientAttempts: 3,
		backoff:           DefaultBackoff(),
		fallback:          llm.FallbackModel,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CallModel calls the wrapped caller, repairing a working copy of the
// history between attempts. Every repair is persisted through req.Rewrite
// before the retry; the map passed to Rewrite holds all replacements made
// so far in this call. Once transient retries run out the remaining
// attempts go to the fallback model, which is also switched to when only
// one attempt is left.
func (c *Caller) CallModel(ctx context.Context, req llm.Request) ([]history.Event, error) {
	working := slices.Clone(req.History)
	replacements := make(map[string]history.Event)
	transient := 0
	fallback := ""
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		call := req
		call.History = working
		if fallback != "" {
			call.Model = fallback
		}
		events, err := c.next.CallModel(ctx, call)
		if err == nil {
			return events, nil
		}
		lastErr = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, err
		}

		if llm.IsTransient(err) {
			if fallback != "" {
				return nil, fmt.Errorf("fallback model %s: %w", fallback, err)
			}
			if attempt == c.maxAttempts {
				break
			}
			transient++
			if transient < c.transientAttempts && attempt+1 < c.maxAttempts {
				c.logger.Warn("transient model error, retrying", "attempt", attempt, "error", err)
				if err := c.backoff.Wait(ctx, transient); err != nil {
					return nil, err
				}
				continue
			}
			model := c.modelFor(call)
			if fallback = c.fallbackFor(model); fallback == "" {
				return nil, err
			}
			c.logger.Warn("transient model error persists, trying fallback model",
				"model", model, "fallback", fallback, "error", err)
			continue
		}

		changed, kind, ok := repairFor(working, err)
		if !ok {
			return nil, err
		}
		if len(changed) == 0 {
			return nil, fmt.Errorf("%w: %s repair changed nothing: %w", ErrRecoveryExhausted, kind, err)
		}
		working = history.Replace(working, changed)
		maps.Copy(replacements, changed)
		c.logger.Warn("model rejected history, repairing",
			"attempt", attempt, "repair", kind, "events", len(changed), "error", err)

		if req.Rewrite != nil {
			if err := req.Rewrite(ctx, maps.Clone(replacements)); err != nil {
				return nil, fmt.Errorf("rewrite history: %w", err)
			}
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRecoveryExhausted, c.maxAttempts, lastErr)
}

// modelFor reports the model req runs on.
func (c *Caller) modelFor(req llm.Request) string {
	if req.Model != "" {
		return req.Model
	}
	if c.resolve != nil {
		if m := c.resolve(req); m != "" {
			return m
		}
	}
	return c.defaultModel
}

func (c *Caller) fallbackFor(model string) string {
	if c.fallback == nil || model == "" {
		return ""
	}
	return c.fallback(model)
}
