package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/agentloop/internal/agent"
	"github.com/user/agentloop/internal/types"
	"github.com/user/agentloop/pkg/history"
	"github.com/user/agentloop/pkg/llm"
)

const defaultConcurrency = 2

// Gateway turns inbound messages into agent runs. It resolves the
// conversation, records the message and queues a run that drives the agent
// loop over the conversation's history.
type Gateway struct {
	conversations types.ConversationStore
	histories     types.HistoryBackend
	caller        llm.Caller
	spec          agent.Spec
	Queue         *Queue

	logger      *slog.Logger
	gen         history.Generator
	runTimeout  time.Duration
	concurrency int64

	ctx    context.Context
	cancel context.CancelFunc
}

type Option func(*Gateway)

func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithConcurrency bounds how many conversations run at the same time.
func WithConcurrency(n int64) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.concurrency = n
		}
	}
}

// WithRunTimeout bounds each agent run. Zero means no limit.
func WithRunTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.runTimeout = d }
}

func WithGenerator(gen history.Generator) Option {
	return func(g *Gateway) { g.gen = gen }
}

// New creates a Gateway. Every run uses a copy of spec.
func New(conversations types.ConversationStore, histories types.HistoryBackend, caller llm.Caller, spec agent.Spec, opts ...Option) *Gateway {
	g := &Gateway{
		conversations: conversations,
		histories:     histories,
		caller:        caller,
		spec:          spec,
		logger:        slog.Default(),
		gen:           history.Default,
		concurrency:   defaultConcurrency,
	}
	for _, o := range opts {
		o(g)
	}
	g.Queue = NewQueue(g.concurrency)
	g.Queue.logger = g.logger
	g.Queue.SetProcessor(g.process)
	return g
}

// Start initialises the gateway's context and starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.Queue.Start(g.ctx)
}

// Stop cancels outstanding runs and waits for the queue to drain.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.Queue.Stop()
}

// RunOption configures optional behavior on a Run.
type RunOption func(*Run)

// WithOnReply sets the callback receiving the run's replies.
func WithOnReply(fn func(string)) RunOption {
	return func(r *Run) { r.OnReply = fn }
}

// WithOnDone sets the callback invoked when the run finishes.
func WithOnDone(fn func(error)) RunOption {
	return func(r *Run) { r.OnDone = fn }
}

// HandleInbound resolves or creates the conversation for msg and queues a
// run for it.
func (g *Gateway) HandleInbound(ctx context.Context, msg *types.InboundMessage, opts ...RunOption) error {
	id, err := g.conversations.ResolveOrCreate(ctx, msg.Key)
	if err != nil {
		return fmt.Errorf("resolve conversation: %w", err)
	}
	run := NewRun(id, msg)
	for _, opt := range opts {
		opt(run)
	}
	return g.Queue.Enqueue(run)
}

func (g *Gateway) process(run *Run) error {
	ctx := run.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if g.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.runTimeout)
		defer cancel()
	}
	logger := g.logger.With("run_id", string(run.ID), "conversation_id", string(run.ConversationID))

	store := g.histories.History(run.ConversationID)
	msg := run.Message
	if err := store.OutputEvent(ctx, g.gen.ParticipantUtterance(msg.UserName, msg.Text, msg.Attachments...)); err != nil {
		return fmt.Errorf("record participant message: %w", err)
	}
	before, err := store.GetHistory(ctx)
	if err != nil {
		return fmt.Errorf("get history: %w", err)
	}

	spec := g.spec
	onMax := spec.OnMaxIterationsReached
	spec.OnMaxIterationsReached = func() {
		logger.Warn("run stopped at iteration cap")
		if onMax != nil {
			onMax()
		}
	}

	runner := agent.New(g.caller, store, agent.WithLogger(logger), agent.WithGenerator(g.gen))
	if err := runner.Run(ctx, spec); err != nil {
		return fmt.Errorf("run agent: %w", err)
	}

	after, err := store.GetHistory(ctx)
	if err != nil {
		return fmt.Errorf("get history: %w", err)
	}
	if run.OnReply != nil && len(after) >= len(before) {
		for _, e := range after[len(before):] {
			if u, ok := e.(history.OwnUtterance); ok && u.Text != "" {
				run.OnReply(u.Text)
			}
		}
	}

	conv, err := g.conversations.Get(ctx, run.ConversationID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	conv.LastRunID = run.ID
	conv.Events = len(after)
	conv.UpdatedAt = time.Now()
	if err := g.conversations.Update(ctx, conv); err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	logger.Info("run complete", "events", len(after))
	return nil
}
