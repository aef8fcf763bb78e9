// Package agent drives the model/tool loop for one conversation turn.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/user/agentloop/internal/telemetry"
	"github.com/user/agentloop/internal/tool"
	"github.com/user/agentloop/internal/types"
	"github.com/user/agentloop/pkg/history"
	"github.com/user/agentloop/pkg/llm"
)

// DefaultMaxIterations applies when Spec.MaxIterations is not positive.
const DefaultMaxIterations = 25

const instrumentation = "github.com/user/agentloop/internal/agent"

// Spec configures one Run.
type Spec struct {
	Tools  []tool.Tool
	Skills []tool.Skill
	Prompt string

	// MaxIterations caps model calls. Reaching it invokes
	// OnMaxIterationsReached and ends the run without an error.
	MaxIterations          int
	OnMaxIterationsReached func()

	LightModel bool
	ImageGen   bool

	// RewriteHistory persists history repairs. Nil uses the store.
	RewriteHistory llm.RewriteFunc

	// TimezoneIANA names the zone the current time is reported in. Empty
	// means the host's local zone.
	TimezoneIANA    string
	MaxOutputTokens int

	// Parallel runs the tool calls of one model turn concurrently. Results
	// are still appended in call order.
	Parallel bool
}

// Runner executes agent turns against one history.
type Runner struct {
	caller    llm.Caller
	store     types.HistoryStore
	logger    *slog.Logger
	gen       history.Generator
	now       func() time.Time
	tracer    trace.Tracer
	durations metric.Float64Histogram
}

type Option func(*Runner)

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithGenerator sets how tool_result events are stamped.
func WithGenerator(g history.Generator) Option {
	return func(r *Runner) { r.gen = g }
}

// WithClock sets the clock used for the time line of the prompt.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

func New(caller llm.Caller, store types.HistoryStore, opts ...Option) *Runner {
	r := &Runner{
		caller: caller,
		store:  store,
		logger: slog.Default(),
		gen:    history.Default,
		now:    time.Now,
		tracer: telemetry.Tracer(instrumentation),
	}
	for _, o := range opts {
		o(r)
	}
	if hist, err := telemetry.Meter(instrumentation).Float64Histogram("agent.model_call.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Duration of model calls made by the agent loop")); err == nil {
		r.durations = hist
	}
	return r
}

// Run iterates until the model has the last word without requesting a
// tool, or until the iteration cap is reached.
func (r *Runner) Run(ctx context.Context, spec Spec) error {
	registry, err := tool.NewRegistry(append(slices.Clone(spec.Tools), tool.SkillTools(spec.Skills)...)...)
	if err != nil {
		return err
	}
	loc, err := loadLocation(spec.TimezoneIANA)
	if err != nil {
		return err
	}

	decls := registry.Declarations()
	rewrite := spec.RewriteHistory
	if rewrite == nil {
		rewrite = r.store.RewriteHistory
	}
	maxIterations := spec.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	for iteration := 1; ; iteration++ {
		if iteration > maxIterations {
			r.logger.Warn("max iterations reached", "max_iterations", maxIterations)
			if spec.OnMaxIterationsReached != nil {
				spec.OnMaxIterationsReached()
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		events, err := r.store.GetHistory(ctx)
		if err != nil {
			return fmt.Errorf("get history: %w", err)
		}

		out, err := r.callModel(ctx, iteration, llm.Request{
			Prompt:          withCurrentTime(spec.Prompt, r.now().In(loc)),
			Tools:           decls,
			History:         events,
			Rewrite:         rewrite,
			Light:           spec.LightModel,
			ImageGeneration: spec.ImageGen,
			MaxOutputTokens: spec.MaxOutputTokens,
			Location:        loc,
		})
		if err != nil {
			return fmt.Errorf("call model: %w", err)
		}

		for _, e := range out {
			if err := r.store.OutputEvent(ctx, e); err != nil {
				return fmt.Errorf("record %s: %w", e.Type(), err)
			}
		}

		calls := history.ToolCalls(out)
		results, err := r.dispatch(ctx, registry, calls, spec.Parallel)
		if err != nil {
			return err
		}
		for _, res := range results {
			if err := r.store.OutputEvent(ctx, res); err != nil {
				return fmt.Errorf("record tool result: %w", err)
			}
		}

		if len(calls) > 0 {
			continue
		}
		// Handlers and other writers may have appended since the model
		// answered, so decide on the stored history.
		current, err := r.store.GetHistory(ctx)
		if err != nil {
			return fmt.Errorf("get history: %w", err)
		}
		if history.LastIsOwn(current) {
			r.logger.Debug("agent turn complete", "iterations", iteration)
			return nil
		}
	}
}

func (r *Runner) callModel(ctx context.Context, iteration int, req llm.Request) ([]history.Event, error) {
	ctx, span := r.tracer.Start(ctx, "agent.call_model", trace.WithAttributes(
		attribute.Int("agent.iteration", iteration),
		attribute.Int("agent.history_events", len(req.History)),
	))
	defer span.End()

	start := time.Now()
	out, err := r.caller.CallModel(ctx, req)
	elapsed := time.Since(start)

	if r.durations != nil {
		r.durations.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(
			attribute.Bool("light", req.Light),
			attribute.Bool("error", err != nil),
		))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Debug("model call failed", "iteration", iteration, "duration_ms", elapsed.Milliseconds(), "error", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("agent.output_events", len(out)))
	r.logger.Debug("model call", "iteration", iteration, "duration_ms", elapsed.Milliseconds(), "events", len(out))
	return out, nil
}

func (r *Runner) dispatch(ctx context.Context, registry *tool.Registry, calls []history.ToolCall, parallel bool) ([]history.ToolResult, error) {
	results := make([]history.ToolResult, len(calls))
	runOne := func(ctx context.Context, i int) error {
		call := calls[i]
		r.logger.Debug("tool call", "tool", call.Name, "call_id", call.ID)
		out, err := registry.Dispatch(ctx, call)
		if err != nil {
			return err
		}
		results[i] = r.gen.ToolResult(call.Name, out.Result, call.ID, out.Attachments...)
		return nil
	}

	if !parallel || len(calls) < 2 {
		for i := range calls {
			if err := runOne(ctx, i); err != nil {
				return nil, err
			}
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range calls {
		g.Go(func() error { return runOne(gctx, i) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

func withCurrentTime(prompt string, now time.Time) string {
	line := "The current time is " + now.Format("Monday, January 2, 2006 15:04 MST") + "."
	if prompt == "" {
		return line
	}
	return prompt + "\n\n" + line
}
