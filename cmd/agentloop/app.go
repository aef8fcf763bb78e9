package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/user/agentloop/internal/agent"
	"github.com/user/agentloop/internal/cache"
	"github.com/user/agentloop/internal/config"
	"github.com/user/agentloop/internal/secret"
	"github.com/user/agentloop/internal/state"
	"github.com/user/agentloop/internal/telemetry"
	"github.com/user/agentloop/internal/tool"
	"github.com/user/agentloop/internal/tool/builtin"
	"github.com/user/agentloop/internal/types"
	"github.com/user/agentloop/pkg/llm"
	"github.com/user/agentloop/pkg/llm/gemini"
	"github.com/user/agentloop/pkg/llm/openai"
	"github.com/user/agentloop/pkg/llm/recovery"
)

// app holds the components shared by the run and serve commands.
type app struct {
	cfg           *config.Config
	logger        *slog.Logger
	histories     types.HistoryBackend
	conversations types.ConversationStore
	caller        llm.Caller
	spec          agent.Spec
	closers       []func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	a := &app{
		cfg:           cfg,
		logger:        logger,
		conversations: state.NewConversationIndex(cfg.DataDir),
	}

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		ServiceName:    "agentloop",
		ServiceVersion: version,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdown)

	switch cfg.Storage {
	case config.StorageSQLite:
		db, err := state.OpenSQLite(ctx, sqlitePath(cfg.DataDir))
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return db.Close() })
		a.histories = db
	default:
		a.histories = state.NewFileStore(cfg.DataDir)
	}

	caller, err := newCaller(cfg, logger)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.caller = caller
	a.spec = buildSpec(cfg)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newCaller(cfg *config.Config, logger *slog.Logger) (llm.Caller, error) {
	llmCfg := llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		LightModel:  cfg.LLM.LightModel,
		ImageModel:  cfg.LLM.ImageModel,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}

	var (
		base    llm.Caller
		resolve func(llm.Request) string
	)
	switch cfg.LLM.Provider {
	case config.ProviderOpenAI:
		if llmCfg.BaseURL == "" {
			llmCfg.BaseURL = "https://api.openai.com/v1"
		}
		if llmCfg.Model == "" {
			llmCfg.Model = "gpt-4o"
		}
		opts := []openai.Option{openai.WithLogger(logger)}
		if cfg.LLM.MaxContextTokens > 0 {
			budget, err := openai.NewBudget(llmCfg.Model, cfg.LLM.MaxContextTokens, cfg.LLM.OutputReserve)
			if err != nil {
				return nil, fmt.Errorf("create token budget: %w", err)
			}
			opts = append(opts, openai.WithBudget(budget))
		}
		client := openai.New(llmCfg, opts...)
		base, resolve = client, client.Model
	default:
		secret.Default.Inject(cfg.LLM.APIKey)
		client := gemini.New(llmCfg, gemini.WithAPIKeyFunc(secret.Default.Get), gemini.WithLogger(logger))
		base, resolve = client, client.Model
	}

	wrapped := recovery.Wrap(base,
		recovery.WithMaxAttempts(cfg.LLM.MaxAttempts),
		recovery.WithModelResolver(resolve),
		recovery.WithLogger(logger),
	)
	c := cache.PassThrough
	if cfg.LLM.Cache {
		c = cache.Make("model:" + cfg.LLM.Provider)
	}
	return cache.Caller(wrapped, c), nil
}

func buildSpec(cfg *config.Config) agent.Spec {
	var search *builtin.Search
	if cfg.Brave.APIKey != "" {
		search = builtin.NewSearch(cfg.Brave.APIKey)
	}
	memory := builtin.NewMemory(filepath.Join(cfg.DataDir, "memory.md"))

	return agent.Spec{
		Tools:           []tool.Tool{builtin.Bash()},
		Skills:          []tool.Skill{builtin.WebSkill(search), builtin.MemorySkill(memory)},
		Prompt:          cfg.Prompt,
		MaxIterations:   cfg.MaxIterations,
		TimezoneIANA:    cfg.Timezone,
		MaxOutputTokens: cfg.LLM.MaxTokens,
		Parallel:        cfg.ParallelTools,
	}
}

func sqlitePath(dataDir string) string {
	return filepath.Join(dataDir, "history.db")
}

func (a *app) runTimeout() time.Duration {
	return time.Duration(a.cfg.RunTimeoutSeconds) * time.Second
}
