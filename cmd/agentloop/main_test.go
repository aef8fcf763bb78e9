package main

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/agentloop/internal/config"
	"github.com/user/agentloop/internal/tool"
	"github.com/user/agentloop/pkg/history"
)

func TestBuildSpecToolNamesAreUnique(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Brave.APIKey = "key"

	spec := buildSpec(cfg)
	r, err := tool.NewRegistry(append(spec.Tools, tool.SkillTools(spec.Skills)...)...)
	require.NoError(t, err)

	var names []string
	for _, d := range r.Declarations() {
		names = append(names, d.Name)
	}
	assert.Contains(t, names, "bash")
	assert.Contains(t, names, "run_command")
	assert.Contains(t, names, "learn_skill")
	assert.NotContains(t, names, "memory_save", "skill tools stay behind run_command")
}

func TestNewAppWithSQLiteStorage(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Storage = config.StorageSQLite
	cfg.LLM.APIKey = "test"

	a, err := newApp(context.Background(), cfg, slog.Default())
	require.NoError(t, err)
	require.NotNil(t, a.caller)
	require.NoError(t, a.Close(context.Background()))
	assert.FileExists(t, sqlitePath(cfg.DataDir))
}

func TestPromptDefaults(t *testing.T) {
	scanner := bufio.NewScanner(strings.NewReader("\nopenai\n"))
	var out bytes.Buffer

	assert.Equal(t, "gemini", prompt(scanner, &out, "Provider", "gemini"))
	assert.Equal(t, "openai", prompt(scanner, &out, "Provider", "gemini"))
	assert.Equal(t, "gemini", prompt(scanner, &out, "Provider", "gemini"), "EOF keeps the default")
	assert.Contains(t, out.String(), "Provider [gemini]: ")
}

func TestSummarize(t *testing.T) {
	gen := history.Default
	assert.Equal(t, "ana: hi", summarize(gen.ParticipantUtterance("ana", "hi")))
	assert.Equal(t, "line one line two", summarize(gen.OwnUtterance("line one\nline two", nil)))

	long := summarize(gen.OwnUtterance(strings.Repeat("é", 200), nil))
	assert.Equal(t, 120, len([]rune(long)))
	assert.True(t, strings.HasSuffix(long, "..."))
}
