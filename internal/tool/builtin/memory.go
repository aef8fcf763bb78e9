package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/user/agentloop/internal/tool"
)

// Memory is a markdown bullet list of facts the agent keeps across
// conversations.
type Memory struct {
	path string
	mu   sync.Mutex
}

func NewMemory(path string) *Memory {
	return &Memory{path: path}
}

type memoryParams struct {
	Content string `json:"content" jsonschema:"description=The fact or preference to remember or forget"`
}

func (m *Memory) read() ([]string, error) {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read memory: %w", err)
	}
	var lines []string
	for _, l := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

func (m *Memory) write(lines []string) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}
	content := ""
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write memory: %w", err)
	}
	return os.Rename(tmp, m.path)
}

func entry(content string) string {
	return "- " + strings.TrimSpace(content)
}

// Save appends content unless an identical entry exists.
func (m *Memory) Save(content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("content is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	lines, err := m.read()
	if err != nil {
		return "", err
	}
	line := entry(content)
	for _, l := range lines {
		if strings.TrimSpace(l) == line {
			return "Memory already exists: " + content, nil
		}
	}
	if err := m.write(append(lines, line)); err != nil {
		return "", err
	}
	return "Saved: " + content, nil
}

// Delete removes the entry matching content.
func (m *Memory) Delete(content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("content is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	lines, err := m.read()
	if err != nil {
		return "", err
	}
	target := entry(content)
	kept := lines[:0]
	found := false
	for _, l := range lines {
		if strings.TrimSpace(l) == target {
			found = true
			continue
		}
		kept = append(kept, l)
	}
	if !found {
		return "Memory not found: " + content, nil
	}
	if err := m.write(kept); err != nil {
		return "", err
	}
	return "Deleted: " + content, nil
}

// List returns every stored entry.
func (m *Memory) List() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lines, err := m.read()
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "No memories stored yet.", nil
	}
	return strings.Join(lines, "\n"), nil
}

// Tools returns memory_save, memory_delete and memory_list.
func (m *Memory) Tools() []tool.Tool {
	return []tool.Tool{
		tool.Func("memory_save", "Save a fact or preference to persistent memory", func(_ context.Context, p memoryParams) (any, error) {
			return m.Save(p.Content)
		}),
		tool.Func("memory_delete", "Delete a fact or preference from persistent memory", func(_ context.Context, p memoryParams) (any, error) {
			return m.Delete(p.Content)
		}),
		{
			Name:        "memory_list",
			Description: "List all facts and preferences in persistent memory",
			Handler: func(context.Context, any) (any, error) {
				return m.List()
			},
		},
	}
}
