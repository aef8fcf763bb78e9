package state

import (
	"context"
	"slices"
	"sync"

	"github.com/user/agentloop/pkg/history"
)

// MemoryHistory is an in-process history, safe for concurrent use.
type MemoryHistory struct {
	mu     sync.RWMutex
	events []history.Event
}

// NewMemoryHistory creates a history holding a copy of events.
func NewMemoryHistory(events ...history.Event) *MemoryHistory {
	return &MemoryHistory{events: slices.Clone(events)}
}

func (m *MemoryHistory) GetHistory(_ context.Context) ([]history.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.events), nil
}

func (m *MemoryHistory) OutputEvent(_ context.Context, event history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryHistory) RewriteHistory(_ context.Context, replacements map[string]history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = history.Replace(m.events, replacements)
	return nil
}
