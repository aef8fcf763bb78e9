// Package state provides history and conversation storage implementations.
package state

import (
	"errors"

	"github.com/user/agentloop/internal/types"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("state: not found")

// Compile-time interface compliance checks.
var _ types.HistoryStore = (*FileHistory)(nil)
var _ types.HistoryStore = (*SQLiteHistory)(nil)
var _ types.HistoryStore = (*MemoryHistory)(nil)
var _ types.HistoryBackend = (*FileStore)(nil)
var _ types.HistoryBackend = (*SQLiteStore)(nil)
var _ types.ConversationStore = (*ConversationIndex)(nil)
