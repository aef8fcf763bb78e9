// internal/types/interfaces.go
package types

import (
	"context"

	"github.com/user/agentloop/pkg/history"
)

// HistoryStore is the source of truth for one conversation's history.
type HistoryStore interface {
	GetHistory(ctx context.Context) ([]history.Event, error)
	OutputEvent(ctx context.Context, event history.Event) error
	// RewriteHistory replaces events by id. Ids that are not present are
	// ignored.
	RewriteHistory(ctx context.Context, replacements map[string]history.Event) error
}

// HistoryBackend opens per-conversation history stores.
type HistoryBackend interface {
	History(id ConversationID) HistoryStore
}

type ConversationStore interface {
	ResolveOrCreate(ctx context.Context, key ConversationKey) (ConversationID, error)
	Get(ctx context.Context, id ConversationID) (*Conversation, error)
	List(ctx context.Context) ([]*Conversation, error)
	Update(ctx context.Context, conv *Conversation) error
}
