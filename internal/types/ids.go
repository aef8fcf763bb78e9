// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

type ConversationKey string
type ConversationID string
type RunID string

func NewConversationID() ConversationID {
	return ConversationID(uuid.New().String())
}

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

func NewConversationKey(parts ...string) ConversationKey {
	return ConversationKey(strings.Join(parts, ":"))
}
