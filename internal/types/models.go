// internal/types/models.go
package types

import (
	"time"

	"github.com/user/agentloop/pkg/history"
)

// Conversation is the index entry of one stored history.
type Conversation struct {
	ID        ConversationID  `json:"id"`
	Key       ConversationKey `json:"key"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	LastRunID RunID           `json:"last_run_id,omitempty"`
	Events    int             `json:"events"`
}

// InboundMessage is a participant message arriving from a front end.
type InboundMessage struct {
	Source      string               `json:"source"`
	Key         ConversationKey      `json:"key"`
	UserName    string               `json:"user_name"`
	Text        string               `json:"text"`
	Attachments []history.Attachment `json:"attachments,omitempty"`
}
