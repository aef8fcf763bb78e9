package gateway

import (
	"context"
	"time"

	"github.com/user/agentloop/internal/types"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one agent turn triggered by an inbound message.
type Run struct {
	ID             types.RunID
	ConversationID types.ConversationID
	Message        *types.InboundMessage
	Status         RunStatus
	CreatedAt      time.Time
	StartedAt      *time.Time
	EndedAt        *time.Time
	Error          error

	// OnReply receives the text of every own utterance the turn produced,
	// or an apology when the run fails.
	OnReply func(text string)
	// OnDone is called once the run has finished, with its error.
	OnDone func(err error)

	Ctx context.Context
}

// NewRun creates a queued Run for msg.
func NewRun(conversationID types.ConversationID, msg *types.InboundMessage) *Run {
	return &Run{
		ID:             types.NewRunID(),
		ConversationID: conversationID,
		Message:        msg,
		Status:         RunStatusQueued,
		CreatedAt:      time.Now(),
	}
}

func (r *Run) start() {
	now := time.Now()
	r.StartedAt = &now
	r.Status = RunStatusRunning
}

func (r *Run) finish(err error) {
	now := time.Now()
	r.EndedAt = &now
	r.Error = err
	if err != nil {
		r.Status = RunStatusFailed
		return
	}
	r.Status = RunStatusComplete
}
