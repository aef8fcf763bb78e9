package history

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Generator stamps ids and timestamps on new events. Zero fields fall back
// to uuid.NewString and time.Now.
type Generator struct {
	NewID func() string
	Now   func() time.Time
}

// Default is the generator used by production code.
var Default = Generator{NewID: uuid.NewString, Now: time.Now}

func (g Generator) base(own bool) Base {
	newID, now := g.NewID, g.Now
	if newID == nil {
		newID = uuid.NewString
	}
	if now == nil {
		now = time.Now
	}
	return Base{ID: newID(), Timestamp: now().UnixMilli(), Own: own}
}

func (g Generator) ParticipantUtterance(name, text string, atts ...Attachment) ParticipantUtterance {
	return ParticipantUtterance{Base: g.base(false), Name: name, Text: text, Attachments: atts}
}

func (g Generator) OwnUtterance(text string, meta *Metadata, atts ...Attachment) OwnUtterance {
	return OwnUtterance{Base: g.base(true), Text: text, Attachments: atts, ModelMetadata: meta}
}

func (g Generator) ParticipantEdit(name, text, onMessage string, atts ...Attachment) ParticipantEditMessage {
	return ParticipantEditMessage{Base: g.base(false), Name: name, Text: text, OnMessage: onMessage, Attachments: atts}
}

func (g Generator) OwnEdit(text, onMessage string, meta *Metadata, atts ...Attachment) OwnEditMessage {
	return OwnEditMessage{Base: g.base(true), Text: text, OnMessage: onMessage, Attachments: atts, ModelMetadata: meta}
}

func (g Generator) ParticipantReaction(name, reaction, onMessage string) ParticipantReaction {
	return ParticipantReaction{Base: g.base(false), Name: name, Reaction: reaction, OnMessage: onMessage}
}

func (g Generator) OwnReaction(reaction, onMessage string, meta *Metadata) OwnReaction {
	return OwnReaction{Base: g.base(true), Reaction: reaction, OnMessage: onMessage, ModelMetadata: meta}
}

// ToolUse builds a tool_call event. Nil parameters are stored as {}.
func (g Generator) ToolUse(name string, params json.RawMessage, meta *Metadata) ToolCall {
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	return ToolCall{Base: g.base(true), Name: name, Parameters: params, ModelMetadata: meta}
}

// ToolResult builds a tool_result event. Results are authored by the
// runtime on the agent's behalf and count as own.
func (g Generator) ToolResult(name, result, toolCallID string, atts ...Attachment) ToolResult {
	return ToolResult{Base: g.base(true), Name: name, Result: result, ToolCallID: toolCallID, Attachments: atts}
}

func (g Generator) OwnThought(text string) OwnThought {
	return OwnThought{Base: g.base(true), Text: text}
}

func (g Generator) DoNothing(meta *Metadata) DoNothing {
	return DoNothing{Base: g.base(true), ModelMetadata: meta}
}
