// Package history defines the conversation event model shared by the agent
// loop, the model adapters and the history stores.
//
// Event is a closed sum type: only the ten variants declared here implement
// it. Code that switches over events must handle every variant and fail on
// anything else.
package history

import "encoding/json"

// Type discriminates the event variants on the wire and in storage.
type Type string

const (
	TypeParticipantUtterance Type = "participant_utterance"
	TypeOwnUtterance         Type = "own_utterance"
	TypeParticipantEdit      Type = "participant_edit_message"
	TypeOwnEdit              Type = "own_edit_message"
	TypeParticipantReaction  Type = "participant_reaction"
	TypeOwnReaction          Type = "own_reaction"
	TypeToolCall             Type = "tool_call"
	TypeToolResult           Type = "tool_result"
	TypeOwnThought           Type = "own_thought"
	TypeDoNothing            Type = "do_nothing"
)

// Event is one immutable record of something that happened in a conversation.
type Event interface {
	Type() Type
	EventID() string
	Time() int64
	IsOwn() bool

	sealed()
}

// Base holds the fields every variant carries.
type Base struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"` // epoch millis
	Own       bool   `json:"isOwn"`
}

func (b Base) EventID() string { return b.ID }
func (b Base) Time() int64     { return b.Timestamp }
func (b Base) IsOwn() bool     { return b.Own }

// Metadata is opaque per-provider data attached to model-authored events.
// ResponseID groups the events produced by one model invocation.
type Metadata struct {
	ResponseID string          `json:"responseId,omitempty"`
	Provider   string          `json:"provider,omitempty"`
	Signature  string          `json:"signature,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

type ParticipantUtterance struct {
	Base
	Name        string       `json:"name"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type OwnUtterance struct {
	Base
	Text          string       `json:"text"`
	Attachments   []Attachment `json:"attachments,omitempty"`
	ModelMetadata *Metadata    `json:"modelMetadata,omitempty"`
}

type ParticipantEditMessage struct {
	Base
	Name        string       `json:"name"`
	Text        string       `json:"text"`
	OnMessage   string       `json:"onMessage"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type OwnEditMessage struct {
	Base
	Text          string       `json:"text"`
	OnMessage     string       `json:"onMessage"`
	Attachments   []Attachment `json:"attachments,omitempty"`
	ModelMetadata *Metadata    `json:"modelMetadata,omitempty"`
}

type ParticipantReaction struct {
	Base
	Name      string `json:"name"`
	Reaction  string `json:"reaction"`
	OnMessage string `json:"onMessage"`
}

type OwnReaction struct {
	Base
	Reaction      string    `json:"reaction"`
	OnMessage     string    `json:"onMessage"`
	ModelMetadata *Metadata `json:"modelMetadata,omitempty"`
}

// ToolCall records the agent invoking a tool. Parameters holds the raw
// JSON arguments as produced by the model.
type ToolCall struct {
	Base
	Name          string          `json:"name"`
	Parameters    json.RawMessage `json:"parameters"`
	ModelMetadata *Metadata       `json:"modelMetadata,omitempty"`
}

// ToolResult records the outcome of a tool invocation. ToolCallID is empty
// for results written before call ids were threaded through.
type ToolResult struct {
	Base
	Name        string       `json:"name"`
	Result      string       `json:"result"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ToolCallID  string       `json:"toolCallId,omitempty"`
}

// OwnThought is private reasoning: hidden from participants, visible to the model.
type OwnThought struct {
	Base
	Text string `json:"text"`
}

// DoNothing marks a model turn that deliberately produced no response.
type DoNothing struct {
	Base
	ModelMetadata *Metadata `json:"modelMetadata,omitempty"`
}

func (ParticipantUtterance) Type() Type   { return TypeParticipantUtterance }
func (OwnUtterance) Type() Type           { return TypeOwnUtterance }
func (ParticipantEditMessage) Type() Type { return TypeParticipantEdit }
func (OwnEditMessage) Type() Type         { return TypeOwnEdit }
func (ParticipantReaction) Type() Type    { return TypeParticipantReaction }
func (OwnReaction) Type() Type            { return TypeOwnReaction }
func (ToolCall) Type() Type               { return TypeToolCall }
func (ToolResult) Type() Type             { return TypeToolResult }
func (OwnThought) Type() Type             { return TypeOwnThought }
func (DoNothing) Type() Type              { return TypeDoNothing }

func (ParticipantUtterance) sealed()   {}
func (OwnUtterance) sealed()           {}
func (ParticipantEditMessage) sealed() {}
func (OwnEditMessage) sealed()         {}
func (ParticipantReaction) sealed()    {}
func (OwnReaction) sealed()            {}
func (ToolCall) sealed()               {}
func (ToolResult) sealed()             {}
func (OwnThought) sealed()             {}
func (DoNothing) sealed()              {}

// ModelMetadataOf returns the provider metadata carried by e, or nil.
func ModelMetadataOf(e Event) *Metadata {
	switch ev := e.(type) {
	case OwnUtterance:
		return ev.ModelMetadata
	case OwnEditMessage:
		return ev.ModelMetadata
	case OwnReaction:
		return ev.ModelMetadata
	case ToolCall:
		return ev.ModelMetadata
	case DoNothing:
		return ev.ModelMetadata
	}
	return nil
}

// LastIsOwn reports whether the most recent event was authored by the agent.
func LastIsOwn(events []Event) bool {
	if len(events) == 0 {
		return false
	}
	return events[len(events)-1].IsOwn()
}

// ToolCalls returns the tool_call events of events in order.
func ToolCalls(events []Event) []ToolCall {
	var out []ToolCall
	for _, e := range events {
		if tc, ok := e.(ToolCall); ok {
			out = append(out, tc)
		}
	}
	return out
}

// Replace returns a copy of events with every event whose id is a key of
// replacements swapped for the mapped event. Ids not present are ignored.
func Replace(events []Event, replacements map[string]Event) []Event {
	out := make([]Event, len(events))
	for i, e := range events {
		if r, ok := replacements[e.EventID()]; ok {
			out[i] = r
			continue
		}
		out[i] = e
	}
	return out
}
