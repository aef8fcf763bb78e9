package openai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/user/agentloop/pkg/history"
	"github.com/user/agentloop/pkg/llm"
)

// buildMessages maps history to chat messages. Every assistant tool call is
// answered by exactly one tool message, as the API requires.
func buildMessages(prompt string, events []history.Event) []message {
	var msgs []message
	if prompt != "" {
		msgs = append(msgs, message{Role: "system", Content: prompt})
	}

	var pending []toolCall
	answered := make(map[string]bool)
	closePending := func() {
		for _, tc := range pending {
			if !answered[tc.ID] {
				msgs = append(msgs, message{Role: "tool", ToolCallID: tc.ID, Content: "(no result recorded)"})
			}
		}
		pending = nil
	}

	for _, turn := range llm.EnsureParticipantFirst(llm.GroupTurns(events)) {
		switch turn.Role {
		case llm.RoleTool:
			for _, e := range turn.Events {
				tr := e.(history.ToolResult)
				id := tr.ToolCallID
				if id == "" {
					id = claimLegacy(pending, answered, tr.Name)
				}
				if id == "" || answered[id] {
					continue
				}
				answered[id] = true
				msgs = append(msgs, message{Role: "tool", ToolCallID: id, Content: resultText(tr)})
			}
		case llm.RoleModel:
			closePending()
			msg := assistantMessage(turn.Events)
			if msg.Content == nil && len(msg.ToolCalls) == 0 {
				continue
			}
			pending = msg.ToolCalls
			msgs = append(msgs, msg)
		default:
			closePending()
			for _, e := range turn.Events {
				msgs = append(msgs, participantMessage(e))
			}
		}
	}
	closePending()
	return msgs
}

// claimLegacy pairs a result without call id with the earliest unanswered
// pending call of the same name.
func claimLegacy(pending []toolCall, answered map[string]bool, name string) string {
	for _, tc := range pending {
		if tc.Function.Name == name && !answered[tc.ID] {
			return tc.ID
		}
	}
	return ""
}

func assistantMessage(events []history.Event) message {
	var text []string
	msg := message{Role: "assistant"}
	for _, e := range events {
		switch ev := e.(type) {
		case history.OwnUtterance:
			if ev.Text != "" {
				text = append(text, ev.Text)
			}
			text = append(text, attachmentNotes(ev.Attachments)...)
		case history.OwnEditMessage:
			text = append(text, fmt.Sprintf("[edited message %s] %s", ev.OnMessage, ev.Text))
		case history.OwnReaction:
			text = append(text, fmt.Sprintf("[reacted %s to message %s]", ev.Reaction, ev.OnMessage))
		case history.ToolCall:
			msg.ToolCalls = append(msg.ToolCalls, toolCall{
				ID:       ev.ID,
				Type:     "function",
				Function: functionCall{Name: ev.Name, Arguments: string(ev.Parameters)},
			})
		}
	}
	if len(text) > 0 {
		msg.Content = strings.Join(text, "\n")
	}
	return msg
}

func participantMessage(e history.Event) message {
	switch ev := e.(type) {
	case history.ParticipantUtterance:
		return userMessage(speaker(ev.Name, ev.Text), ev.Attachments)
	case history.ParticipantEditMessage:
		return userMessage(fmt.Sprintf("[%s edited message %s] %s", nameOr(ev.Name), ev.OnMessage, ev.Text), ev.Attachments)
	case history.ParticipantReaction:
		return message{Role: "user", Content: fmt.Sprintf("[%s reacted %s to message %s]", nameOr(ev.Name), ev.Reaction, ev.OnMessage)}
	default:
		return message{Role: "user", Content: ""}
	}
}

func userMessage(text string, atts []history.Attachment) message {
	var images []contentPart
	var notes []string
	for _, a := range atts {
		if a.Kind == history.AttachmentInline && strings.HasPrefix(a.MimeType, "image/") {
			images = append(images, contentPart{
				Type:     "image_url",
				ImageURL: &imageURL{URL: "data:" + a.MimeType + ";base64," + a.Data},
			})
			continue
		}
		notes = append(notes, attachmentNotes([]history.Attachment{a})...)
	}
	if len(notes) > 0 {
		text = strings.Join(append([]string{text}, notes...), "\n")
	}
	if len(images) == 0 {
		return message{Role: "user", Content: text}
	}
	parts := append([]contentPart{{Type: "text", Text: text}}, images...)
	return message{Role: "user", Content: parts}
}

func attachmentNotes(atts []history.Attachment) []string {
	var notes []string
	for _, a := range atts {
		ref := a.FileURI
		if ref == "" {
			ref = "inline data"
		}
		note := fmt.Sprintf("[attachment %s: %s]", a.MimeType, ref)
		if a.Caption != "" {
			note += " " + a.Caption
		}
		notes = append(notes, note)
	}
	return notes
}

func resultText(tr history.ToolResult) string {
	notes := attachmentNotes(tr.Attachments)
	if len(notes) == 0 {
		return tr.Result
	}
	return strings.Join(append([]string{tr.Result}, notes...), "\n")
}

func nameOr(name string) string {
	if name == "" {
		return "someone"
	}
	return name
}

func speaker(name, text string) string {
	if name == "" {
		return text
	}
	return name + ": " + text
}

// outputParts converts the first choice to provider-neutral parts.
func outputParts(msg responseMessage) []llm.Part {
	parts := []llm.Part{{Kind: llm.PartText, Text: msg.Content}}
	for _, tc := range msg.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if strings.TrimSpace(tc.Function.Arguments) == "" {
			args = nil
		} else if !json.Valid(args) {
			// keep the malformed text so argument validation can report it
			quoted, _ := json.Marshal(tc.Function.Arguments)
			args = quoted
		}
		parts = append(parts, llm.Part{Kind: llm.PartFunctionCall, Name: tc.Function.Name, Arguments: args})
	}
	return parts
}
