package gemini

import (
	"fmt"

	"github.com/user/agentloop/pkg/history"
	"github.com/user/agentloop/pkg/llm"
)

func wireRole(r llm.Role) string {
	if r == llm.RoleModel {
		return "model"
	}
	return "user"
}

// buildContents maps history to generateContent contents. Tool results
// without a matching call are dropped; the API rejects a functionResponse
// it cannot pair. Turns that land on the same wire role are merged since
// the API expects alternation.
func buildContents(events []history.Event) []content {
	turns := llm.EnsureParticipantFirst(llm.GroupTurns(history.FilterOrphanToolResults(events)))
	var out []content
	for _, turn := range turns {
		var parts []part
		for _, e := range turn.Events {
			parts = append(parts, eventParts(e)...)
		}
		if len(parts) == 0 {
			continue
		}
		role := wireRole(turn.Role)
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Parts = append(out[n-1].Parts, parts...)
			continue
		}
		out = append(out, content{Role: role, Parts: parts})
	}
	return out
}

func signatureOf(e history.Event) string {
	if m := history.ModelMetadataOf(e); m != nil {
		return m.Signature
	}
	return ""
}

func eventParts(e history.Event) []part {
	var parts []part
	switch ev := e.(type) {
	case history.ParticipantUtterance:
		parts = append(parts, textPart(speaker(ev.Name, ev.Text)))
		parts = append(parts, attachmentParts(ev.Attachments)...)
	case history.OwnUtterance:
		if ev.Text != "" {
			parts = append(parts, textPart(ev.Text))
		}
		parts = append(parts, attachmentParts(ev.Attachments)...)
	case history.ParticipantEditMessage:
		parts = append(parts, textPart(fmt.Sprintf("[%s edited message %s] %s", nameOr(ev.Name), ev.OnMessage, ev.Text)))
		parts = append(parts, attachmentParts(ev.Attachments)...)
	case history.OwnEditMessage:
		parts = append(parts, textPart(fmt.Sprintf("[edited message %s] %s", ev.OnMessage, ev.Text)))
		parts = append(parts, attachmentParts(ev.Attachments)...)
	case history.ParticipantReaction:
		parts = append(parts, textPart(fmt.Sprintf("[%s reacted %s to message %s]", nameOr(ev.Name), ev.Reaction, ev.OnMessage)))
	case history.OwnReaction:
		parts = append(parts, textPart(fmt.Sprintf("[reacted %s to message %s]", ev.Reaction, ev.OnMessage)))
	case history.ToolCall:
		parts = append(parts, part{FunctionCall: &functionCall{ID: ev.ID, Name: ev.Name, Args: ev.Parameters}})
	case history.ToolResult:
		parts = append(parts, part{FunctionResponse: &functionResponse{
			ID:       ev.ToolCallID,
			Name:     ev.Name,
			Response: map[string]any{"result": ev.Result},
		}})
		parts = append(parts, attachmentParts(ev.Attachments)...)
	case history.OwnThought:
		parts = append(parts, textPart("(private reasoning, not shown to anyone) "+ev.Text))
	case history.DoNothing:
		// nothing was said
	}
	if sig := signatureOf(e); sig != "" && len(parts) > 0 {
		parts[0].ThoughtSignature = sig
	}
	return parts
}

func textPart(text string) part { return part{Text: text} }

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

func attachmentParts(atts []history.Attachment) []part {
	var parts []part
	for _, a := range atts {
		switch a.Kind {
		case history.AttachmentInline:
			parts = append(parts, part{InlineData: &blob{MimeType: a.MimeType, Data: a.Data}})
		case history.AttachmentFile:
			parts = append(parts, part{FileData: &fileData{MimeType: a.MimeType, FileURI: a.FileURI}})
		}
		if a.Caption != "" {
			parts = append(parts, textPart("(caption) "+a.Caption))
		}
	}
	return parts
}

// outputParts converts a candidate's parts to provider-neutral parts.
func outputParts(parts []part) []llm.Part {
	out := make([]llm.Part, 0, len(parts))
	for _, p := range parts {
		switch {
		case p.FunctionCall != nil:
			out = append(out, llm.Part{
				Kind:      llm.PartFunctionCall,
				Name:      p.FunctionCall.Name,
				Arguments: p.FunctionCall.Args,
				Signature: p.ThoughtSignature,
			})
		case p.InlineData != nil:
			out = append(out, llm.Part{Kind: llm.PartInlineData, MimeType: p.InlineData.MimeType, Data: p.InlineData.Data, Signature: p.ThoughtSignature})
		case p.FileData != nil:
			out = append(out, llm.Part{Kind: llm.PartFileData, MimeType: p.FileData.MimeType, FileURI: p.FileData.FileURI, Signature: p.ThoughtSignature})
		case p.Thought:
			out = append(out, llm.Part{Kind: llm.PartThought, Text: p.Text, Signature: p.ThoughtSignature})
		default:
			out = append(out, llm.Part{Kind: llm.PartText, Text: p.Text, Signature: p.ThoughtSignature})
		}
	}
	return out
}
