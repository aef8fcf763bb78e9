package llm

import (
	"encoding/json"
	"strings"

	"github.com/user/agentloop/pkg/history"
)

// PartKind tags one piece of provider output.
type PartKind string

const (
	PartText         PartKind = "text"
	PartThought      PartKind = "thought"
	PartFunctionCall PartKind = "function_call"
	PartInlineData   PartKind = "inline_data"
	PartFileData     PartKind = "file_data"
)

// Part is a provider-neutral piece of model output.
type Part struct {
	Kind      PartKind
	Text      string
	Name      string
	Arguments json.RawMessage
	MimeType  string
	Data      string
	FileURI   string
	// Signature is the provider's continuation token for this part.
	Signature string
}

// MapParts converts the parts of one response into history events.
//
// Consecutive text and media parts are merged into one own_utterance,
// thoughts become own_thought and function calls become tool_call in order.
// A response without a tool call and without non-empty text or media maps
// to exactly one do_nothing carrying meta.
func MapParts(parts []Part, gen history.Generator, meta history.Metadata) []history.Event {
	var (
		out       []history.Event
		text      strings.Builder
		atts      []history.Attachment
		signature string
		leftover  string
		spoke     bool
		called    bool
	)

	withSig := func(sig string) *history.Metadata {
		m := meta
		if sig != "" {
			m.Signature = sig
		}
		return &m
	}

	flush := func() {
		body := strings.TrimSpace(text.String())
		if body == "" && len(atts) == 0 {
			if signature != "" {
				leftover = signature
			}
			text.Reset()
			signature = ""
			return
		}
		out = append(out, gen.OwnUtterance(body, withSig(signature), atts...))
		spoke = true
		text.Reset()
		atts = nil
		signature = ""
	}

	for _, p := range parts {
		switch p.Kind {
		case PartText:
			text.WriteString(p.Text)
			if signature == "" {
				signature = p.Signature
			}
		case PartInlineData:
			atts = append(atts, history.InlineAttachment(p.MimeType, p.Data, ""))
		case PartFileData:
			atts = append(atts, history.FileAttachment(p.MimeType, p.FileURI, ""))
		case PartThought:
			flush()
			if strings.TrimSpace(p.Text) != "" {
				out = append(out, gen.OwnThought(p.Text))
			}
		case PartFunctionCall:
			flush()
			out = append(out, gen.ToolUse(p.Name, p.Arguments, withSig(p.Signature)))
			called = true
		}
	}
	flush()

	if !spoke && !called {
		out = append(out, gen.DoNothing(withSig(leftover)))
	}
	return out
}
