package history

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrUnknownEvent is returned when an event variant is not recognized.
var ErrUnknownEvent = errors.New("unknown history event")

const (
	fieldOverhead      = 4
	attachmentOverhead = 258
	metadataOverhead   = 16
)

// textTokens is ceil(runes / 4 * 1.3) in integer arithmetic.
func textTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n*13 + 39) / 40
}

func fields(values ...string) int {
	total := 0
	for _, v := range values {
		total += fieldOverhead + textTokens(v)
	}
	return total
}

func attachmentTokens(atts []Attachment) int {
	total := 0
	for _, a := range atts {
		total += attachmentOverhead + textTokens(a.Caption)
	}
	return total
}

func metadataTokens(m *Metadata) int {
	if m == nil {
		return 0
	}
	return metadataOverhead
}

// EstimateTokens returns a provider-agnostic estimate of what e costs in a
// model prompt. It is meant for budget decisions, not billing.
func EstimateTokens(e Event) (int, error) {
	switch ev := e.(type) {
	case ParticipantUtterance:
		return fields(ev.Name, ev.Text) + attachmentTokens(ev.Attachments), nil
	case OwnUtterance:
		return fields(ev.Text) + attachmentTokens(ev.Attachments) + metadataTokens(ev.ModelMetadata), nil
	case ParticipantEditMessage:
		return fields(ev.Name, ev.Text, ev.OnMessage) + attachmentTokens(ev.Attachments), nil
	case OwnEditMessage:
		return fields(ev.Text, ev.OnMessage) + attachmentTokens(ev.Attachments) + metadataTokens(ev.ModelMetadata), nil
	case ParticipantReaction:
		return fields(ev.Name, ev.Reaction, ev.OnMessage), nil
	case OwnReaction:
		return fields(ev.Reaction, ev.OnMessage) + metadataTokens(ev.ModelMetadata), nil
	case ToolCall:
		return fields(ev.Name, string(ev.Parameters)) + metadataTokens(ev.ModelMetadata), nil
	case ToolResult:
		return fields(ev.Name, ev.Result) + attachmentTokens(ev.Attachments), nil
	case OwnThought:
		return fields(ev.Text), nil
	case DoNothing:
		return fieldOverhead + metadataTokens(ev.ModelMetadata), nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnknownEvent, e)
	}
}

// EstimateTotal sums EstimateTokens over events.
func EstimateTotal(events []Event) (int, error) {
	total := 0
	for _, e := range events {
		n, err := EstimateTokens(e)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
