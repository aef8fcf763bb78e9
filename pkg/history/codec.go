package history

import (
	"encoding/json"
	"fmt"
)

// Marshal encodes e as a JSON object with a "type" discriminator next to
// the variant's own fields.
func Marshal(e Event) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil", ErrUnknownEvent)
	}
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.Type(), err)
	}
	typ, err := json.Marshal(e.Type())
	if err != nil {
		return nil, err
	}
	// body is always a non-empty object because Base has no omitempty fields.
	out := make([]byte, 0, len(body)+len(typ)+9)
	out = append(out, `{"type":`...)
	out = append(out, typ...)
	out = append(out, ',')
	out = append(out, body[1:]...)
	return out, nil
}

// Unmarshal decodes an event written by Marshal.
func Unmarshal(data []byte) (Event, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode event type: %w", err)
	}
	switch head.Type {
	case TypeParticipantUtterance:
		return decode[ParticipantUtterance](data)
	case TypeOwnUtterance:
		return decode[OwnUtterance](data)
	case TypeParticipantEdit:
		return decode[ParticipantEditMessage](data)
	case TypeOwnEdit:
		return decode[OwnEditMessage](data)
	case TypeParticipantReaction:
		return decode[ParticipantReaction](data)
	case TypeOwnReaction:
		return decode[OwnReaction](data)
	case TypeToolCall:
		return decode[ToolCall](data)
	case TypeToolResult:
		return decode[ToolResult](data)
	case TypeOwnThought:
		return decode[OwnThought](data)
	case TypeDoNothing:
		return decode[DoNothing](data)
	default:
		return nil, fmt.Errorf("%w: type %q", ErrUnknownEvent, head.Type)
	}
}

func decode[E Event](data []byte) (Event, error) {
	var e E
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", e.Type(), err)
	}
	return e, nil
}

// MarshalList encodes events as a JSON array of envelopes.
func MarshalList(events []Event) ([]byte, error) {
	raw := make([]json.RawMessage, len(events))
	for i, e := range events {
		b, err := Marshal(e)
		if err != nil {
			return nil, err
		}
		raw[i] = b
	}
	return json.Marshal(raw)
}

// UnmarshalList decodes a JSON array written by MarshalList.
func UnmarshalList(data []byte) ([]Event, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode event list: %w", err)
	}
	out := make([]Event, len(raw))
	for i, r := range raw {
		e, err := Unmarshal(r)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		out[i] = e
	}
	return out, nil
}
