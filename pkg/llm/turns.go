package llm

import "github.com/user/agentloop/pkg/history"

// Role says who authored a turn on the wire.
type Role string

const (
	RoleParticipant Role = "participant"
	RoleModel       Role = "model"
	RoleTool        Role = "tool"
)

// ConversationStarted is the text of the synthetic turn that opens a history
// which would otherwise start with a model or tool turn.
const ConversationStarted = "(conversation started)"

// Turn is a run of events that belong to one logical author turn.
type Turn struct {
	Role   Role
	Events []history.Event
}

// RoleOf reports the wire role of a single event.
func RoleOf(e history.Event) Role {
	switch {
	case e.Type() == history.TypeToolResult:
		return RoleTool
	case e.IsOwn():
		return RoleModel
	default:
		return RoleParticipant
	}
}

func turnKey(e history.Event) string {
	if m := history.ModelMetadataOf(e); m != nil && m.ResponseID != "" {
		return "response:" + m.ResponseID
	}
	return "event:" + e.EventID()
}

// GroupTurns flattens consecutive events that share a response id (or, when
// absent, an event id) and a role into one turn. Tool results that follow
// each other are grouped as well so one model turn's calls are answered
// together.
func GroupTurns(events []history.Event) []Turn {
	var turns []Turn
	lastKey := ""
	for _, e := range events {
		role, key := RoleOf(e), turnKey(e)
		if n := len(turns); n > 0 {
			prev := &turns[n-1]
			if prev.Role == role && (key == lastKey || role == RoleTool) {
				prev.Events = append(prev.Events, e)
				lastKey = key
				continue
			}
		}
		turns = append(turns, Turn{Role: role, Events: []history.Event{e}})
		lastKey = key
	}
	return turns
}

// EnsureParticipantFirst prepends a synthetic participant turn when turns
// is empty or opens with a model or tool turn. The synthetic event is never
// persisted.
func EnsureParticipantFirst(turns []Turn) []Turn {
	if len(turns) > 0 && turns[0].Role == RoleParticipant {
		return turns
	}
	opener := history.ParticipantUtterance{
		Base: history.Base{ID: "conversation-start"},
		Text: ConversationStarted,
	}
	if len(turns) > 0 && len(turns[0].Events) > 0 {
		opener.Timestamp = turns[0].Events[0].Time()
	}
	out := make([]Turn, 0, len(turns)+1)
	out = append(out, Turn{Role: RoleParticipant, Events: []history.Event{opener}})
	return append(out, turns...)
}
