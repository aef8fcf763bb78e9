package history

// FilterOrphanToolResults drops tool_result events that cannot be paired
// with a tool_call.
//
// Results carrying a ToolCallID are matched strictly: they are kept when a
// call with that id exists, and that call is claimed. Results without an id
// are matched by the legacy rule: the earliest unclaimed call that precedes
// the result, has the same name and a timestamp not after the result's. The legacy rule is a
// heuristic and can pair the wrong call when the same tool was called
// several times concurrently.
func FilterOrphanToolResults(events []Event) []Event {
	calls := make(map[string]int)
	for i, e := range events {
		if tc, ok := e.(ToolCall); ok {
			calls[tc.ID] = i
		}
	}

	claimed := make(map[int]bool)
	keep := make([]bool, len(events))
	for i, e := range events {
		tr, ok := e.(ToolResult)
		if !ok {
			keep[i] = true
			continue
		}
		if tr.ToolCallID == "" {
			continue
		}
		if idx, found := calls[tr.ToolCallID]; found {
			claimed[idx] = true
			keep[i] = true
		}
	}

	for i, e := range events {
		tr, ok := e.(ToolResult)
		if !ok || tr.ToolCallID != "" {
			continue
		}
		for j, c := range events {
			tc, isCall := c.(ToolCall)
			if !isCall || j >= i || claimed[j] || tc.Name != tr.Name || tc.Timestamp > tr.Timestamp {
				continue
			}
			claimed[j] = true
			keep[i] = true
			break
		}
	}

	out := make([]Event, 0, len(events))
	for i, e := range events {
		if keep[i] {
			out = append(out, e)
		}
	}
	return out
}
