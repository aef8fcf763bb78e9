package builtin

import "github.com/user/agentloop/internal/tool"

// WebSkill groups page reading and, when search is non-nil, web search.
func WebSkill(search *Search) tool.Skill {
	tools := []tool.Tool{ReadURL(nil)}
	if search != nil {
		tools = append(tools, search.Tool())
	}
	return tool.Skill{
		Name:        "web",
		Description: "Read web pages and search the web",
		Instructions: "Use brave_search to find pages, then read_url to read one as markdown. " +
			"Cite the URLs you relied on.",
		Tools: tools,
	}
}

// MemorySkill exposes long-term memory. Entries are single facts; delete
// needs the exact text that was saved.
func MemorySkill(m *Memory) tool.Skill {
	return tool.Skill{
		Name:         "memory",
		Description:  "Remember and forget facts about the people you talk to",
		Instructions: "Save short standalone facts. List before deleting so the text matches exactly.",
		Tools:        m.Tools(),
	}
}
