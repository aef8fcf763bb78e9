package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	RunCommandName = "run_command"
	LearnSkillName = "learn_skill"
)

// Skill is a named group of tools the model discovers on demand. Its tools
// are not callable directly, only through run_command.
type Skill struct {
	Name         string
	Description  string
	Instructions string
	Tools        []Tool
}

type learnSkillParams struct {
	SkillName string `json:"skillName" jsonschema:"description=Name of the skill to learn"`
}

type skillToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type skillInfo struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Instructions string          `json:"instructions"`
	Tools        []skillToolInfo `json:"tools"`
}

var runCommandSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "command": {"type": "string", "description": "Tool to run, as skillName/toolName"},
    "params": {"type": "object", "description": "Parameters for the tool, as described by learn_skill"}
  },
  "required": ["command"],
  "additionalProperties": false
}`)

// SkillTools returns the run_command and learn_skill tools for skills, or
// nil when there are no skills.
func SkillTools(skills []Skill) []Tool {
	if len(skills) == 0 {
		return nil
	}
	byName := make(map[string]Skill, len(skills))
	var listing strings.Builder
	for _, s := range skills {
		byName[s.Name] = s
		fmt.Fprintf(&listing, "\n- %s: %s", s.Name, s.Description)
	}
	available := skillNames(skills)

	learn := Func(LearnSkillName,
		"Learn what a skill does and which tools it offers. Available skills:"+listing.String(),
		func(_ context.Context, p learnSkillParams) (any, error) {
			s, ok := byName[p.SkillName]
			if !ok {
				return fmt.Sprintf("Skill %s not found. Available skills: %s", p.SkillName, available), nil
			}
			return describeSkill(s)
		})

	runCommand := Raw(RunCommandName,
		"Run a tool that belongs to a skill. Call learn_skill first to see the skill's tools and their parameters.",
		runCommandSchema,
		func(ctx context.Context, args map[string]any) (any, error) {
			command, _ := args["command"].(string)
			skillName, toolName, ok := strings.Cut(command, "/")
			if !ok || skillName == "" || toolName == "" || strings.Contains(toolName, "/") {
				return fmt.Sprintf("Invalid command %q: expected skillName/toolName", command), nil
			}
			s, found := byName[skillName]
			if !found {
				return fmt.Sprintf("Skill %s not found. Available skills: %s", skillName, available), nil
			}
			t, found := find(s.Tools, toolName)
			if !found {
				return fmt.Sprintf("Tool %s not found in skill %s. Available tools: %s", toolName, skillName, names(s.Tools)), nil
			}

			var params json.RawMessage
			if v, present := args["params"]; present {
				b, err := json.Marshal(v)
				if err != nil {
					return fmt.Sprintf("Invalid arguments for tool %s: %v", command, err), nil
				}
				params = b
			}
			return run(ctx, t, command, params, true)
		})

	return []Tool{runCommand, learn}
}

func describeSkill(s Skill) (string, error) {
	info := skillInfo{
		Name:         s.Name,
		Description:  s.Description,
		Instructions: s.Instructions,
		Tools:        make([]skillToolInfo, len(s.Tools)),
	}
	for i, t := range s.Tools {
		info.Tools[i] = skillToolInfo{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.schema().JSONSchema(),
		}
	}
	b, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("encode skill %s: %w", s.Name, err)
	}
	return string(b), nil
}

func skillNames(skills []Skill) string {
	out := make([]string, len(skills))
	for i, s := range skills {
		out[i] = s.Name
	}
	return strings.Join(out, ", ")
}
