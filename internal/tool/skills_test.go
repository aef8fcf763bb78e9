package tool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func webSkill() Skill {
	return Skill{
		Name:         "web",
		Description:  "Browse the web",
		Instructions: "Search first, then fetch.",
		Tools: []Tool{
			Func("search", "Searches", func(_ context.Context, p echoParams) (any, error) {
				return "results for " + p.Text, nil
			}),
		},
	}
}

func TestSkillToolsEmpty(t *testing.T) {
	assert.Nil(t, SkillTools(nil))
}

func TestSkillIsolation(t *testing.T) {
	ctx := context.Background()
	tools := append([]Tool{echoTool()}, SkillTools([]Skill{webSkill()})...)
	require.NoError(t, CheckUnique(tools))

	out, err := Dispatch(ctx, tools, call("search", `{"text":"go"}`))
	require.NoError(t, err)
	assert.Contains(t, out.Result, "Tool search not found.")

	out, err = Dispatch(ctx, tools, call(RunCommandName, `{"command":"web/search","params":{"text":"go"}}`))
	require.NoError(t, err)
	assert.Equal(t, "results for go", out.Result)
}

func TestRunCommandErrors(t *testing.T) {
	ctx := context.Background()
	tools := SkillTools([]Skill{webSkill()})

	cases := map[string]string{
		`{"command":"search"}`:                                  `Invalid command "search": expected skillName/toolName`,
		`{"command":"web/"}`:                                    `Invalid command "web/": expected skillName/toolName`,
		`{"command":"a/b/c"}`:                                   `Invalid command "a/b/c": expected skillName/toolName`,
		`{"command":"mail/send"}`:                               `Skill mail not found. Available skills: web`,
		`{"command":"web/fetch"}`:                               `Tool fetch not found in skill web. Available tools: search`,
		`{"command":"web/search"}`:                              `Invalid arguments for tool web/search: missing required argument "text"`,
		`{"command":"web/search","params":{"text":"a","x":1}}`: `Invalid arguments for tool web/search: json: unknown field "x"`,
		`{}`: `Invalid arguments for tool run_command: missing required argument "command"`,
	}
	for args, want := range cases {
		t.Run(args, func(t *testing.T) {
			out, err := Dispatch(ctx, tools, call(RunCommandName, args))
			require.NoError(t, err)
			assert.Equal(t, want, out.Result)
		})
	}
}

func TestLearnSkill(t *testing.T) {
	ctx := context.Background()
	skill := webSkill()
	tools := SkillTools([]Skill{skill})

	out, err := Dispatch(ctx, tools, call(LearnSkillName, `{"skillName":"web"}`))
	require.NoError(t, err)

	var info struct {
		Name         string `json:"name"`
		Description  string `json:"description"`
		Instructions string `json:"instructions"`
		Tools        []struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			Parameters  json.RawMessage `json:"parameters"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal([]byte(out.Result), &info))
	assert.Equal(t, "web", info.Name)
	assert.Equal(t, "Search first, then fetch.", info.Instructions)
	require.Len(t, info.Tools, 1)
	assert.Equal(t, "search", info.Tools[0].Name)
	assert.JSONEq(t, string(skill.Tools[0].Declaration().Parameters), string(info.Tools[0].Parameters))

	out, err = Dispatch(ctx, tools, call(LearnSkillName, `{"skillName":"mail"}`))
	require.NoError(t, err)
	assert.Equal(t, "Skill mail not found. Available skills: web", out.Result)
}

func TestRunCommandDescriptionListsSkills(t *testing.T) {
	tools := SkillTools([]Skill{webSkill()})
	require.Len(t, tools, 2)
	assert.Equal(t, RunCommandName, tools[0].Name)
	assert.Contains(t, tools[1].Description, "- web: Browse the web")
}
