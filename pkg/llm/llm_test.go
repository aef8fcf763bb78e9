package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/agentloop/pkg/history"
)

func testGen() history.Generator {
	n := 0
	start := time.UnixMilli(1_700_000_000_000)
	return history.Generator{
		NewID: func() string {
			n++
			return fmt.Sprintf("ev%d", n)
		},
		Now: func() time.Time { return start.Add(time.Duration(n) * time.Second) },
	}
}

func roles(turns []Turn) []Role {
	out := make([]Role, len(turns))
	for i, t := range turns {
		out[i] = t.Role
	}
	return out
}

func TestGroupTurnsByResponseID(t *testing.T) {
	g := testGen()
	r1 := &history.Metadata{ResponseID: "r1"}
	events := []history.Event{
		g.ParticipantUtterance("alice", "hi"),
		g.ParticipantUtterance("alice", "are you there?"),
		g.OwnUtterance("checking", r1),
		g.ToolUse("search", nil, r1),
		g.ToolUse("lookup", nil, r1),
		g.ToolResult("search", "a", "ev4"),
		g.ToolResult("lookup", "b", "ev5"),
		g.OwnUtterance("done", &history.Metadata{ResponseID: "r2"}),
		g.OwnUtterance("also", &history.Metadata{ResponseID: "r3"}),
	}

	turns := GroupTurns(events)
	assert.Equal(t, []Role{RoleParticipant, RoleParticipant, RoleModel, RoleTool, RoleModel, RoleModel}, roles(turns))
	assert.Len(t, turns[2].Events, 3)
	assert.Len(t, turns[3].Events, 2)
}

func TestEnsureParticipantFirst(t *testing.T) {
	g := testGen()

	t.Run("model opener gets synthetic turn", func(t *testing.T) {
		turns := EnsureParticipantFirst(GroupTurns([]history.Event{g.OwnUtterance("hello", nil)}))
		require.Len(t, turns, 2)
		assert.Equal(t, RoleParticipant, turns[0].Role)
		opener := turns[0].Events[0].(history.ParticipantUtterance)
		assert.Equal(t, ConversationStarted, opener.Text)
	})

	t.Run("tool opener gets synthetic turn", func(t *testing.T) {
		turns := EnsureParticipantFirst(GroupTurns([]history.Event{g.ToolResult("x", "y", "")}))
		assert.Equal(t, []Role{RoleParticipant, RoleTool}, roles(turns))
	})

	t.Run("empty history", func(t *testing.T) {
		turns := EnsureParticipantFirst(nil)
		assert.Equal(t, []Role{RoleParticipant}, roles(turns))
	})

	t.Run("participant opener untouched", func(t *testing.T) {
		in := GroupTurns([]history.Event{g.ParticipantUtterance("a", "hi")})
		assert.Equal(t, in, EnsureParticipantFirst(in))
	})
}

func countType(events []history.Event, typ history.Type) int {
	n := 0
	for _, e := range events {
		if e.Type() == typ {
			n++
		}
	}
	return n
}

func TestMapPartsDoNothing(t *testing.T) {
	meta := history.Metadata{ResponseID: "resp-1", Provider: "test"}
	cases := map[string][]Part{
		"no parts":        nil,
		"blank text":      {{Kind: PartText, Text: "  \n"}},
		"thought only":    {{Kind: PartThought, Text: "nothing to say"}},
		"empty thought":   {{Kind: PartThought}},
		"two blank texts": {{Kind: PartText}, {Kind: PartText, Text: " "}},
	}
	for name, parts := range cases {
		t.Run(name, func(t *testing.T) {
			out := MapParts(parts, testGen(), meta)
			require.Equal(t, 1, countType(out, history.TypeDoNothing))
			last := out[len(out)-1].(history.DoNothing)
			assert.Equal(t, "resp-1", last.ModelMetadata.ResponseID)
			assert.True(t, last.IsOwn())
			assert.Zero(t, countType(out, history.TypeOwnUtterance))
		})
	}
}

func TestMapPartsKeepsSignatureOnDoNothing(t *testing.T) {
	out := MapParts([]Part{{Kind: PartText, Text: "", Signature: "sig-1"}}, testGen(), history.Metadata{})
	require.Len(t, out, 1)
	assert.Equal(t, "sig-1", out[0].(history.DoNothing).ModelMetadata.Signature)
}

func TestMapPartsMergesTextAndMedia(t *testing.T) {
	parts := []Part{
		{Kind: PartText, Text: "Here is "},
		{Kind: PartText, Text: "a picture"},
		{Kind: PartInlineData, MimeType: "image/png", Data: "aGk="},
		{Kind: PartFunctionCall, Name: "search", Arguments: json.RawMessage(`{"q":"go"}`), Signature: "s1"},
		{Kind: PartFunctionCall, Name: "lookup"},
	}
	out := MapParts(parts, testGen(), history.Metadata{ResponseID: "r"})
	require.Len(t, out, 3)

	u := out[0].(history.OwnUtterance)
	assert.Equal(t, "Here is a picture", u.Text)
	require.Len(t, u.Attachments, 1)
	assert.Equal(t, history.AttachmentInline, u.Attachments[0].Kind)

	c1 := out[1].(history.ToolCall)
	assert.Equal(t, "search", c1.Name)
	assert.JSONEq(t, `{"q":"go"}`, string(c1.Parameters))
	assert.Equal(t, "s1", c1.ModelMetadata.Signature)
	assert.Equal(t, "r", c1.ModelMetadata.ResponseID)

	c2 := out[2].(history.ToolCall)
	assert.JSONEq(t, `{}`, string(c2.Parameters))
	assert.Empty(t, c2.ModelMetadata.Signature)
	assert.NotSame(t, c1.ModelMetadata, c2.ModelMetadata)
	assert.Zero(t, countType(out, history.TypeDoNothing))
}

func TestMapPartsMediaOnlyIsAnUtterance(t *testing.T) {
	out := MapParts([]Part{{Kind: PartFileData, MimeType: "image/jpeg", FileURI: "files/img1"}}, testGen(), history.Metadata{})
	require.Len(t, out, 1)
	u := out[0].(history.OwnUtterance)
	assert.Empty(t, u.Text)
	assert.Equal(t, "files/img1", u.Attachments[0].FileURI)
}

func TestMapPartsThoughtBeforeCall(t *testing.T) {
	out := MapParts([]Part{
		{Kind: PartThought, Text: "I should search"},
		{Kind: PartFunctionCall, Name: "search"},
	}, testGen(), history.Metadata{})
	assert.Equal(t, history.TypeOwnThought, out[0].Type())
	assert.Equal(t, history.TypeToolCall, out[1].Type())
	assert.Len(t, out, 2)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&APIError{StatusCode: 503}))
	assert.True(t, IsTransient(fmt.Errorf("call: %w", &APIError{StatusCode: 500})))
	assert.False(t, IsTransient(&APIError{StatusCode: 429}))
	assert.False(t, IsTransient(&APIError{StatusCode: 400}))
	assert.False(t, IsTransient(fmt.Errorf("dial tcp: refused")))
}

func TestFileError(t *testing.T) {
	cases := []struct {
		msg     string
		code    int
		problem FileProblem
		id      string
	}{
		{"The File 2x8s9qk1 is not in an ACTIVE state and usage is not allowed.", 400, FileProcessing, "2x8s9qk1"},
		{"File https://generativelanguage.googleapis.com/v1beta/files/abc123 has expired", 400, FileExpired, "abc123"},
		{"The file is expired.", 400, FileExpired, ""},
		{"You do not have permission to access the File 9zz1 or it may not exist.", 403, FilePermissionDenied, "9zz1"},
		{"Permission denied on resource project", 403, FileOK, ""},
		{"Request contains an invalid argument.", 400, FileOK, ""},
	}
	for _, tc := range cases {
		t.Run(tc.msg, func(t *testing.T) {
			problem, id := FileError(&APIError{StatusCode: tc.code, Message: tc.msg})
			assert.Equal(t, tc.problem, problem)
			assert.Equal(t, tc.id, id)
		})
	}

	problem, _ := FileError(fmt.Errorf("file expired"))
	assert.Equal(t, FileOK, problem)
}

func TestUnsupportedMimeType(t *testing.T) {
	mime, ok := UnsupportedMimeType(&APIError{StatusCode: 400, Message: "Unsupported MIME type: video/x-matroska"})
	require.True(t, ok)
	assert.Equal(t, "video/x-matroska", mime)

	mime, ok = UnsupportedMimeType(&APIError{StatusCode: 400, Message: "The mime type application/x-msdownload is not supported"})
	require.True(t, ok)
	assert.Equal(t, "application/x-msdownload", mime)

	_, ok = UnsupportedMimeType(&APIError{StatusCode: 400, Message: "Unsupported MIME type"})
	assert.False(t, ok)
	_, ok = UnsupportedMimeType(&APIError{StatusCode: 500, Message: "internal"})
	assert.False(t, ok)
}

func TestCallerFunc(t *testing.T) {
	var c Caller = CallerFunc(func(_ context.Context, req Request) ([]history.Event, error) {
		return []history.Event{history.Default.OwnUtterance(req.Prompt, nil)}, nil
	})
	out, err := c.CallModel(context.Background(), Request{Prompt: "echo"})
	require.NoError(t, err)
	assert.Equal(t, "echo", out[0].(history.OwnUtterance).Text)
}

func TestFallbackModel(t *testing.T) {
	assert.Equal(t, "gemini-2.5-flash", FallbackModel("gemini-2.5-pro"))
	assert.Equal(t, "gemini-2.5-pro", FallbackModel("gemini-2.5-flash"))
	assert.Equal(t, "gemini-2.5-flash", FallbackModel("gemini-2.5-flash-lite"))
	assert.Equal(t, "gemini-3-flash-preview", FallbackModel("gemini-3-pro-preview"))
	assert.Empty(t, FallbackModel("gpt-4o"))
}
