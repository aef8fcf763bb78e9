package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/agentloop/pkg/history"
	"github.com/user/agentloop/pkg/llm"
)

// scriptedCaller answers each call with the next step.
type scriptedCaller struct {
	mu    sync.Mutex
	steps []func(req llm.Request) ([]history.Event, error)
	reqs  []llm.Request
}

func (s *scriptedCaller) CallModel(_ context.Context, req llm.Request) ([]history.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	if len(s.steps) == 0 {
		return nil, errors.New("unexpected call")
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	return step(req)
}

func fail(err error) func(llm.Request) ([]history.Event, error) {
	return func(llm.Request) ([]history.Event, error) { return nil, err }
}

func ok(req llm.Request) ([]history.Event, error) {
	return []history.Event{history.Default.OwnUtterance("done "+req.Model, nil)}, nil
}

type rewriteLog struct {
	calls []map[string]history.Event
}

func (r *rewriteLog) rewrite(_ context.Context, m map[string]history.Event) error {
	r.calls = append(r.calls, m)
	return nil
}

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func fast() Option {
	return WithBackoff(Backoff{})
}

func status(code int, msg string) error {
	return &llm.APIError{StatusCode: code, Message: msg}
}

func seq() history.Generator {
	n := 0
	return history.Generator{
		NewID: func() string { n++; return fmt.Sprintf("h%d", n) },
		Now:   func() time.Time { return time.UnixMilli(int64(1000 + n)) },
	}
}

func hasMime(events []history.Event, mime string) bool {
	for _, e := range events {
		for _, a := range history.AttachmentsOf(e) {
			if a.MimeType == mime {
				return true
			}
		}
	}
	return false
}

func TestTransientRetryThenSuccess(t *testing.T) {
	next := &scriptedCaller{steps: []func(llm.Request) ([]history.Event, error){
		fail(status(503, "overloaded")),
		ok,
	}}
	out, err := Wrap(next, fast(), quiet()).CallModel(context.Background(), llm.Request{Model: "gemini-2.5-pro"})
	require.NoError(t, err)
	assert.Equal(t, "done gemini-2.5-pro", out[0].(history.OwnUtterance).Text)
	assert.Len(t, next.reqs, 2)
}

func TestTransientFallsBackToPairedModel(t *testing.T) {
	next := &scriptedCaller{steps: []func(llm.Request) ([]history.Event, error){
		fail(status(500, "a")),
		fail(status(502, "b")),
		fail(status(503, "c")),
		ok,
	}}
	out, err := Wrap(next, fast(), quiet()).CallModel(context.Background(), llm.Request{Model: "gemini-2.5-pro"})
	require.NoError(t, err)
	assert.Equal(t, "done gemini-2.5-flash", out[0].(history.OwnUtterance).Text)
	require.Len(t, next.reqs, 4)
	assert.Equal(t, "gemini-2.5-pro", next.reqs[2].Model)
	assert.Equal(t, "gemini-2.5-flash", next.reqs[3].Model)
}

func TestTransientFallbackUsesDefaultModel(t *testing.T) {
	next := &scriptedCaller{steps: []func(llm.Request) ([]history.Event, error){
		fail(status(500, "a")),
		ok,
	}}
	c := Wrap(next, fast(), quiet(), WithTransientAttempts(1), WithDefaultModel("gemini-2.5-flash"))
	out, err := c.CallModel(context.Background(), llm.Request{})
	require.NoError(t, err)
	assert.Equal(t, "done gemini-2.5-pro", out[0].(history.OwnUtterance).Text)
}

func TestTransientFallbackResolvesLightModel(t *testing.T) {
	next := &scriptedCaller{steps: []func(llm.Request) ([]history.Event, error){
		fail(status(503, "a")),
		ok,
	}}
	resolve := func(req llm.Request) string {
		if req.Light {
			return "gemini-2.5-flash"
		}
		return "gemini-2.5-pro"
	}
	c := Wrap(next, fast(), quiet(), WithTransientAttempts(1),
		WithDefaultModel("ignored-pro"), WithModelResolver(resolve))
	out, err := c.CallModel(context.Background(), llm.Request{Light: true})
	require.NoError(t, err)
	assert.Equal(t, "done gemini-2.5-pro", out[0].(history.OwnUtterance).Text)
}

func TestTransientFallbackFailureIsReturned(t *testing.T) {
	next := &scriptedCaller{steps: []func(llm.Request) ([]history.Event, error){
		fail(status(500, "a")),
		fail(status(500, "still down")),
	}}
	_, err := Wrap(next, fast(), quiet(), WithTransientAttempts(1)).CallModel(context.Background(), llm.Request{Model: "x-pro"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fallback model x-flash")
	assert.True(t, llm.IsTransient(err))
}

func TestTransientWithoutFallbackPartner(t *testing.T) {
	cause := status(500, "a")
	next := &scriptedCaller{steps: []func(llm.Request) ([]history.Event, error){fail(cause)}}
	_, err := Wrap(next, fast(), quiet(), WithTransientAttempts(1)).CallModel(context.Background(), llm.Request{Model: "gpt-4o"})
	assert.ErrorIs(t, err, cause)
	assert.Len(t, next.reqs, 1)
}

func TestOtherErrorsPassThrough(t *testing.T) {
	cause := status(400, "Request contains an invalid argument.")
	next := &scriptedCaller{steps: []func(llm.Request) ([]history.Event, error){fail(cause)}}
	_, err := Wrap(next, fast(), quiet()).CallModel(context.Background(), llm.Request{})
	assert.Same(t, cause, err)
}

func TestUnsupportedMimeRepairIsDeterministic(t *testing.T) {
	g := seq()
	video := history.InlineAttachment("video/x-matroska", "AAAA", "")
	image := history.InlineAttachment("image/png", "aGk=", "")
	events := []history.Event{
		g.ParticipantUtterance("alice", "watch this", video, image),
		g.OwnUtterance("nice", nil),
		g.ToolResult("fetch", "downloaded", "", video),
		g.ParticipantUtterance("alice", "and this pic", image),
	}

	next := &scriptedCaller{steps: []func(llm.Request) ([]history.Event, error){
		fail(status(400, "Unsupported MIME type: video/x-matroska")),
		func(req llm.Request) ([]history.Event, error) {
			if hasMime(req.History, "video/x-matroska") {
				return nil, status(400, "Unsupported MIME type: video/x-matroska")
			}
			return ok(req)
		},
	}}
	var log rewriteLog
	_, err := Wrap(next, fast(), quiet()).CallModel(context.Background(), llm.Request{History: events, Rewrite: log.rewrite})
	require.NoError(t, err)

	require.Len(t, log.calls, 1)
	repl := log.calls[0]
	assert.Len(t, repl, 2)

	u := repl["h1"].(history.ParticipantUtterance)
	assert.Equal(t, "watch this\n[attachment of type video/x-matroska removed: unsupported]", u.Text)
	assert.Equal(t, []history.Attachment{image}, u.Attachments)

	r := repl["h3"].(history.ToolResult)
	assert.Equal(t, "downloaded\n[attachment of type video/x-matroska removed: unsupported]", r.Result)
	assert.Empty(t, r.Attachments)

	// caller's slice is not modified
	assert.True(t, hasMime(events, "video/x-matroska"))
	assert.True(t, hasMime(next.reqs[1].History, "image/png"))
}

func TestExpiredFileRepair(t *testing.T) {
	g := seq()
	doc := history.FileAttachment("application/pdf", "https://generativelanguage.googleapis.com/v1beta/files/abc123", "")
	other := history.FileAttachment("application/pdf", "https://generativelanguage.googleapis.com/v1beta/files/zzz999", "")
	events := []history.Event{
		g.ParticipantUtterance("bob", "read", doc, other),
		g.ParticipantUtterance("bob", "again", doc),
	}
	next := &scriptedCaller{steps: []func(llm.Request) ([]history.Event, error){
		fail(status(400, "File files/abc123 has expired")),
		ok,
	}}
	var log rewriteLog
	_, err := Wrap(next, fast(), quiet()).CallModel(context.Background(), llm.Request{History: events, Rewrite: log.rewrite})
	require.NoError(t, err)

	repl := log.calls[0]
	require.Len(t, repl, 2)
	first := repl["h1"].(history.ParticipantUtterance)
	assert.Equal(t, "read\n[file abc123 expired]", first.Text)
	assert.Equal(t, []history.Attachment{other}, first.Attachments)
	assert.Equal(t, "again\n[file abc123 expired]", repl["h2"].(history.ParticipantUtterance).Text)
}

func TestProcessingAndUnidentifiedFiles(t *testing.T) {
	g := seq()
	events := []history.Event{
		g.ParticipantUtterance("bob", "a", history.FileAttachment("video/mp4", "files/vid42", "")),
		g.ParticipantUtterance("bob", "b", history.FileAttachment("image/png", "files/img7", ""), history.InlineAttachment("image/png", "aGk=", "")),
	}
	next := &scriptedCaller{steps: []func(llm.Request) ([]history.Event, error){
		fail(status(400, "The File vid42 is not in an ACTIVE state and usage is not allowed.")),
		fail(status(400, "The file is expired.")),
		ok,
	}}
	var log rewriteLog
	_, err := Wrap(next, fast(), quiet()).CallModel(context.Background(), llm.Request{History: events, Rewrite: log.rewrite})
	require.NoError(t, err)
	require.Len(t, log.calls, 2)

	assert.Equal(t, "a\n[file vid42 is still processing]", log.calls[0]["h1"].(history.ParticipantUtterance).Text)
	assert.NotContains(t, log.calls[0], "h2")

	// second repair strips every remaining file and keeps the first repair
	second := log.calls[1]
	require.Len(t, second, 2)
	assert.Equal(t, "a\n[file vid42 is still processing]", second["h1"].(history.ParticipantUtterance).Text)
	b := second["h2"].(history.ParticipantUtterance)
	assert.Equal(t, "b\n[file img7 expired]", b.Text)
	require.Len(t, b.Attachments, 1)
	assert.Equal(t, history.AttachmentInline, b.Attachments[0].Kind)

	last := next.reqs[2].History
	for _, e := range last {
		for _, a := range history.AttachmentsOf(e) {
			assert.NotEqual(t, history.AttachmentFile, a.Kind)
		}
	}
}

func TestPermissionDeniedRepair(t *testing.T) {
	g := seq()
	events := []history.Event{g.ParticipantUtterance("bob", "x", history.FileAttachment("image/png", "files/p9q", ""))}
	next := &scriptedCaller{steps: []func(llm.Request) ([]history.Event, error){
		fail(status(403, "You do not have permission to access the File p9q or it may not exist.")),
		ok,
	}}
	var log rewriteLog
	_, err := Wrap(next, fast(), quiet()).CallModel(context.Background(), llm.Request{History: events, Rewrite: log.rewrite})
	require.NoError(t, err)
	assert.Equal(t, "x\n[file p9q is not accessible]", log.calls[0]["h1"].(history.ParticipantUtterance).Text)
}

func TestRepairWithNothingToChange(t *testing.T) {
	next := &scriptedCaller{steps: []func(llm.Request) ([]history.Event, error){
		fail(status(400, "Unsupported MIME type: audio/x-weird")),
	}}
	_, err := Wrap(next, fast(), quiet()).CallModel(context.Background(), llm.Request{History: []history.Event{seq().OwnUtterance("hi", nil)}})
	assert.ErrorIs(t, err, ErrRecoveryExhausted)
	assert.True(t, strings.Contains(err.Error(), "audio/x-weird"))
}

func TestRecoveryBudgetExhausted(t *testing.T) {
	g := seq()
	events := []history.Event{g.ParticipantUtterance("a", "files",
		history.InlineAttachment("audio/a", "AA", ""),
		history.InlineAttachment("audio/b", "AA", ""),
		history.InlineAttachment("audio/c", "AA", ""),
	)}
	next := &scriptedCaller{steps: []func(llm.Request) ([]history.Event, error){
		fail(status(400, "Unsupported MIME type: audio/a")),
		fail(status(400, "Unsupported MIME type: audio/b")),
	}}
	var log rewriteLog
	_, err := Wrap(next, fast(), quiet(), WithMaxAttempts(2)).CallModel(context.Background(), llm.Request{History: events, Rewrite: log.rewrite})
	assert.ErrorIs(t, err, ErrRecoveryExhausted)
	assert.Len(t, next.reqs, 2)
	assert.Len(t, log.calls, 2)
}

func TestRewriteFailureStopsRecovery(t *testing.T) {
	g := seq()
	events := []history.Event{g.ParticipantUtterance("a", "x", history.InlineAttachment("audio/a", "AA", ""))}
	next := &scriptedCaller{steps: []func(llm.Request) ([]history.Event, error){
		fail(status(400, "Unsupported MIME type: audio/a")),
	}}
	boom := errors.New("disk full")
	_, err := Wrap(next, fast(), quiet()).CallModel(context.Background(), llm.Request{
		History: events,
		Rewrite: func(context.Context, map[string]history.Event) error { return boom },
	})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, next.reqs, 1)
}

func TestTransientOnLastAttemptSwitchesToFallbackWithoutWaiting(t *testing.T) {
	g := seq()
	events := []history.Event{g.ParticipantUtterance("a", "clip", history.InlineAttachment("audio/a", "AA", ""))}
	next := &scriptedCaller{steps: []func(llm.Request) ([]history.Event, error){
		fail(status(400, "Unsupported MIME type: audio/a")),
		fail(status(503, "overloaded")),
		ok,
	}}
	slow := WithBackoff(Backoff{InitialDelay: time.Hour, Multiplier: 1, MaxDelay: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var log rewriteLog
	out, err := Wrap(next, slow, quiet(), WithMaxAttempts(3)).CallModel(ctx, llm.Request{
		Model:   "gemini-2.5-pro",
		History: events,
		Rewrite: log.rewrite,
	})
	require.NoError(t, err)
	assert.Equal(t, "done gemini-2.5-flash", out[0].(history.OwnUtterance).Text)
	require.Len(t, next.reqs, 3)
	assert.Equal(t, "gemini-2.5-pro", next.reqs[1].Model)
	assert.Equal(t, "gemini-2.5-flash", next.reqs[2].Model)
	assert.False(t, hasMime(next.reqs[2].History, "audio/a"))
}

func TestFallbackModelErrorsAreRepaired(t *testing.T) {
	g := seq()
	events := []history.Event{g.ParticipantUtterance("a", "clip", history.InlineAttachment("audio/a", "AA", ""))}
	next := &scriptedCaller{steps: []func(llm.Request) ([]history.Event, error){
		fail(status(500, "down")),
		fail(status(400, "Unsupported MIME type: audio/a")),
		ok,
	}}
	var log rewriteLog
	out, err := Wrap(next, fast(), quiet(), WithTransientAttempts(1)).CallModel(context.Background(), llm.Request{
		Model:   "gemini-2.5-pro",
		History: events,
		Rewrite: log.rewrite,
	})
	require.NoError(t, err)
	assert.Equal(t, "done gemini-2.5-flash", out[0].(history.OwnUtterance).Text)
	require.Len(t, next.reqs, 3)
	assert.Equal(t, "gemini-2.5-flash", next.reqs[1].Model)
	assert.Equal(t, "gemini-2.5-flash", next.reqs[2].Model)
	assert.Len(t, log.calls, 1)
}

func TestTransientOnFinalAttemptDoesNotWait(t *testing.T) {
	next := &scriptedCaller{steps: []func(llm.Request) ([]history.Event, error){
		fail(status(503, "overloaded")),
	}}
	slow := WithBackoff(Backoff{InitialDelay: time.Hour, Multiplier: 1, MaxDelay: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Wrap(next, slow, quiet(), WithMaxAttempts(1)).CallModel(ctx, llm.Request{Model: "gemini-2.5-pro"})
	assert.ErrorIs(t, err, ErrRecoveryExhausted)
	assert.NoError(t, ctx.Err())
	assert.Len(t, next.reqs, 1)
}
