package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/agentloop/internal/types"
	"github.com/user/agentloop/pkg/history"
)

func backends(t *testing.T) map[string]func() types.HistoryStore {
	return map[string]func() types.HistoryStore{
		"file": func() types.HistoryStore {
			return NewFileStore(t.TempDir()).History(types.NewConversationID())
		},
		"sqlite": func() types.HistoryStore {
			s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "history.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s.History(types.NewConversationID())
		},
		"memory": func() types.HistoryStore { return NewMemoryHistory() },
	}
}

func TestHistoryStores(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open()

			events, err := store.GetHistory(ctx)
			require.NoError(t, err)
			assert.Empty(t, events)

			g := history.Default
			u := g.ParticipantUtterance("ann", "look", history.InlineAttachment("image/png", "aGk=", ""))
			call := g.ToolUse("echo", nil, &history.Metadata{ResponseID: "r1"})
			res := g.ToolResult("echo", "ok", call.ID)
			for _, e := range []history.Event{u, call, res} {
				require.NoError(t, store.OutputEvent(ctx, e))
			}

			events, err = store.GetHistory(ctx)
			require.NoError(t, err)
			assert.Equal(t, []history.Event{u, call, res}, events)

			stripped, changed := history.StripAttachments(u,
				func(history.Attachment) bool { return true },
				func(history.Attachment) string { return "[removed]" })
			require.True(t, changed)
			require.NoError(t, store.RewriteHistory(ctx, map[string]history.Event{u.ID: stripped, "unknown": g.OwnThought("x")}))

			events, err = store.GetHistory(ctx)
			require.NoError(t, err)
			require.Len(t, events, 3)
			assert.Equal(t, "look\n[removed]", events[0].(history.ParticipantUtterance).Text)
			assert.Empty(t, events[0].(history.ParticipantUtterance).Attachments)
			assert.Equal(t, call.ID, events[1].EventID())

			require.NoError(t, store.RewriteHistory(ctx, nil))
		})
	}
}

func TestHistoryStoresConcurrentAppends(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open()

			var wg sync.WaitGroup
			for i := range 20 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					assert.NoError(t, store.OutputEvent(ctx, history.Default.OwnThought(fmt.Sprintf("t%d", i))))
				}()
			}
			wg.Wait()

			events, err := store.GetHistory(ctx)
			require.NoError(t, err)
			assert.Len(t, events, 20)
		})
	}
}

func TestFileHistoryIsolatedPerConversation(t *testing.T) {
	ctx := context.Background()
	fs := NewFileStore(t.TempDir())
	a, b := fs.Open("a"), fs.Open("b")
	require.NoError(t, a.OutputEvent(ctx, history.Default.OwnThought("only a")))

	got, err := b.GetHistory(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = os.Stat(filepath.Join(fs.root, "conversations", "a", "history.jsonl"))
	assert.NoError(t, err)
}

func TestFileHistoryRejectsCorruptLine(t *testing.T) {
	ctx := context.Background()
	fs := NewFileStore(t.TempDir())
	h := fs.Open("c")
	require.NoError(t, h.OutputEvent(ctx, history.Default.OwnThought("fine")))

	f, err := os.OpenFile(h.path(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"type":"mystery","id":"x"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = h.GetHistory(ctx)
	assert.ErrorIs(t, err, history.ErrUnknownEvent)
}

func TestSQLiteConversations(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Open("b").OutputEvent(ctx, history.Default.OwnThought("x")))
	require.NoError(t, s.Open("a").OutputEvent(ctx, history.Default.OwnThought("y")))

	ids, err := s.Conversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.ConversationID{"a", "b"}, ids)
}

func TestOpenSQLiteReportsInitFailure(t *testing.T) {
	_, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "missing", "history.db"))
	require.Error(t, err)
	assert.Regexp(t, `^init sqlite: `, err.Error())
}

func TestConversationIndex(t *testing.T) {
	ctx := context.Background()
	idx := NewConversationIndex(t.TempDir())

	key := types.NewConversationKey("test", "123")
	id, err := idx.ResolveOrCreate(ctx, key)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	conv, err := idx.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, key, conv.Key)

	id2, err := idx.ResolveOrCreate(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	conv.Events = 7
	conv.LastRunID = "run-1"
	require.NoError(t, idx.Update(ctx, conv))

	all, err := idx.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 7, all[0].Events)

	_, err = idx.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, idx.Update(ctx, &types.Conversation{Key: "nope"}), ErrNotFound)
}
