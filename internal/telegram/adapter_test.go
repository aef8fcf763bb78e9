package telegram

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/agentloop/internal/gateway"
	"github.com/user/agentloop/internal/state"
	"github.com/user/agentloop/internal/types"
	"github.com/user/agentloop/pkg/history"
)

type fakeBot struct {
	sent    []tgbotapi.MessageConfig
	failMD  bool
	fileURL string
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg := c.(tgbotapi.MessageConfig)
	if b.failMD && msg.ParseMode != "" {
		return tgbotapi.Message{}, errors.New("can't parse entities")
	}
	b.sent = append(b.sent, msg)
	return tgbotapi.Message{}, nil
}

func (b *fakeBot) GetFileDirectURL(string) (string, error) { return b.fileURL, nil }

type fakeInbound struct {
	got   []*types.InboundMessage
	reply string
	err   error
}

func (f *fakeInbound) HandleInbound(_ context.Context, msg *types.InboundMessage, opts ...gateway.RunOption) error {
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, msg)
	run := &gateway.Run{}
	for _, o := range opts {
		o(run)
	}
	if run.OnReply != nil {
		run.OnReply(f.reply)
	}
	return nil
}

func newTestAdapter(t *testing.T, b *fakeBot, in Inbound) (*Adapter, *state.ConversationIndex, *state.FileStore) {
	dir := t.TempDir()
	conversations := state.NewConversationIndex(dir)
	histories := state.NewFileStore(dir)
	return newAdapter(b, in, conversations, histories, nil), conversations, histories
}

func textMessage(chatID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: chatID},
		From: &tgbotapi.User{ID: 7, UserName: "ana"},
		Text: text,
	}
}

func command(chatID int64, name string) *tgbotapi.Message {
	msg := textMessage(chatID, "/"+name)
	msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name) + 1}}
	return msg
}

func TestHandleMessageRepliesToChat(t *testing.T) {
	b := &fakeBot{}
	in := &fakeInbound{reply: "pong"}
	a, _, _ := newTestAdapter(t, b, in)

	a.handleMessage(context.Background(), textMessage(42, "ping"))

	require.Len(t, in.got, 1)
	assert.Equal(t, types.ConversationKey("telegram:42"), in.got[0].Key)
	assert.Equal(t, "ana", in.got[0].UserName)
	assert.Equal(t, "ping", in.got[0].Text)
	require.Len(t, b.sent, 1)
	assert.Equal(t, int64(42), b.sent[0].ChatID)
	assert.Equal(t, "pong", b.sent[0].Text)
}

func TestHandleMessageFallsBackToPlainText(t *testing.T) {
	b := &fakeBot{failMD: true}
	a, _, _ := newTestAdapter(t, b, &fakeInbound{reply: "a_b*"})

	a.handleMessage(context.Background(), textMessage(1, "x"))
	require.Len(t, b.sent, 1)
	assert.Empty(t, b.sent[0].ParseMode)
}

func TestHandleMessageGatewayError(t *testing.T) {
	b := &fakeBot{}
	a, _, _ := newTestAdapter(t, b, &fakeInbound{err: errors.New("queue full")})

	a.handleMessage(context.Background(), textMessage(1, "x"))
	require.Len(t, b.sent, 1)
	assert.Contains(t, b.sent[0].Text, "Sorry")
}

func TestHandleMessageIgnoresEmpty(t *testing.T) {
	in := &fakeInbound{}
	a, _, _ := newTestAdapter(t, &fakeBot{}, in)
	a.handleMessage(context.Background(), textMessage(1, ""))
	assert.Empty(t, in.got)
}

func TestHandlePhoto(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("jpegbytes"))
	}))
	defer srv.Close()

	in := &fakeInbound{reply: "nice"}
	a, _, _ := newTestAdapter(t, &fakeBot{fileURL: srv.URL}, in)

	msg := textMessage(5, "")
	msg.Caption = "my cat"
	msg.Photo = []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "large"}}
	a.handleMessage(context.Background(), msg)

	require.Len(t, in.got, 1)
	assert.Equal(t, "my cat", in.got[0].Text)
	require.Len(t, in.got[0].Attachments, 1)
	att := in.got[0].Attachments[0]
	assert.Equal(t, "image/jpeg", att.MimeType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("jpegbytes")), att.Data)
}

func TestStatusCommand(t *testing.T) {
	b := &fakeBot{}
	a, conversations, histories := newTestAdapter(t, b, &fakeInbound{})
	ctx := context.Background()

	id, err := conversations.ResolveOrCreate(ctx, conversationKey(9))
	require.NoError(t, err)
	require.NoError(t, histories.History(id).OutputEvent(ctx, history.Default.ParticipantUtterance("ana", "hello")))

	a.handleMessage(ctx, command(9, "status"))
	require.Len(t, b.sent, 1)
	assert.Contains(t, b.sent[0].Text, "Conversation: "+string(id))
	assert.Contains(t, b.sent[0].Text, "Events: 1")
}

func TestUnknownCommand(t *testing.T) {
	b := &fakeBot{}
	a, _, _ := newTestAdapter(t, b, &fakeInbound{})
	a.handleMessage(context.Background(), command(1, "nope"))
	require.Len(t, b.sent, 1)
	assert.Contains(t, b.sent[0].Text, "Unknown command")
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"Hello world"}, splitMessage("Hello world"))

	parts := splitMessage(strings.Repeat("a", 5000))
	require.Len(t, parts, 2)
	assert.Len(t, parts[0], maxTelegramMessage)

	parts = splitMessage(strings.Repeat("é", 3000))
	require.Len(t, parts, 2)
	for _, p := range parts {
		assert.True(t, utf8.ValidString(p))
		assert.LessOrEqual(t, len(p), maxTelegramMessage)
	}
	assert.Equal(t, strings.Repeat("é", 3000), parts[0]+parts[1])
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "ana", displayName(&tgbotapi.User{ID: 1, UserName: "ana", FirstName: "Ana"}))
	assert.Equal(t, "Ana", displayName(&tgbotapi.User{ID: 1, FirstName: "Ana"}))
	assert.Equal(t, "1", displayName(&tgbotapi.User{ID: 1}))
	assert.Equal(t, "unknown", displayName(nil))
}
