// Package telegram connects a Telegram bot to the gateway: chat messages
// become participant utterances and the agent's utterances are sent back.
package telegram

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/agentloop/internal/gateway"
	"github.com/user/agentloop/internal/types"
	"github.com/user/agentloop/pkg/history"
)

const (
	maxTelegramMessage = 4096
	maxPhotoBytes      = 10 << 20
	source             = "telegram"
)

// Inbound receives participant messages.
type Inbound interface {
	HandleInbound(ctx context.Context, msg *types.InboundMessage, opts ...gateway.RunOption) error
}

// bot is the subset of the Telegram API the adapter uses.
type bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Adapter bridges Telegram to the gateway.
type Adapter struct {
	api           *tgbotapi.BotAPI
	bot           bot
	inbound       Inbound
	conversations types.ConversationStore
	histories     types.HistoryBackend
	client        *http.Client
	logger        *slog.Logger
}

// New connects to the Bot API with token.
func New(token string, inbound Inbound, conversations types.ConversationStore, histories types.HistoryBackend, logger *slog.Logger) (*Adapter, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	a := newAdapter(api, inbound, conversations, histories, logger)
	a.api = api
	return a, nil
}

func newAdapter(b bot, inbound Inbound, conversations types.ConversationStore, histories types.HistoryBackend, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		bot:           b,
		inbound:       inbound,
		conversations: conversations,
		histories:     histories,
		client:        &http.Client{Timeout: 30 * time.Second},
		logger:        logger,
	}
}

// Start long-polls for updates until ctx is done.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := a.api.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.api.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}

	in, err := a.inboundMessage(ctx, msg)
	if err != nil {
		a.logger.Warn("dropping telegram message", "chat_id", msg.Chat.ID, "error", err)
		return
	}
	if in == nil {
		return
	}

	chatID := msg.Chat.ID
	err = a.inbound.HandleInbound(ctx, in, gateway.WithOnReply(func(text string) {
		a.sendResponse(chatID, text)
	}))
	if err != nil {
		a.logger.Error("handle inbound", "chat_id", chatID, "error", err)
		a.sendResponse(chatID, "Sorry, I encountered an error processing your message.")
	}
}

// inboundMessage converts msg, downloading the largest photo size when one
// is attached. It returns nil for messages with nothing to say.
func (a *Adapter) inboundMessage(ctx context.Context, msg *tgbotapi.Message) (*types.InboundMessage, error) {
	in := &types.InboundMessage{
		Source:   source,
		Key:      conversationKey(msg.Chat.ID),
		UserName: displayName(msg.From),
		Text:     msg.Text,
	}
	if len(msg.Photo) > 0 {
		largest := msg.Photo[len(msg.Photo)-1]
		att, err := a.downloadPhoto(ctx, largest.FileID, msg.Caption)
		if err != nil {
			return nil, err
		}
		in.Attachments = append(in.Attachments, att)
		if in.Text == "" {
			in.Text = msg.Caption
		}
	}
	if in.Text == "" && len(in.Attachments) == 0 {
		return nil, nil
	}
	return in, nil
}

func (a *Adapter) downloadPhoto(ctx context.Context, fileID, caption string) (history.Attachment, error) {
	url, err := a.bot.GetFileDirectURL(fileID)
	if err != nil {
		return history.Attachment{}, fmt.Errorf("resolve photo: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return history.Attachment{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return history.Attachment{}, fmt.Errorf("download photo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return history.Attachment{}, fmt.Errorf("download photo: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes+1))
	if err != nil {
		return history.Attachment{}, fmt.Errorf("read photo: %w", err)
	}
	if len(data) > maxPhotoBytes {
		return history.Attachment{}, fmt.Errorf("photo larger than %d bytes", maxPhotoBytes)
	}
	return history.InlineAttachment("image/jpeg", base64.StdEncoding.EncodeToString(data), caption), nil
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		a.sendResponse(chatID, "Hello! Send me a message to get started.")

	case "status":
		id, err := a.conversations.ResolveOrCreate(ctx, conversationKey(chatID))
		if err != nil {
			a.sendResponse(chatID, "Error fetching status.")
			return
		}
		events, err := a.histories.History(id).GetHistory(ctx)
		if err != nil {
			a.sendResponse(chatID, "Error fetching status.")
			return
		}
		tokens, err := history.EstimateTotal(events)
		if err != nil {
			a.sendResponse(chatID, "Error fetching status.")
			return
		}
		a.sendResponse(chatID, fmt.Sprintf("Conversation: %s\nEvents: %d\nEstimated tokens: %d", id, len(events), tokens))

	default:
		a.sendResponse(chatID, "Unknown command. Available: /start, /status")
	}
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := a.bot.Send(msg); err != nil {
			// Model output is not always valid Markdown.
			msg.ParseMode = ""
			if _, err := a.bot.Send(msg); err != nil {
				a.logger.Error("send message", "chat_id", chatID, "error", err)
			}
		}
	}
}

// splitMessage cuts text into Telegram-sized parts without splitting a
// UTF-8 sequence.
func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := min(maxTelegramMessage, len(text))
		for end < len(text) && end > 0 && !utf8.RuneStart(text[end]) {
			end--
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

func conversationKey(chatID int64) types.ConversationKey {
	return types.NewConversationKey(source, strconv.FormatInt(chatID, 10))
}

func displayName(u *tgbotapi.User) string {
	switch {
	case u == nil:
		return "unknown"
	case u.UserName != "":
		return u.UserName
	case u.FirstName != "":
		return u.FirstName
	default:
		return strconv.FormatInt(u.ID, 10)
	}
}
