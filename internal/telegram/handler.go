package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/dkoval/zoya/internal/config"
	"github.com/dkoval/zoya/pkg/actionlog"
	"github.com/dkoval/zoya/pkg/dialog"
	"github.com/dkoval/zoya/pkg/exchange"
	"github.com/dkoval/zoya/pkg/history"
	"github.com/dkoval/zoya/pkg/sandbox"
)

// Engine processes one exchange per inbound message.
type Engine interface {
	Process(ctx context.Context, req exchange.Request) (exchange.Result, error)
}

// SendFunc delivers one outbound message to a chat.
type SendFunc func(chatID int64, text string) error

// Handler maps Telegram updates onto exchange requests and replies.
// It owns no transport state; the bot feeds it updates and a send
// function.
type Handler struct {
	engine  Engine
	history *history.Store
	actions *actionlog.Log
	cfg     config.TelegramConfig
	send    SendFunc
	botName string
}

// NewHandler creates a handler.
func NewHandler(engine Engine, hist *history.Store, actions *actionlog.Log, cfg config.TelegramConfig, botName string, send SendFunc) *Handler {
	return &Handler{
		engine:  engine,
		history: hist,
		actions: actions,
		cfg:     cfg,
		send:    send,
		botName: botName,
	}
}

// HandleUpdate processes one update. Messages from users outside the
// allowlist are dropped silently.
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Text == "" {
		return nil
	}

	if !h.allowed(msg.From.ID) {
		log.Debug().
			Int64("user_id", msg.From.ID).
			Msg("message from user outside allowlist dropped")
		return nil
	}

	if msg.IsCommand() {
		return h.handleCommand(ctx, msg)
	}
	return h.handleText(ctx, msg)
}

func (h *Handler) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return h.send(msg.Chat.ID, "Hi! Send me a message and I'll help. I can read and write files in your workspace, run commands, and remember things about you.")
	case "reset":
		conversationID := chatConversationID(msg.Chat.ID)
		n, err := h.history.Clear(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("failed to clear history: %w", err)
		}
		h.actions.Clear(conversationID)
		return h.send(msg.Chat.ID, fmt.Sprintf("Conversation history cleared (%d turns).", n))
	case "help":
		return h.send(msg.Chat.ID, "Commands:\n/start - greeting\n/reset - clear conversation history\n/help - this message")
	default:
		return h.send(msg.Chat.ID, "Unknown command. Try /help.")
	}
}

func (h *Handler) handleText(ctx context.Context, msg *tgbotapi.Message) error {
	res, err := h.engine.Process(ctx, exchange.Request{
		ConversationID: chatConversationID(msg.Chat.ID),
		Caller: sandbox.Caller{
			ID:    strconv.FormatInt(msg.From.ID, 10),
			Admin: h.isAdmin(msg.From.ID),
		},
		Mode: h.modeFor(msg),
		Text: msg.Text,
	})
	if err != nil {
		log.Error().Err(err).Int64("chat_id", msg.Chat.ID).Msg("exchange failed")
		return h.send(msg.Chat.ID, "Something went wrong while processing your message. Please try again.")
	}

	if res.Reply.Suppressed || res.Reply.Text == "" {
		return nil
	}
	return h.send(msg.Chat.ID, res.Reply.Text)
}

// modeFor picks the round budget. Direct chats and directly addressed
// group messages get the full pass; unaddressed group chatter gets the
// cheap pre-filter pass, whose empty reply means staying silent.
func (h *Handler) modeFor(msg *tgbotapi.Message) dialog.Mode {
	if msg.Chat.IsPrivate() {
		return dialog.ModePro
	}
	if h.botName != "" && strings.Contains(msg.Text, "@"+h.botName) {
		return dialog.ModePro
	}
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil &&
		msg.ReplyToMessage.From.UserName == h.botName {
		return dialog.ModePro
	}
	return dialog.ModeLite
}

func (h *Handler) allowed(userID int64) bool {
	if len(h.cfg.Allowlist) == 0 {
		return true
	}
	for _, id := range h.cfg.Allowlist {
		if id == userID {
			return true
		}
	}
	return h.isAdmin(userID)
}

func (h *Handler) isAdmin(userID int64) bool {
	for _, id := range h.cfg.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func chatConversationID(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}
