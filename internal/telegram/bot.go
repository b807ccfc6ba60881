// Package telegram is the transport adapter: it turns Telegram updates
// into exchange requests and exchange replies into Telegram messages.
// The orchestration engine never sees Telegram types.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/dkoval/zoya/internal/config"
	"github.com/dkoval/zoya/internal/metrics"
	"github.com/dkoval/zoya/pkg/actionlog"
	"github.com/dkoval/zoya/pkg/history"
)

// Telegram caps messages at 4096 characters; longer replies are split.
const maxMessageLen = 4096

// Bot runs the long-polling loop and delivers outbound messages. It
// also implements the Messenger contract of the send_message and
// ask_user tools.
type Bot struct {
	api     *tgbotapi.BotAPI
	handler *Handler
	metrics *metrics.Metrics
}

// New authenticates against the Bot API and wires the update handler.
// Metrics may be nil.
func New(cfg config.TelegramConfig, engine Engine, hist *history.Store, actions *actionlog.Log, m *metrics.Metrics) (*Bot, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	b := &Bot{api: api, metrics: m}
	b.handler = NewHandler(engine, hist, actions, cfg, api.Self.UserName, b.sendChunked)

	log.Info().
		Str("username", api.Self.UserName).
		Int64("id", api.Self.ID).
		Msg("telegram bot authenticated")
	return b, nil
}

// Run polls for updates until ctx is cancelled. Each message is
// processed on its own goroutine; the engine serializes messages of
// the same conversation.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	log.Info().Msg("telegram bot polling for updates")
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			log.Info().Msg("telegram bot stopped")
			return ctx.Err()

		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if b.metrics != nil && update.Message != nil {
				b.metrics.MessagesReceivedTotal.Inc()
			}
			go func(update tgbotapi.Update) {
				if err := b.handler.HandleUpdate(ctx, update); err != nil {
					if b.metrics != nil {
						b.metrics.TransportErrorsTotal.Inc()
					}
					log.Error().Err(err).Msg("failed to handle update")
				}
			}(update)
		}
	}
}

// Send implements the tool-facing Messenger contract. The conversation
// ID is the decimal chat ID.
func (b *Bot) Send(ctx context.Context, conversationID, text string) error {
	chatID, err := strconv.ParseInt(conversationID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid conversation ID %q: %w", conversationID, err)
	}
	return b.sendChunked(chatID, text)
}

// SendFile implements the tool-facing Messenger contract: the file is
// delivered to the chat as a document.
func (b *Bot) SendFile(ctx context.Context, conversationID, path string) error {
	chatID, err := strconv.ParseInt(conversationID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid conversation ID %q: %w", conversationID, err)
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
	if _, err := b.api.Send(doc); err != nil {
		if b.metrics != nil {
			b.metrics.TransportErrorsTotal.Inc()
		}
		return fmt.Errorf("failed to send document: %w", err)
	}
	if b.metrics != nil {
		b.metrics.MessagesSentTotal.Inc()
	}
	return nil
}

func (b *Bot) sendChunked(chatID int64, text string) error {
	for _, chunk := range splitMessage(text, maxMessageLen) {
		if _, err := b.api.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			if b.metrics != nil {
				b.metrics.TransportErrorsTotal.Inc()
			}
			return fmt.Errorf("failed to send message: %w", err)
		}
		if b.metrics != nil {
			b.metrics.MessagesSentTotal.Inc()
		}
	}
	return nil
}

// splitMessage cuts text into chunks of at most limit bytes, breaking
// on newlines where possible and never inside a multi-byte rune.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if text[i-1] == '\n' {
				cut = i
				break
			}
		}
		for cut > limit/2 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
