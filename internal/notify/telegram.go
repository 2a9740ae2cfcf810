package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender delivers messages through the Telegram bot API.
type TelegramSender struct {
	api *tgbotapi.BotAPI
}

// NewTelegramSender wraps an authorized bot API client.
func NewTelegramSender(api *tgbotapi.BotAPI) *TelegramSender {
	return &TelegramSender{api: api}
}

// SendMessage sends Markdown-formatted text to a chat. Messages that the
// platform rejects for bad entity markup are retried once as plain text,
// so a capture tail containing stray backticks cannot wedge delivery.
func (s *TelegramSender) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := s.api.Send(msg); err != nil {
		plain := tgbotapi.NewMessage(chatID, text)
		if _, plainErr := s.api.Send(plain); plainErr != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}
