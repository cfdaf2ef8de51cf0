package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Messenger is the send side of *tgbotapi.BotAPI.
type Messenger interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sender delivers plain-text replies. No retries.
type Sender struct {
	Bot Messenger
}

func (s *Sender) Send(_ context.Context, chat int64, text string) error {
	msg := tgbotapi.NewMessage(chat, text)
	_, err := s.Bot.Send(msg)
	return err
}
