package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TextSender is a thin wrapper over the raw API client, so the notification
// sink can send messages without depending on the full Bot.
type TextSender struct {
	api *tgbotapi.BotAPI
}

func NewTextSender(api *tgbotapi.BotAPI) *TextSender {
	return &TextSender{api: api}
}

func (s *TextSender) SendText(chatID int64, text string) error {
	_, err := s.api.Send(tgbotapi.NewMessage(chatID, text))
	return err
}
