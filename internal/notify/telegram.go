package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Sender delivers a notification to a user-facing channel.
type Sender interface {
	Send(chatID int64, text string) error
}

// Telegram sends HTML-formatted messages through the Bot API.
type Telegram struct {
	api *tgbotapi.BotAPI
	log zerolog.Logger
}

func NewTelegram(token string, log zerolog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	log.Info().Str("bot", api.Self.UserName).Msg("telegram sender ready")

	return &Telegram{
		api: api,
		log: log.With().Str("component", "telegram").Logger(),
	}, nil
}

func (t *Telegram) Send(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// LogSender stands in when no Telegram token is configured: notifications land
// in the application log instead of being dropped.
type LogSender struct {
	log zerolog.Logger
}

func NewLogSender(log zerolog.Logger) *LogSender {
	return &LogSender{log: log.With().Str("component", "notify").Logger()}
}

func (s *LogSender) Send(chatID int64, text string) error {
	s.log.Info().Int64("chat", chatID).Str("text", text).Msg("notification (telegram disabled)")
	return nil
}
