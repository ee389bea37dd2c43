package sink

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/wb-go/wbf/zlog"
)

// Announcer mirrors broadcast messages into a fixed Telegram chat.
type Announcer struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewAnnouncer returns nil when no token is configured.
func NewAnnouncer(botToken string, chatID int64) (*Announcer, error) {
	if botToken == "" {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, err
	}
	return &Announcer{bot: bot, chatID: chatID}, nil
}

func (a *Announcer) Announce(ctx context.Context, message string) error {
	msg := tgbotapi.NewMessage(a.chatID, message)
	zlog.Logger.Info().
		Int64("chat_id", a.chatID).
		Str("channel", "telegram").
		Msg("Sending Telegram announce")
	_, err := a.bot.Send(msg)
	return err
}
