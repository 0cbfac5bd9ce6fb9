package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// telegramBot is the part of tgbotapi.BotAPI we use.
type telegramBot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Telegram struct {
	bot telegramBot
}

// NewTelegram authorizes the bot token against the Bot API.
func NewTelegram(token string) (*Telegram, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Telegram{bot: bot}, nil
}

func (t *Telegram) Notify(_ context.Context, msg Message) error {
	if msg.To.TelegramChatID == 0 {
		return nil
	}
	out := tgbotapi.NewMessage(msg.To.TelegramChatID, "*"+tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, msg.Subject)+"*\n"+
		tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, msg.Body))
	out.ParseMode = tgbotapi.ModeMarkdownV2
	out.DisableWebPagePreview = true
	if _, err := t.bot.Send(out); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}
