package channel

import (
	"context"
	"fmt"

	tele "gopkg.in/telebot.v4"

	"silowatch/internal/silo"
)

type TelegramConfig struct {
	Enabled bool
	Token   string
	// Offline skips the getMe handshake (tests).
	Offline bool
}

// TelegramAdapter delivers alerts as chat messages. Send-only: the bot
// never polls for updates.
type TelegramAdapter struct {
	cfg TelegramConfig
	bot *tele.Bot
}

func NewTelegramAdapter(cfg TelegramConfig) (*TelegramAdapter, error) {
	a := &TelegramAdapter{cfg: cfg}
	if !cfg.Enabled || cfg.Token == "" {
		return a, nil
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	a.bot = b
	return a, nil
}

func (t *TelegramAdapter) Name() string { return NameTelegram }

func (t *TelegramAdapter) Enabled() bool {
	return t.cfg.Enabled && t.bot != nil
}

func (t *TelegramAdapter) Deliver(ctx context.Context, a *silo.Alert, rcpt Recipient) error {
	if rcpt.TelegramChatID == 0 {
		return ErrSkipped
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(&tele.Chat{ID: rcpt.TelegramChatID}, FormatMessage(a), &tele.SendOptions{
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("telegram send to %d: %w", rcpt.TelegramChatID, err)
	}
	return nil
}
