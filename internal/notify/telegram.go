package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tele "gopkg.in/telebot.v4"

	"adhand/internal/prayer"
	"adhand/pkg/logx"
)

// TelegramConfig enables the optional Telegram announcement channel.
// The token comes from the environment (ADHAND_TELEGRAM_TOKEN), never from
// the config file.
type TelegramConfig struct {
	Enabled bool
	Token   string
	ChatID  int64
}

// Telegram sends each announcement as a message to one chat. Send-only: no
// poller is started.
type Telegram struct {
	cfg TelegramConfig
	bot *tele.Bot
	log logx.Logger
}

// NewTelegram verifies the token against the Bot API and returns the backend.
func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram: token not set")
	}
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram: chat_id not set")
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: 15 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	log.Debug("telegram backend ready", logx.String("bot", bot.Me.Username))
	return &Telegram{cfg: cfg, bot: bot, log: log}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Announce(_ context.Context, name prayer.Name) error {
	text := fmt.Sprintf("\U0001F54C It is time for %s prayer.", name)
	_, err := t.bot.Send(&tele.Chat{ID: t.cfg.ChatID}, text)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}
