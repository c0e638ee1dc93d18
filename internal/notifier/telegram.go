package notifier

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// Telegram sends messages through the Bot API. It never polls for updates.
type Telegram struct {
	bot *tele.Bot
}

// NewTelegram validates token against the Bot API (getMe) unless offline is
// set.
func NewTelegram(token string, offline bool) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		Offline: offline,
		Client:  &http.Client{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b}, nil
}

func (t *Telegram) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(&tele.Chat{ID: m.ChatID}, m.Text, &tele.SendOptions{
		ThreadID:              m.ThreadID,
		DisableWebPagePreview: true,
	})
	return err
}
