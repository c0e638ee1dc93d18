package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "surveysched/internal/runtime/supervisor"
	"surveysched/pkg/logx"
)

// maxReply is the Bot API message length limit.
const maxReply = 4096

type BotConfig struct {
	Token       string
	PollTimeout time.Duration
	// Offline skips the getMe check; used by tests.
	Offline bool
}

// Bot long-polls the Bot API and answers commands through a Router.
type Bot struct {
	log    logx.Logger
	router *Router
	bot    *tele.Bot

	mu  sync.Mutex
	sup *rtsup.Supervisor
}

func NewBot(cfg BotConfig, router *Router, log logx.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if router == nil {
		return nil, errors.New("telegram router is nil")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: cfg.Offline,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Client:  &http.Client{Timeout: timeout + 10*time.Second},
	})
	if err != nil {
		return nil, err
	}
	return &Bot{log: log.With(logx.String("comp", "telegram")), router: router, bot: b}, nil
}

func (b *Bot) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sup != nil
}

// Start begins polling in the background. It returns once the handlers are
// registered.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sup != nil {
		return nil
	}
	sup := rtsup.New(ctx, rtsup.WithLogger(b.log))
	b.sup = sup

	b.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		reply, ok := b.respond(sup.Context(), m.Text, m.Chat.ID, m.ThreadID, m.Sender.ID)
		if !ok {
			return nil
		}
		return c.Send(reply, &tele.SendOptions{ThreadID: m.ThreadID, DisableWebPagePreview: true})
	})

	if err := b.bot.SetCommands(b.menu()); err != nil {
		b.log.Warn("set bot commands failed", logx.Err(err))
	}

	sup.Go0("telegram.stop_on_cancel", func(ctx context.Context) {
		<-ctx.Done()
		b.bot.Stop()
	})
	sup.Go0("telegram.poll", func(ctx context.Context) {
		b.log.Info("polling started")
		b.bot.Start()
	})
	return nil
}

// Stop ends polling. A long poll still in flight is abandoned once ctx
// expires.
func (b *Bot) Stop(ctx context.Context) error {
	b.mu.Lock()
	sup := b.sup
	b.sup = nil
	b.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	b.log.Info("polling stopped")
	return err
}

// respond turns one incoming text into a reply. ok is false when nothing
// should be sent.
func (b *Bot) respond(ctx context.Context, text string, chatID int64, threadID int, fromID int64) (string, bool) {
	name, args, ok := Parse(text)
	if !ok {
		return "", false
	}
	reply, err := b.router.Dispatch(ctx, &Request{
		ChatID:   chatID,
		ThreadID: threadID,
		FromID:   fromID,
		Command:  name,
		Args:     args,
	})
	switch {
	case errors.Is(err, ErrForbidden):
		b.log.Debug("ignored command from non-owner", logx.String("cmd", name), logx.Int64("from_id", fromID))
		return "", false
	case errors.Is(err, ErrUnknownCommand):
		return "Unknown command. Try /help", true
	case err != nil:
		reply = "Error: " + err.Error()
	}
	if reply == "" {
		return "", false
	}
	return truncate(reply, maxReply), true
}

func (b *Bot) menu() []tele.Command {
	cmds := b.router.Commands()
	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, tele.Command{Text: c.Name, Description: c.Description})
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
