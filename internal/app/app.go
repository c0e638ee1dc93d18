package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"surveysched/internal/activation"
	"surveysched/internal/api"
	"surveysched/internal/config"
	"surveysched/internal/notifier"
	rtsup "surveysched/internal/runtime/supervisor"
	"surveysched/internal/task/scheduler"
	"surveysched/internal/transport/telegram"
	"surveysched/pkg/logx"
	"surveysched/pkg/systemd"
)

// StopReason is logged when the daemon shuts down.
type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type Option func(*options)

type options struct {
	clock    activation.Clock
	telegram func(token string) (notifier.Sender, error)
	bot      func(cfg telegram.BotConfig, r *telegram.Router, log logx.Logger) (CommandBot, error)
}

// CommandBot is the chat command transport.
type CommandBot interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// WithClock replaces the wall clock used for evaluation.
func WithClock(c activation.Clock) Option { return func(o *options) { o.clock = c } }

// WithSenderFactory replaces the Telegram client constructor.
func WithSenderFactory(fn func(token string) (notifier.Sender, error)) Option {
	return func(o *options) { o.telegram = fn }
}

// WithBotFactory replaces the chat command bot constructor.
func WithBotFactory(fn func(cfg telegram.BotConfig, r *telegram.Router, log logx.Logger) (CommandBot, error)) Option {
	return func(o *options) { o.bot = fn }
}

func defaultSender(token string) (notifier.Sender, error) {
	return notifier.NewTelegram(token, false)
}

func defaultBot(cfg telegram.BotConfig, r *telegram.Router, log logx.Logger) (CommandBot, error) {
	return telegram.NewBot(cfg, r, log)
}

type App struct {
	opts options
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	core  *Core
	sched *scheduler.Service
	notif *notifier.Service
	api   *api.Server
	sd    *systemd.Notifier

	router *telegram.Router
	bot    CommandBot // nil unless commands are enabled

	sup *rtsup.Supervisor

	// guarded by mu; touched by the reload loop and Start.
	mu       sync.Mutex
	token    string
	sender   notifier.Sender
	logChat  notifier.Message // target of forwarded log lines
	jobSpec  string
	jobOpt   scheduler.Options
	stopOnce sync.Once
}

// New loads the config behind cfgm and builds every component. Nothing runs
// until Start.
func New(cfgm *config.Manager, opts ...Option) (*App, error) {
	o := options{telegram: defaultSender, bot: defaultBot}
	for _, fn := range opts {
		fn(&o)
	}

	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, root := logx.New(mapLogConfig(cfg))
	log := root.With(logx.String("comp", "app"))

	core, err := OpenCore(cfg, root, o.clock)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	a := &App{
		opts:  o,
		cfgm:  cfgm,
		log:   log,
		logs:  logSvc,
		core:  core,
		sched: scheduler.New(mapSchedulerConfig(cfg), root, core.Bus),
		sd:    systemd.New(cfg.Systemd.NotifyEnabled(), root),
	}

	if err := a.setReconcileJob(cfg); err != nil {
		_ = core.Close()
		_ = logSvc.Close()
		return nil, err
	}

	a.notif = notifier.New(mapNotifierConfig(cfg), nil, root, core.Bus)
	a.setSender(cfg)
	a.setLogChat(cfg)
	logSvc.SetChatSink(a.sendLogLine)

	a.api = api.New(mapAPIConfig(cfg), api.Deps{
		Activation: core.Activation,
		Trigger:    a.sched,
		Notifier:   a.notif,
		Events:     core.Bus,
	}, root)

	a.router = telegram.NewRouter(root.With(logx.String("comp", "commands")), mapCommandOwners(cfg), mapCommandTimeout(cfg))
	a.router.Register(telegram.ActivationCommands(core.Activation, a.sched)...)
	if commandsEnabled(cfg) {
		bot, err := o.bot(mapBotConfig(cfg), a.router, root)
		if err != nil {
			log.Warn("telegram command bot init failed; commands off", logx.Err(err))
		} else {
			a.bot = bot
		}
	}

	return a, nil
}

// Core exposes the store and activation components.
func (a *App) Core() *Core { return a.core }

// API exposes the HTTP server, e.g. for its bound address.
func (a *App) API() *api.Server { return a.api }

// Done is closed when the app supervisor is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) setReconcileJob(cfg *config.Config) error {
	spec := cfg.Activation.TriggerSpec()
	opt := mapReconcileJobOptions(cfg)

	a.mu.Lock()
	defer a.mu.Unlock()
	if spec == a.jobSpec && opt == a.jobOpt {
		return nil
	}
	rec := a.core.Reconciler
	err := a.sched.Add(ReconcileJob, spec, opt, func(ctx context.Context) error {
		_, err := rec.Reconcile(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("activation.every: %w", err)
	}
	a.jobSpec, a.jobOpt = spec, opt
	return nil
}

// setSender builds a Telegram client when the token changed. A client that
// fails to initialise leaves notifications off; reconciliation is unaffected.
func (a *App) setSender(cfg *config.Config) {
	tok := telegramToken(cfg)
	a.mu.Lock()
	same := tok == a.token
	a.token = tok
	a.mu.Unlock()
	if same {
		return
	}
	var sender notifier.Sender
	if tok != "" {
		s, err := a.opts.telegram(tok)
		if err != nil {
			a.log.Warn("telegram client init failed; notifications off", logx.Err(err))
		} else {
			sender = s
		}
	}
	a.mu.Lock()
	a.sender = sender
	a.mu.Unlock()
	a.notif.SetSender(sender)
}

func (a *App) setLogChat(cfg *config.Config) {
	n := mapNotifierConfig(cfg)
	a.mu.Lock()
	a.logChat = notifier.Message{ChatID: n.ChatID, ThreadID: n.ThreadID}
	a.mu.Unlock()
}

// sendLogLine posts a forwarded log line to the notify chat through the
// current Telegram client.
func (a *App) sendLogLine(ctx context.Context, text string) error {
	a.mu.Lock()
	sender, m := a.sender, a.logChat
	a.mu.Unlock()
	if sender == nil || m.ChatID == 0 {
		return notifier.ErrDisabled
	}
	m.Text = text
	return sender.Send(ctx, m)
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if _, err := mapReconcilerOptions(cfg); err != nil {
			return err
		}
		if _, err := scheduler.ParseSchedule(cfg.Activation.TriggerSpec()); err != nil {
			return fmt.Errorf("activation.every: %w", err)
		}
		return nil
	})

	if err := a.api.Start(run); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("start api: %w", err)
	}
	if err := a.notif.Start(run); err != nil && !errors.Is(err, notifier.ErrDisabled) {
		a.log.Warn("notifier start failed", logx.Err(err))
	}
	a.sched.Start(run)
	if a.bot != nil {
		if err := a.bot.Start(run); err != nil {
			a.log.Warn("command bot start failed", logx.Err(err))
		}
	}

	events, unsub := a.core.Bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		a.sd.Watchdog(c, a.sup.Err)
	})
	a.sd.Ready()
	a.sd.Status("serving on " + a.api.Addr())

	a.log.Info("app started", logx.String("http", a.api.Addr()))
	return nil
}

// applyConfig live-applies a reloaded config. Storage and listener changes
// need a restart and are only warned about.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.sd.Reloading()
	defer a.sd.Ready()

	for _, s := range sections {
		switch s {
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		case "systemd":
			a.log.Warn("systemd config changed; restart required for changes to take effect")
		case "commands":
			if commandsEnabled(prev) != commandsEnabled(next) {
				a.log.Warn("commands enabled flag changed; restart required for changes to take effect")
			}
		}
	}

	a.setSender(next)
	a.setLogChat(next)
	a.logs.Apply(mapLogConfig(next))

	if opts, err := mapReconcilerOptions(next); err != nil {
		a.log.Warn("invalid activation config; keeping previous", logx.Err(err))
	} else {
		a.core.Reconciler.Apply(opts)
	}
	a.sched.Apply(mapSchedulerConfig(next))
	if err := a.setReconcileJob(next); err != nil {
		a.log.Warn("invalid trigger; keeping previous", logx.Err(err))
	}

	a.api.Apply(mapAPIConfig(next))
	a.router.SetOwners(mapCommandOwners(next))
	a.router.SetTimeout(mapCommandTimeout(next))

	wasRunning := a.notif.Running()
	ncfg := mapNotifierConfig(next)
	a.notif.Apply(ncfg)
	switch {
	case wasRunning && !a.notif.Enabled():
		stopCtx, cancel := context.WithTimeout(ctx, stepBudget["notifier"])
		_ = a.notif.Stop(stopCtx)
		cancel()
		a.log.Info("notifier disabled via config")
	case !wasRunning && a.notif.Enabled():
		if err := a.notif.Start(ctx); err == nil {
			a.log.Info("notifier enabled via config")
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in dependency order, each step bounded by its
// budget and the caller's deadline. It is safe to call more than once.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.closeIdle()
	}
	var errs []error
	a.stopOnce.Do(func() {
		a.log.Info("stopping", logx.String("reason", string(reason)))
		a.sd.Stopping()
		a.sup.Cancel()

		errs = append(errs,
			a.step(ctx, "scheduler", a.sched.Stop),
			a.step(ctx, "api", a.api.Stop),
			a.step(ctx, "commands", a.stopBot),
			a.step(ctx, "notifier", a.notif.Stop),
			a.step(ctx, "storage", func(context.Context) error { return a.core.Close() }),
			a.step(ctx, "runtime", a.sup.Wait),
		)
		a.log.Info("stopped")
		_ = a.logs.Close()
	})
	return errors.Join(errs...)
}

func (a *App) stopBot(ctx context.Context) error {
	if a.bot == nil {
		return nil
	}
	return a.bot.Stop(ctx)
}

// closeIdle releases resources of an app that was never started.
func (a *App) closeIdle() error {
	var err error
	a.stopOnce.Do(func() {
		err = a.core.Close()
		_ = a.logs.Close()
	})
	return err
}

// step runs one shutdown step. A step that overruns its budget is left
// running and reported; the next step starts anyway.
func (a *App) step(ctx context.Context, name string, fn func(context.Context) error) error {
	start := time.Now()
	budget := stepBudget[name]
	stepCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		took := time.Since(start)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			return fmt.Errorf("stop %s: %w", name, err)
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		return nil
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("budget", budget))
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
		return fmt.Errorf("stop %s: %w", name, stepCtx.Err())
	}
}
