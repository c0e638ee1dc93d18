package app

import (
	"strings"
	"time"

	"surveysched/internal/activation"
	"surveysched/internal/api"
	"surveysched/internal/config"
	"surveysched/internal/notifier"
	"surveysched/internal/storage"
	"surveysched/internal/task/scheduler"
	"surveysched/internal/transport/telegram"
	"surveysched/pkg/logx"
)

// ReconcileJob is the scheduler job name of the periodic pass.
const ReconcileJob = "activation.reconcile"

// passTimeoutFactor bounds one periodic pass at this many store timeouts.
const passTimeoutFactor = 12

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) storage.Config {
	sc := cfg.Storage
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: config.DurationOr(sc.BusyTimeout, 0),
		Redis: storage.RedisConfig{
			Addr:     strings.TrimSpace(sc.Redis.Addr),
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
			Prefix:   strings.TrimSpace(sc.Redis.Prefix),
		},
	}
}

func mapReconcilerOptions(cfg *config.Config) (activation.Options, error) {
	loc, err := cfg.Activation.Location()
	if err != nil {
		return activation.Options{}, err
	}
	return activation.Options{
		Location:     loc,
		StoreTimeout: config.DurationOr(cfg.Activation.StoreTimeout, activation.DefaultStoreTimeout),
		Workers:      cfg.Activation.Workers,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:  cfg.Activation.PeriodicEnabled(),
		Timezone: strings.TrimSpace(cfg.Activation.Timezone),
	}
}

func mapReconcileJobOptions(cfg *config.Config) scheduler.Options {
	st := config.DurationOr(cfg.Activation.StoreTimeout, activation.DefaultStoreTimeout)
	return scheduler.Options{
		Timeout:    passTimeoutFactor * st,
		RunOnStart: true,
	}
}

func mapAPIConfig(cfg *config.Config) api.Config {
	h := cfg.HTTP
	return api.Config{
		Addr:                strings.TrimSpace(h.Addr),
		ReconcileRatePerSec: h.ReconcileRatePerSec,
		ReconcileBurst:      h.ReconcileBurst,
		Pprof:               h.Pprof,
		ReadTimeout:         config.DurationOr(h.ReadTimeout, 0),
		WriteTimeout:        config.DurationOr(h.WriteTimeout, 0),
		IdleTimeout:         config.DurationOr(h.IdleTimeout, 0),
	}
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	n := cfg.Notify
	if n == nil {
		return notifier.Config{}
	}
	return notifier.Config{
		Enabled:    n.Enabled,
		ChatID:     n.Telegram.ChatID,
		ThreadID:   n.Telegram.ThreadID,
		RatePerSec: n.RatePerSec,
		Buffer:     n.Buffer,
	}
}

func telegramToken(cfg *config.Config) string {
	if cfg == nil || cfg.Notify == nil {
		return ""
	}
	return strings.TrimSpace(cfg.Notify.Telegram.Token)
}

func commandsEnabled(cfg *config.Config) bool {
	return cfg != nil && cfg.Commands != nil && cfg.Commands.Enabled
}

func mapCommandOwners(cfg *config.Config) []int64 {
	if cfg == nil || cfg.Commands == nil {
		return nil
	}
	return cfg.Commands.OwnerIDs
}

func mapCommandTimeout(cfg *config.Config) time.Duration {
	if cfg == nil || cfg.Commands == nil {
		return telegram.DefaultTimeout
	}
	return config.DurationOr(cfg.Commands.Timeout, telegram.DefaultTimeout)
}

func mapBotConfig(cfg *config.Config) telegram.BotConfig {
	bc := telegram.BotConfig{Token: telegramToken(cfg)}
	if cfg.Commands != nil {
		bc.PollTimeout = config.DurationOr(cfg.Commands.PollTimeout, 0)
	}
	return bc
}

// stepBudget is how long one shutdown step may take.
var stepBudget = map[string]time.Duration{
	"scheduler": 3 * time.Second,
	"api":       5 * time.Second,
	"commands":  3 * time.Second,
	"notifier":  2 * time.Second,
	"storage":   2 * time.Second,
	"runtime":   2 * time.Second,
}
