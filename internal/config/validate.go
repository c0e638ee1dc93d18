package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"surveysched/internal/task/scheduler"
	"surveysched/pkg/logx"
)

const (
	DefaultEvery     = 60 * time.Second
	DefaultHTTPAddr  = "127.0.0.1:8080"
	DefaultRate      = 1
	DefaultBurst     = 3
	DefaultNotifyBuf = 64
)

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		add(fmt.Errorf("logging.level: unknown level %q", lvl))
	}
	if lt := cfg.Logging.Telegram; lt.Enabled {
		if n := cfg.Notify; n == nil || strings.TrimSpace(n.Telegram.Token) == "" || n.Telegram.ChatID == 0 {
			add(errors.New("logging.telegram: notify.telegram.token and chat_id are required"))
		}
		if lvl := strings.TrimSpace(lt.MinLevel); lvl != "" && !logx.ValidLevel(lvl) {
			add(fmt.Errorf("logging.telegram.min_level: unknown level %q", lvl))
		}
		if lt.RatePerSec < 0 {
			add(errors.New("logging.telegram.rate_per_sec: must be >= 0"))
		}
	}

	_, err := cfg.Activation.Location()
	add(err)
	add(validateEvery(cfg.Activation.Every))
	_, err = parseDuration("activation.store_timeout", cfg.Activation.StoreTimeout)
	add(err)
	if cfg.Activation.Workers < 0 {
		add(errors.New("activation.workers: must be >= 0"))
	}

	if cfg.HTTP.ReconcileRatePerSec < 0 {
		add(errors.New("http.reconcile_rate_per_sec: must be >= 0"))
	}
	if cfg.HTTP.ReconcileBurst < 0 {
		add(errors.New("http.reconcile_burst: must be >= 0"))
	}
	for path, raw := range map[string]string{
		"http.read_timeout":  cfg.HTTP.ReadTimeout,
		"http.write_timeout": cfg.HTTP.WriteTimeout,
		"http.idle_timeout":  cfg.HTTP.IdleTimeout,
	} {
		_, err := parseDuration(path, raw)
		add(err)
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "memory":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add(fmt.Errorf("storage.path: required for %s driver", d))
		}
	case "redis":
		if strings.TrimSpace(cfg.Storage.Redis.Addr) == "" {
			add(errors.New("storage.redis.addr: required for redis driver"))
		}
	case "":
		add(errors.New("storage.driver: required"))
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", d))
	}
	_, err = parseDuration("storage.busy_timeout", cfg.Storage.BusyTimeout)
	add(err)

	if n := cfg.Notify; n != nil && n.Enabled {
		if strings.TrimSpace(n.Telegram.Token) == "" {
			add(errors.New("notify.telegram.token: required when notify is enabled"))
		}
		if n.Telegram.ChatID == 0 {
			add(errors.New("notify.telegram.chat_id: required when notify is enabled"))
		}
		if n.RatePerSec < 0 {
			add(errors.New("notify.rate_per_sec: must be >= 0"))
		}
	}

	if c := cfg.Commands; c != nil && c.Enabled {
		if cfg.Notify == nil || strings.TrimSpace(cfg.Notify.Telegram.Token) == "" {
			add(errors.New("commands: notify.telegram.token is required"))
		}
		if len(c.OwnerIDs) == 0 {
			add(errors.New("commands.owner_ids: at least one owner required"))
		}
		_, err = parseDuration("commands.poll_timeout", c.PollTimeout)
		add(err)
		_, err = parseDuration("commands.timeout", c.Timeout)
		add(err)
	}

	return errors.Join(errs...)
}

// Location resolves the reference timezone, defaulting to UTC.
func (a ActivationConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(a.Timezone)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("activation.timezone: %w", err)
	}
	return loc, nil
}

// TriggerSpec returns the trigger in scheduler syntax: a Go duration, an
// HH:MM interval or a cron spec.
func (a ActivationConfig) TriggerSpec() string {
	if s := strings.TrimSpace(a.Every); s != "" {
		return s
	}
	return DefaultEvery.String()
}

func validateEvery(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	if _, err := scheduler.ParseSchedule(raw); err != nil {
		return fmt.Errorf("activation.every: %w", err)
	}
	return nil
}

func parseDuration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", path, raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must be >= 0", path)
	}
	return d, nil
}

// DurationOr returns raw as a duration, or def when raw is empty, zero or
// invalid. Use it on configs that already passed Validate.
func DurationOr(raw string, def time.Duration) time.Duration {
	d, err := parseDuration("", raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
