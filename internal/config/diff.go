package config

import (
	"reflect"
	"strings"

	"surveysched/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Tokens and passwords are never included;
// only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	oa, na := oldCfg.Activation, newCfg.Activation
	if oa.PeriodicEnabled() != na.PeriodicEnabled() ||
		strings.TrimSpace(oa.Timezone) != strings.TrimSpace(na.Timezone) ||
		strings.TrimSpace(oa.Every) != strings.TrimSpace(na.Every) ||
		strings.TrimSpace(oa.StoreTimeout) != strings.TrimSpace(na.StoreTimeout) ||
		oa.Workers != na.Workers {
		changed = append(changed, "activation")
		attrs = append(attrs,
			logx.Bool("activation.enabled", na.PeriodicEnabled()),
			logx.String("activation.timezone", strings.TrimSpace(na.Timezone)),
			logx.String("activation.every", na.TriggerSpec()),
			logx.Int("activation.workers", na.Workers),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Int("http.reconcile_rate_per_sec", newCfg.HTTP.ReconcileRatePerSec),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.redis_password_set", newCfg.Storage.Redis.Password != ""),
		)
	}

	on, nn := notifyOrZero(oldCfg.Notify), notifyOrZero(newCfg.Notify)
	if on != nn {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.Bool("notify.enabled", nn.Enabled),
			logx.Int64("notify.chat_id", nn.Telegram.ChatID),
			logx.Bool("notify.token_set", strings.TrimSpace(nn.Telegram.Token) != ""),
		)
	}

	oc, nc := commandsOrZero(oldCfg.Commands), commandsOrZero(newCfg.Commands)
	if !reflect.DeepEqual(oc, nc) {
		changed = append(changed, "commands")
		attrs = append(attrs,
			logx.Bool("commands.enabled", nc.Enabled),
			logx.Int("commands.owners", len(nc.OwnerIDs)),
		)
	}

	if oldCfg.Systemd.NotifyEnabled() != newCfg.Systemd.NotifyEnabled() ||
		oldCfg.Systemd.WatchdogEnabled() != newCfg.Systemd.WatchdogEnabled() {
		changed = append(changed, "systemd")
		attrs = append(attrs,
			logx.Bool("systemd.notify", newCfg.Systemd.NotifyEnabled()),
			logx.Bool("systemd.watchdog", newCfg.Systemd.WatchdogEnabled()),
		)
	}

	return changed, attrs
}

func notifyOrZero(n *NotifyConfig) NotifyConfig {
	if n == nil {
		return NotifyConfig{}
	}
	return *n
}

func commandsOrZero(c *CommandsConfig) CommandsConfig {
	if c == nil {
		return CommandsConfig{}
	}
	return *c
}
