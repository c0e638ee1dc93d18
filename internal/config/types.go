package config

// Config is the daemon configuration file.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Activation ActivationConfig `json:"activation"`
	HTTP       HTTPConfig       `json:"http"`
	Storage    StorageConfig    `json:"storage"`
	Notify     *NotifyConfig    `json:"notify,omitempty"`
	Commands   *CommandsConfig  `json:"commands,omitempty"`
	Systemd    SystemdConfig    `json:"systemd,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards log lines at min_level and above to the notify
// chat. Defaults: min_level "error", rate_per_sec 1.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// ActivationConfig controls the reconciliation trigger.
//
// Defaults:
//   - timezone: "UTC"
//   - every: "60s" (cron specs and HH:MM intervals are accepted too)
//   - store_timeout: "5s"
//   - workers: 4
type ActivationConfig struct {
	Enabled      *bool  `json:"enabled,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
	Every        string `json:"every,omitempty"`
	StoreTimeout string `json:"store_timeout,omitempty"`
	Workers      int    `json:"workers,omitempty"`
}

// PeriodicEnabled reports whether the periodic trigger runs (default true).
func (a ActivationConfig) PeriodicEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// HTTPConfig controls the operator API.
//
// Prefer binding to localhost; the API has no authentication of its own.
type HTTPConfig struct {
	Addr                string `json:"addr,omitempty"` // default: "127.0.0.1:8080"
	ReconcileRatePerSec int    `json:"reconcile_rate_per_sec,omitempty"`
	ReconcileBurst      int    `json:"reconcile_burst,omitempty"`
	Pprof               bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// StorageConfig selects the schedule store.
//
// Example:
//
//	storage: { driver: sqlite, path: ./data/surveysched.db }
type StorageConfig struct {
	Driver      string      `json:"driver"`
	Path        string      `json:"path,omitempty"`
	BusyTimeout string      `json:"busy_timeout,omitempty"` // sqlite
	Redis       RedisConfig `json:"redis,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// NotifyConfig controls transition notifications.
type NotifyConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`
	// RatePerSec caps outgoing messages; 0 means 1.
	RatePerSec int `json:"rate_per_sec,omitempty"`
	// Buffer is the event subscription buffer; 0 means 64.
	Buffer int `json:"buffer,omitempty"`
}

type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// CommandsConfig enables the owner-only Telegram chat commands. It reuses
// notify.telegram.token.
type CommandsConfig struct {
	Enabled  bool    `json:"enabled"`
	OwnerIDs []int64 `json:"owner_ids"`
	// PollTimeout is the long poll timeout; default "10s". Restart to apply.
	PollTimeout string `json:"poll_timeout,omitempty"`
	// Timeout bounds one command; default "30s".
	Timeout string `json:"timeout,omitempty"`
}

// SystemdConfig controls sd_notify integration. Both are no-ops when not
// running under systemd.
type SystemdConfig struct {
	Notify   *bool `json:"notify,omitempty"`
	Watchdog *bool `json:"watchdog,omitempty"`
}

func (s SystemdConfig) NotifyEnabled() bool   { return s.Notify == nil || *s.Notify }
func (s SystemdConfig) WatchdogEnabled() bool { return s.Watchdog == nil || *s.Watchdog }
