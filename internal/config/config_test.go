package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"surveysched/pkg/logx"
)

const sampleYAML = `
logging:
  level: debug
  console: true
activation:
  timezone: Europe/Istanbul
  every: "00:01"
  store_timeout: 3s
  workers: 2
http:
  addr: 127.0.0.1:9090
  reconcile_rate_per_sec: 2
storage:
  driver: sqlite
  path: ./data/schedules.db
notify:
  enabled: true
  telegram:
    token: "123:abc"
    chat_id: -100200
`

func TestDecode_YAML(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "Europe/Istanbul", cfg.Activation.Timezone)
	require.Equal(t, 2, cfg.Activation.Workers)
	require.Equal(t, "sqlite", cfg.Storage.Driver)
	require.NotNil(t, cfg.Notify)
	require.Equal(t, int64(-100200), cfg.Notify.Telegram.ChatID)
	require.True(t, cfg.Activation.PeriodicEnabled())
	require.NoError(t, Validate(cfg))

	loc, err := cfg.Activation.Location()
	require.NoError(t, err)
	require.Equal(t, "Europe/Istanbul", loc.String())
}

func TestDecode_Strict(t *testing.T) {
	t.Parallel()

	_, err := Decode("config.json", []byte(`{"storage":{"driver":"memory"},"bogus":1}`))
	require.Error(t, err)

	_, err = Decode("config.json", []byte(`{"storage":{"driver":"memory"}} {}`))
	require.ErrorContains(t, err, "trailing data")

	_, err = Decode("config.yml", []byte("storage:\n  driver: memory\n  extra: 1\n"))
	require.Error(t, err)
}

func TestValidate_CollectsProblems(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Logging:    LoggingConfig{Level: "loud"},
		Activation: ActivationConfig{Timezone: "Mars/Olympus", Every: "500ms", Workers: -1},
		Storage:    StorageConfig{Driver: "sqlite"},
		Notify:     &NotifyConfig{Enabled: true},
	}
	err := Validate(cfg)
	require.Error(t, err)
	for _, want := range []string{
		"logging.level",
		"activation.timezone",
		"activation.every",
		"activation.workers",
		"storage.path",
		"notify.telegram.token",
		"notify.telegram.chat_id",
	} {
		require.ErrorContains(t, err, want)
	}
}

func TestValidate_TriggerForms(t *testing.T) {
	t.Parallel()

	for _, every := range []string{"", "60s", "00:05", "*/5 * * * *", "0 */2 * * * *", "@hourly"} {
		cfg := &Config{Storage: StorageConfig{Driver: "memory"}, Activation: ActivationConfig{Every: every}}
		require.NoError(t, Validate(cfg), every)
	}
	for _, every := range []string{"soon", "0s", "61 * * * *"} {
		cfg := &Config{Storage: StorageConfig{Driver: "memory"}, Activation: ActivationConfig{Every: every}}
		require.Error(t, Validate(cfg), every)
	}
	require.Equal(t, "1m0s", ActivationConfig{}.TriggerSpec())
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SURVEYSCHED_LOG_LEVEL", "warn")
	t.Setenv("SURVEYSCHED_STORAGE_DRIVER", "redis")
	t.Setenv("SURVEYSCHED_REDIS_ADDR", "localhost:6379")
	t.Setenv("SURVEYSCHED_TELEGRAM_TOKEN", "secret")

	cfg := &Config{Logging: LoggingConfig{Level: "info"}, Storage: StorageConfig{Driver: "memory"}}
	require.NoError(t, ApplyEnv(cfg))
	require.Equal(t, "warn", cfg.Logging.Level)
	require.Equal(t, "redis", cfg.Storage.Driver)
	require.Equal(t, "localhost:6379", cfg.Storage.Redis.Addr)
	require.NotNil(t, cfg.Notify)
	require.Equal(t, "secret", cfg.Notify.Telegram.Token)
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	old := &Config{Storage: StorageConfig{Driver: "memory"}}
	next := &Config{
		Storage:    StorageConfig{Driver: "memory"},
		Activation: ActivationConfig{Every: "30s"},
		Notify:     &NotifyConfig{Enabled: true, Telegram: TelegramConfig{Token: "top-secret", ChatID: 1}},
	}
	changed, attrs := SummarizeConfigChange(old, next)
	require.Equal(t, []string{"activation", "notify"}, changed)
	var buf bytes.Buffer
	logx.NewWriter(&buf, "debug").Info("config changed", attrs...)
	require.Contains(t, buf.String(), `"notify.token_set":true`)
	require.NotContains(t, buf.String(), "top-secret")

	changed, _ = SummarizeConfigChange(next, next)
	require.Empty(t, changed)

	withOwners := *next
	withOwners.Commands = &CommandsConfig{Enabled: true, OwnerIDs: []int64{1, 2}}
	changed, _ = SummarizeConfigChange(next, &withOwners)
	require.Equal(t, []string{"commands"}, changed)
}

func TestValidate_Commands(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Storage:  StorageConfig{Driver: "memory"},
		Commands: &CommandsConfig{Enabled: true, PollTimeout: "forever"},
	}
	err := Validate(cfg)
	require.ErrorContains(t, err, "commands: notify.telegram.token is required")
	require.ErrorContains(t, err, "commands.owner_ids")
	require.ErrorContains(t, err, "commands.poll_timeout")

	cfg.Notify = &NotifyConfig{Telegram: TelegramConfig{Token: "123:abc"}}
	cfg.Commands = &CommandsConfig{Enabled: true, OwnerIDs: []int64{42}, PollTimeout: "20s"}
	require.NoError(t, Validate(cfg))

	cfg.Commands.Enabled = false
	cfg.Commands.OwnerIDs = nil
	require.NoError(t, Validate(cfg))
}

func TestValidate_LoggingTelegram(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Logging: LoggingConfig{Telegram: LoggingTelegram{Enabled: true, MinLevel: "shout", RatePerSec: -1}},
		Storage: StorageConfig{Driver: "memory"},
	}
	err := Validate(cfg)
	require.ErrorContains(t, err, "logging.telegram: notify.telegram.token and chat_id are required")
	require.ErrorContains(t, err, "logging.telegram.min_level")
	require.ErrorContains(t, err, "logging.telegram.rate_per_sec")

	cfg.Notify = &NotifyConfig{Telegram: TelegramConfig{Token: "123:abc", ChatID: -100}}
	cfg.Logging.Telegram = LoggingTelegram{Enabled: true, MinLevel: "warn", RatePerSec: 2}
	require.NoError(t, Validate(cfg))

	decoded, err := Decode("config.yaml", []byte(`
logging:
  telegram:
    enabled: true
    min_level: warn
    rate_per_sec: 2
storage:
  driver: memory
`))
	require.NoError(t, err)
	require.Equal(t, cfg.Logging.Telegram, decoded.Logging.Telegram)

	changed, _ := SummarizeConfigChange(&Config{}, &Config{Logging: decoded.Logging})
	require.Equal(t, []string{"logging"}, changed)
}

func TestDurationOr(t *testing.T) {
	t.Parallel()

	require.Equal(t, 3*time.Second, DurationOr("3s", time.Second))
	require.Equal(t, time.Second, DurationOr("", time.Second))
	require.Equal(t, time.Second, DurationOr("nope", time.Second))
}

func TestManager_LoadAndWatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"storage":{"driver":"memory"},"activation":{"every":"30s"}}`), 0o600))

	m := NewManager(path)
	cfg, err := m.Load()
	require.NoError(t, err)
	require.Equal(t, "30s", cfg.Activation.Every)
	require.Same(t, cfg, m.Get())

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	// An invalid edit is rejected and leaves the committed config alone.
	// Give the watcher a moment to register the directory first.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"storage":{"driver":"warp"}}`), 0o600))
	time.Sleep(500 * time.Millisecond)
	require.Equal(t, "30s", m.Get().Activation.Every)

	require.NoError(t, os.WriteFile(path, []byte(`{"storage":{"driver":"memory"},"activation":{"every":"45s"}}`), 0o600))
	select {
	case got := <-ch:
		require.Equal(t, "45s", got.Activation.Every)
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}
	require.Equal(t, "45s", m.Get().Activation.Every)

	cancel()
	<-done
}
