package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment override, e.g. SURVEYSCHED_LOG_LEVEL.
const EnvPrefix = "SURVEYSCHED"

// envOverrides are applied on top of the file; empty values leave the file
// setting alone. Secrets are expected to come from here rather than the file.
type envOverrides struct {
	LogLevel      string `envconfig:"LOG_LEVEL"`
	Timezone      string `envconfig:"TIMEZONE"`
	HTTPAddr      string `envconfig:"HTTP_ADDR"`
	StorageDriver string `envconfig:"STORAGE_DRIVER"`
	StoragePath   string `envconfig:"STORAGE_PATH"`
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	TelegramToken string `envconfig:"TELEGRAM_TOKEN"`
}

// ApplyEnv overlays SURVEYSCHED_* variables onto cfg.
func ApplyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Logging.Level, env.LogLevel)
	set(&cfg.Activation.Timezone, env.Timezone)
	set(&cfg.HTTP.Addr, env.HTTPAddr)
	set(&cfg.Storage.Driver, env.StorageDriver)
	set(&cfg.Storage.Path, env.StoragePath)
	set(&cfg.Storage.Redis.Addr, env.RedisAddr)
	set(&cfg.Storage.Redis.Password, env.RedisPassword)
	if env.TelegramToken != "" {
		if cfg.Notify == nil {
			cfg.Notify = &NotifyConfig{}
		}
		cfg.Notify.Telegram.Token = env.TelegramToken
	}
	return nil
}
