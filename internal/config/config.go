// Package config resolves the runtime configuration from viper (flags, env,
// optional config file). Missing credentials are a startup error, never a
// runtime surprise.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	BotToken   string
	APIBaseURL string
	APIKey     string
	AdminID    int64

	HistoryLimit   int
	WindowSize     int
	MaxUserChars   int
	PollTimeout    time.Duration
	TaskTimeout    time.Duration
	RequestTimeout time.Duration
	MaxConcurrency int

	ProfilePath   string
	MetricsListen string
}

// SetDefaults registers every tunable's default with viper. Call once before
// binding flags.
func SetDefaults() {
	viper.SetDefault("chat.history_limit", 6)
	viper.SetDefault("chat.window_size", 4)
	viper.SetDefault("chat.max_user_chars", 2000)
	viper.SetDefault("telegram.poll_timeout", "30s")
	viper.SetDefault("telegram.task_timeout", "10m")
	viper.SetDefault("telegram.max_concurrency", 3)
	viper.SetDefault("api.request_timeout", "5m")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.add_source", false)
}

// FromViper reads and validates the full configuration. All four credentials
// (bot token, API base URL, API key, admin id) are required; absence of any is
// fatal before the process touches the network.
func FromViper() (Config, error) {
	cfg := Config{
		BotToken:       strings.TrimSpace(viper.GetString("telegram.bot_token")),
		APIBaseURL:     strings.TrimSpace(viper.GetString("api.base_url")),
		APIKey:         strings.TrimSpace(viper.GetString("api.key")),
		AdminID:        viper.GetInt64("admin.id"),
		HistoryLimit:   viper.GetInt("chat.history_limit"),
		WindowSize:     viper.GetInt("chat.window_size"),
		MaxUserChars:   viper.GetInt("chat.max_user_chars"),
		PollTimeout:    viper.GetDuration("telegram.poll_timeout"),
		TaskTimeout:    viper.GetDuration("telegram.task_timeout"),
		RequestTimeout: viper.GetDuration("api.request_timeout"),
		MaxConcurrency: viper.GetInt("telegram.max_concurrency"),
		ProfilePath:    strings.TrimSpace(viper.GetString("profile.path")),
		MetricsListen:  strings.TrimSpace(viper.GetString("metrics.listen")),
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	var missing []string
	if c.BotToken == "" {
		missing = append(missing, "telegram.bot_token")
	}
	if c.APIBaseURL == "" {
		missing = append(missing, "api.base_url")
	}
	if c.APIKey == "" {
		missing = append(missing, "api.key")
	}
	if c.AdminID == 0 {
		missing = append(missing, "admin.id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.WindowSize > c.HistoryLimit {
		return fmt.Errorf("chat.window_size (%d) must not exceed chat.history_limit (%d)", c.WindowSize, c.HistoryLimit)
	}
	return nil
}
