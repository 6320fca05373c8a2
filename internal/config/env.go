package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment overrides. Secrets normally live here rather than in the config file.
const (
	EnvTelegramToken = "POLLBOT_TELEGRAM_TOKEN"
	EnvSlackToken    = "POLLBOT_SLACK_TOKEN"
	EnvTargetID      = "POLLBOT_TARGET_ID"
	EnvTargetName    = "POLLBOT_TARGET_NAME"
	EnvLogLevel      = "POLLBOT_LOG_LEVEL"
)

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Existing variables win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// ApplyEnv overlays environment values onto cfg. lookup is usually os.LookupEnv.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if cfg == nil {
		return
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvTelegramToken); ok {
		cfg.Transport.Telegram.Token = v
	}
	if v, ok := get(EnvSlackToken); ok {
		cfg.Transport.Slack.Token = v
	}
	// An env target replaces the file target entirely so only one strategy stays active.
	if v, ok := get(EnvTargetID); ok {
		cfg.Poll.Target = TargetConfig{ID: v}
	} else if v, ok := get(EnvTargetName); ok {
		cfg.Poll.Target = TargetConfig{Name: v}
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Logging.Level = v
	}
}
