package config

import (
	"reflect"
	"strings"

	logx "pollbot/pkg/logx"
)

// Change summarises a reload.
type Change struct {
	// Sections lists the top-level sections that differ.
	Sections []string
	// Attrs are safe structured fields for logging. Tokens are never included.
	Attrs []logx.Field
	// RestartRequired is set when a section other than logging changed.
	// Those sections are read once at startup.
	RestartRequired bool
}

// Empty reports whether nothing changed.
func (c Change) Empty() bool { return len(c.Sections) == 0 }

// SummarizeChange compares two configs section by section.
func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		ch.Sections = append(ch.Sections, "logging")
		ch.Attrs = append(ch.Attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert_enabled", newCfg.Logging.Alert.Enabled),
		)
	}

	ot, nt := oldCfg.Transport, newCfg.Transport
	if ot.Platform != nt.Platform ||
		ot.WhatsApp != nt.WhatsApp ||
		strings.TrimSpace(ot.Telegram.PollTimeout) != strings.TrimSpace(nt.Telegram.PollTimeout) ||
		ot.Telegram.Token != nt.Telegram.Token ||
		ot.Slack.Token != nt.Slack.Token {
		ch.Sections = append(ch.Sections, "transport")
		ch.Attrs = append(ch.Attrs,
			logx.String("transport.platform", nt.Platform),
			logx.Bool("transport.token_changed", ot.Telegram.Token != nt.Telegram.Token || ot.Slack.Token != nt.Slack.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Poll, newCfg.Poll) {
		ch.Sections = append(ch.Sections, "poll")
		ch.Attrs = append(ch.Attrs,
			logx.String("poll.schedule", newCfg.Poll.Schedule),
			logx.String("poll.timezone", newCfg.Poll.Timezone),
			logx.String("poll.weekday", newCfg.Poll.Weekday),
		)
	}

	if !reflect.DeepEqual(oldCfg.Dispatch, newCfg.Dispatch) {
		ch.Sections = append(ch.Sections, "dispatch")
	}
	if oldCfg.Storage != newCfg.Storage {
		ch.Sections = append(ch.Sections, "storage")
		ch.Attrs = append(ch.Attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Metrics != newCfg.Metrics {
		ch.Sections = append(ch.Sections, "metrics")
	}
	if oldCfg.Systemd != newCfg.Systemd {
		ch.Sections = append(ch.Sections, "systemd")
	}

	for _, s := range ch.Sections {
		if s != "logging" {
			ch.RestartRequired = true
			break
		}
	}
	return ch
}

// LogxConfig maps the logging section to logx.Config.
func (l LoggingConfig) LogxConfig() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Alert: logx.AlertConfig{
			Enabled:    l.Alert.Enabled,
			MinLevel:   l.Alert.MinLevel,
			RatePerSec: l.Alert.RatePerSec,
		},
	}
}
