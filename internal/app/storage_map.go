package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pollbot/internal/config"
	"pollbot/internal/dispatch"
	"pollbot/internal/poll"
	"pollbot/internal/scheduler"
	"pollbot/internal/storage"
	"pollbot/internal/transport"
	"pollbot/internal/transport/slack"
	"pollbot/internal/transport/telegram"
	"pollbot/internal/transport/whatsapp"
	logx "pollbot/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, time.Duration, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	window, err := config.ParseDurationOrDefault("storage.dedup_window", sc.DedupWindow, config.DefaultDedupWindow)
	if err != nil {
		return storage.Config{}, 0, err
	}
	if driver == "" || driver == "none" {
		return storage.Config{Driver: "none"}, window, nil
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, 0, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, config.DefaultBusyTimeout)
	if err != nil {
		return storage.Config{}, 0, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, window, nil
}

func mapPolicy(cfg *config.Config) (dispatch.Policy, error) {
	s, err := cfg.Dispatch.Settings()
	if err != nil {
		return dispatch.Policy{}, err
	}
	return dispatch.Policy{
		MaxRetries:    s.MaxRetries,
		RetryDelay:    s.RetryDelay,
		SendTimeout:   s.SendTimeout,
		ListTimeout:   s.ListTimeout,
		LookupTimeout: s.LookupTimeout,
	}, nil
}

func mapTemplate(pc config.PollConfig) (poll.Template, error) {
	wd, err := pc.WeekdayValue()
	if err != nil {
		return poll.Template{}, err
	}
	var opts [2]string
	copy(opts[:], pc.Options)
	return poll.NewTemplate(wd, pc.TimeRange, pc.Location, opts), nil
}

// validateSchedule is the config validator installed on the manager. It
// rejects schedules the scheduler cannot parse, on load and on reload.
func validateSchedule(_ context.Context, cfg *config.Config) error {
	if _, err := scheduler.ParseSchedule(cfg.Poll.Schedule); err != nil {
		return fmt.Errorf("%w: poll.schedule: %w", config.ErrInvalid, err)
	}
	return nil
}

// newClient builds the messaging client for the configured platform.
func newClient(ctx context.Context, tc config.TransportConfig, log logx.Logger) (transport.Client, error) {
	switch tc.Platform {
	case config.PlatformWhatsApp:
		c, err := whatsapp.New(ctx, whatsapp.Config{SessionPath: tc.WhatsApp.SessionPath}, log)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.PlatformTelegram:
		timeout, err := config.ParseDurationOrDefault("transport.telegram.poll_timeout", tc.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		c, err := telegram.New(telegram.Config{Token: tc.Telegram.Token, PollTimeout: timeout}, log)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.PlatformSlack:
		c, err := slack.New(slack.Config{Token: tc.Slack.Token}, log)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown transport.platform: %s", tc.Platform)
	}
}
