package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // timezone must resolve on hosts without zoneinfo
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// DispatchSettings are the parsed dispatch knobs.
type DispatchSettings struct {
	MaxRetries    int
	RetryDelay    time.Duration
	SendTimeout   time.Duration
	ListTimeout   time.Duration
	LookupTimeout time.Duration
}

// Settings parses the dispatch section, falling back to defaults for empty values.
func (d DispatchConfig) Settings() (DispatchSettings, error) {
	var out DispatchSettings
	var err error
	out.MaxRetries = DefaultMaxRetries
	if d.MaxRetries != nil {
		out.MaxRetries = *d.MaxRetries
	}
	if out.MaxRetries < 0 {
		return out, fmt.Errorf("dispatch.max_retries: must be >= 0")
	}
	if out.RetryDelay, err = ParseDurationOrDefault("dispatch.retry_delay", d.RetryDelay, DefaultRetryDelay); err != nil {
		return out, err
	}
	if out.SendTimeout, err = ParseDurationOrDefault("dispatch.send_timeout", d.SendTimeout, DefaultSendTimeout); err != nil {
		return out, err
	}
	if out.ListTimeout, err = ParseDurationOrDefault("dispatch.list_timeout", d.ListTimeout, DefaultListTimeout); err != nil {
		return out, err
	}
	if out.LookupTimeout, err = ParseDurationOrDefault("dispatch.lookup_timeout", d.LookupTimeout, DefaultLookupTimeout); err != nil {
		return out, err
	}
	return out, nil
}

// WeekdayValue parses Weekday.
func (p PollConfig) WeekdayValue() (time.Weekday, error) {
	return ParseWeekday(p.Weekday)
}

// LocationValue loads the configured IANA timezone.
func (p PollConfig) LocationValue() (*time.Location, error) {
	name := strings.TrimSpace(p.Timezone)
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("poll.timezone: %w", err)
	}
	return loc, nil
}

// StartupTestDelayValue returns 0 when the startup test send is disabled.
func (p PollConfig) StartupTestDelayValue() (time.Duration, error) {
	return ParseDurationField("poll.startup_test_delay", p.StartupTestDelay)
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseWeekday accepts English names, three-letter abbreviations or 0-6 (0 = Sunday).
func ParseWeekday(raw string) (time.Weekday, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if wd, ok := weekdayNames[s]; ok {
		return wd, nil
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n <= 6 {
		return time.Weekday(n), nil
	}
	return 0, fmt.Errorf("poll.weekday: unknown weekday %q", raw)
}

// Validate checks structural rules. Call after ApplyDefaults.
// Cron expressions are checked by the scheduler-aware validator installed in the app.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	switch c.Transport.Platform {
	case PlatformWhatsApp:
		if strings.TrimSpace(c.Transport.WhatsApp.SessionPath) == "" {
			add(errors.New("transport.whatsapp.session_path: required"))
		}
	case PlatformTelegram:
		if strings.TrimSpace(c.Transport.Telegram.Token) == "" {
			add(errors.New("transport.telegram.token: required"))
		}
		_, err := ParseDurationField("transport.telegram.poll_timeout", c.Transport.Telegram.PollTimeout)
		add(err)
	case PlatformSlack:
		if strings.TrimSpace(c.Transport.Slack.Token) == "" {
			add(errors.New("transport.slack.token: required"))
		}
	default:
		add(fmt.Errorf("transport.platform: unknown platform %q", c.Transport.Platform))
	}

	name := strings.TrimSpace(c.Poll.Target.Name)
	id := strings.TrimSpace(c.Poll.Target.ID)
	switch {
	case name == "" && id == "":
		add(errors.New("poll.target: one of name or id is required"))
	case name != "" && id != "":
		add(errors.New("poll.target: set only one of name or id"))
	}
	_, err := c.Poll.WeekdayValue()
	add(err)
	_, err = c.Poll.LocationValue()
	add(err)
	_, err = c.Poll.StartupTestDelayValue()
	add(err)
	if len(c.Poll.Options) != 2 {
		add(fmt.Errorf("poll.options: need exactly 2 options, got %d", len(c.Poll.Options)))
	} else if strings.TrimSpace(c.Poll.Options[0]) == "" || strings.TrimSpace(c.Poll.Options[1]) == "" ||
		c.Poll.Options[0] == c.Poll.Options[1] {
		add(errors.New("poll.options: options must be non-empty and distinct"))
	}

	_, err = c.Dispatch.Settings()
	add(err)

	if c.Logging.Alert.Enabled && strings.TrimSpace(c.Logging.Alert.TargetID) == "" {
		add(errors.New("logging.alert.target_id: required when alerts are enabled"))
	}

	switch c.Storage.Driver {
	case "none", "file", "sqlite":
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	_, err = ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	add(err)
	_, err = ParseDurationField("storage.dedup_window", c.Storage.DedupWindow)
	add(err)

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
