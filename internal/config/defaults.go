package config

import (
	"strings"
	"time"
)

const (
	DefaultSchedule   = "0 12 * * 6"
	DefaultTimezone   = "Asia/Singapore"
	DefaultWeekday    = "wednesday"
	DefaultTimeRange  = "8-10pm"
	DefaultLocation   = "@SLK"
	DefaultMaxRetries = 3

	DefaultRetryDelay    = 5 * time.Second
	DefaultSendTimeout   = 20 * time.Second
	DefaultListTimeout   = 30 * time.Second
	DefaultLookupTimeout = 20 * time.Second
	DefaultDedupWindow   = 6 * 24 * time.Hour
	DefaultBusyTimeout   = 5 * time.Second
)

// DefaultOptions are the two mutually exclusive poll answers.
var DefaultOptions = []string{"On", "Off"}

// ApplyDefaults fills empty fields. It never overrides explicit values.
func (c *Config) ApplyDefaults() {
	if c == nil {
		return
	}
	t := &c.Transport
	if strings.TrimSpace(t.Platform) == "" {
		t.Platform = PlatformWhatsApp
	}
	t.Platform = strings.ToLower(strings.TrimSpace(t.Platform))
	if strings.TrimSpace(t.WhatsApp.SessionPath) == "" {
		t.WhatsApp.SessionPath = "./data/whatsapp.db"
	}

	p := &c.Poll
	setIfEmpty(&p.Schedule, DefaultSchedule)
	setIfEmpty(&p.Timezone, DefaultTimezone)
	setIfEmpty(&p.Weekday, DefaultWeekday)
	setIfEmpty(&p.TimeRange, DefaultTimeRange)
	setIfEmpty(&p.Location, DefaultLocation)
	if len(p.Options) == 0 {
		p.Options = append([]string(nil), DefaultOptions...)
	}

	if c.Dispatch.MaxRetries == nil {
		n := DefaultMaxRetries
		c.Dispatch.MaxRetries = &n
	}

	setIfEmpty(&c.Logging.Level, "info")

	s := &c.Storage
	setIfEmpty(&s.Driver, "file")
	s.Driver = strings.ToLower(strings.TrimSpace(s.Driver))
	if strings.TrimSpace(s.Path) == "" {
		switch s.Driver {
		case "sqlite":
			s.Path = "./data/pollbot.db"
		case "file":
			s.Path = "./data/pollbot"
		}
	}
}

func setIfEmpty(p *string, def string) {
	if strings.TrimSpace(*p) == "" {
		*p = def
	}
}
