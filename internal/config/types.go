package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("5s", "1m30s"). Empty values fall back to
// the defaults in defaults.go.
type Config struct {
	Transport TransportConfig `json:"transport"`
	Poll      PollConfig      `json:"poll"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Metrics   MetricsConfig   `json:"metrics"`
	Systemd   SystemdConfig   `json:"systemd"`
}

// Supported messaging platforms.
const (
	PlatformWhatsApp = "whatsapp"
	PlatformTelegram = "telegram"
	PlatformSlack    = "slack"
)

type TransportConfig struct {
	// Platform selects the messaging backend. Default "whatsapp".
	Platform string         `json:"platform"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Telegram TelegramConfig `json:"telegram"`
	Slack    SlackConfig    `json:"slack"`
}

type WhatsAppConfig struct {
	// SessionPath is the sqlite file holding the linked-device session.
	SessionPath string `json:"session_path"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout"`
}

type SlackConfig struct {
	Token string `json:"token"`
}

// PollConfig describes the weekly poll. It is read once at startup;
// reloads never change the running values.
type PollConfig struct {
	Target    TargetConfig `json:"target"`
	Location  string       `json:"location"`
	TimeRange string       `json:"time_range"`
	// Weekday is the day the poll asks about ("wednesday", "wed" or 0-6 with 0 = Sunday).
	Weekday  string   `json:"weekday"`
	Schedule string   `json:"schedule"`
	Timezone string   `json:"timezone"`
	Options  []string `json:"options,omitempty"`

	// StartupTestDelay, when set, sends one extra poll this long after the
	// client first becomes ready. Empty disables it.
	StartupTestDelay string `json:"startup_test_delay,omitempty"`
}

// TargetConfig selects the destination conversation.
// Exactly one of Name or ID must be set; ID wins when resolving.
type TargetConfig struct {
	Name string `json:"name,omitempty"`
	ID   string `json:"id,omitempty"`
}

type DispatchConfig struct {
	// MaxRetries is the number of retries after the first attempt. Nil means default (3).
	MaxRetries    *int   `json:"max_retries,omitempty"`
	RetryDelay    string `json:"retry_delay"`
	SendTimeout   string `json:"send_timeout"`
	ListTimeout   string `json:"list_timeout"`
	LookupTimeout string `json:"lookup_timeout"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
	Alert   LoggingAlertCfg   `json:"alert"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlertCfg forwards warn+ log records to an operator conversation.
type LoggingAlertCfg struct {
	Enabled    bool   `json:"enabled"`
	TargetID   string `json:"target_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type StorageConfig struct {
	// Driver: "none", "file" or "sqlite". Default "file".
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout"`
	// DedupWindow is how long a delivered poll suppresses an identical one.
	DedupWindow string `json:"dedup_window"`
}

type MetricsConfig struct {
	// Textfile is a node_exporter textfile collector path. Empty disables metrics output.
	Textfile string `json:"textfile"`
}

type SystemdConfig struct {
	Notify   bool `json:"notify"`
	Watchdog bool `json:"watchdog"`
}
