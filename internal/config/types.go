package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram      TelegramConfig      `json:"telegram"`
	Logging       LoggingConfig       `json:"logging"`
	Watch         WatchConfig         `json:"watch"`
	Portal        PortalConfig        `json:"portal"`
	Notifier      *NotifierConfig     `json:"notifier,omitempty"`
	Storage       *StorageConfig      `json:"storage,omitempty"`
	Observability ObservabilityConfig `json:"observability,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied via BADGEWATCH_TELEGRAM_TOKEN.
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout"`

	// AllowedUserIDs restricts who may talk to the bot. Empty allows everyone.
	AllowedUserIDs []int64 `json:"allowed_user_ids,omitempty"`

	// Command handling.
	Workers        int    `json:"workers,omitempty"`
	CommandTimeout string `json:"command_timeout,omitempty"`
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

// LoggingTelegram forwards WARN+ records to an operator chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// WatchConfig controls the per-subscriber check loop.
//
// Defaults:
//   - interval: "60s"
//   - initial_delay: "0s" (first check right after /set)
//   - fetch_timeout: "15s"
//   - notify_first_run: true
//   - stop_timeout: "10s"
type WatchConfig struct {
	Interval     string `json:"interval"`
	InitialDelay string `json:"initial_delay"`
	FetchTimeout string `json:"fetch_timeout"`

	// NotifyFirstRun reports every unread badge on the first successful check.
	// When false the first snapshot is recorded silently.
	NotifyFirstRun *bool `json:"notify_first_run,omitempty"`

	// StopTimeout bounds how long reset/replace waits for an in-flight check.
	StopTimeout string `json:"stop_timeout,omitempty"`

	// MaxSubscribers caps configured chats (0 = unlimited).
	MaxSubscribers int `json:"max_subscribers,omitempty"`
}

// PortalConfig describes the web portal whose unread badges are scraped.
type PortalConfig struct {
	BaseURL       string `json:"base_url"`
	LoginPath     string `json:"login_path,omitempty"`
	ChatPath      string `json:"chat_path,omitempty"`
	UsernameField string `json:"username_field,omitempty"`
	PasswordField string `json:"password_field,omitempty"`
	BadgeSelector string `json:"badge_selector,omitempty"`
	RoomSelector  string `json:"room_selector,omitempty"`
	UserAgent     string `json:"user_agent,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
// If the section is omitted the notifier runs with defaults.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	SendTimeout   string `json:"send_timeout,omitempty"`
}

// StorageConfig controls the audit store. Subscriber state is never stored.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./badgewatch_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// ObservabilityConfig controls the optional operator HTTP listener
// (/healthz, /metrics, pprof).
//
// Prefer a loopback address. A non-loopback bind requires a token or
// allow_insecure.
type ObservabilityConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default "127.0.0.1:9464"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Metrics       bool   `json:"metrics"`
	Pprof         bool   `json:"pprof"`
	PprofPrefix   string `json:"pprof_prefix,omitempty"`

	ReadTimeout string `json:"read_timeout,omitempty"`
	IdleTimeout string `json:"idle_timeout,omitempty"`
}
