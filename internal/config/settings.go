package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"
)

// Environment variables consulted for the bot token, in order.
var tokenEnv = []string{"BADGEWATCH_TELEGRAM_TOKEN", "TELEGRAM_TOKEN"}

// ApplyEnv fills secrets that are allowed to live outside the config file.
func ApplyEnv(cfg *Config) {
	if cfg == nil || strings.TrimSpace(cfg.Telegram.Token) != "" {
		return
	}
	for _, k := range tokenEnv {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			cfg.Telegram.Token = v
			return
		}
	}
}

type TelegramSettings struct {
	Token          string
	PollTimeout    time.Duration
	AllowedUserIDs []int64
	Workers        int
	CommandTimeout time.Duration
}

func (c TelegramConfig) Settings() (TelegramSettings, error) {
	poll, err := ParseDurationOrDefault("telegram.poll_timeout", c.PollTimeout, 10*time.Second)
	if err != nil {
		return TelegramSettings{}, err
	}
	cmdTimeout, err := ParseDurationOrDefault("telegram.command_timeout", c.CommandTimeout, 30*time.Second)
	if err != nil {
		return TelegramSettings{}, err
	}
	workers := c.Workers
	if workers <= 0 {
		workers = 4
	}
	return TelegramSettings{
		Token:          strings.TrimSpace(c.Token),
		PollTimeout:    poll,
		AllowedUserIDs: append([]int64(nil), c.AllowedUserIDs...),
		Workers:        workers,
		CommandTimeout: cmdTimeout,
	}, nil
}

type WatchSettings struct {
	Interval       time.Duration
	InitialDelay   time.Duration
	FetchTimeout   time.Duration
	NotifyFirstRun bool
	StopTimeout    time.Duration
	MaxSubscribers int
}

func (c WatchConfig) Settings() (WatchSettings, error) {
	var (
		s   WatchSettings
		err error
	)
	if s.Interval, err = ParseDurationOrDefault("watch.interval", c.Interval, 60*time.Second); err != nil {
		return WatchSettings{}, err
	}
	if s.Interval < time.Second {
		return WatchSettings{}, fmt.Errorf("watch.interval: must be >= 1s, got %s", s.Interval)
	}
	if s.InitialDelay, err = ParseDurationField("watch.initial_delay", c.InitialDelay); err != nil {
		return WatchSettings{}, err
	}
	if s.FetchTimeout, err = ParseDurationOrDefault("watch.fetch_timeout", c.FetchTimeout, 15*time.Second); err != nil {
		return WatchSettings{}, err
	}
	if s.StopTimeout, err = ParseDurationOrDefault("watch.stop_timeout", c.StopTimeout, 10*time.Second); err != nil {
		return WatchSettings{}, err
	}
	if c.MaxSubscribers < 0 {
		return WatchSettings{}, errors.New("watch.max_subscribers: must be >= 0")
	}
	s.MaxSubscribers = c.MaxSubscribers
	s.NotifyFirstRun = true
	if c.NotifyFirstRun != nil {
		s.NotifyFirstRun = *c.NotifyFirstRun
	}
	return s, nil
}

const (
	DefaultPortalURL     = "https://cabinet.nf.uust.ru/"
	DefaultChatPath      = "/chat/index"
	DefaultBadgeSelector = "span.badge.room-unread"
	DefaultRoomSelector  = "a, li"
)

type PortalSettings struct {
	BaseURL       *url.URL
	LoginPath     string
	ChatPath      string
	UsernameField string
	PasswordField string
	BadgeSelector string
	RoomSelector  string
	UserAgent     string
}

func (c PortalConfig) Settings() (PortalSettings, error) {
	raw := orDefault(c.BaseURL, DefaultPortalURL)
	u, err := url.Parse(raw)
	if err != nil {
		return PortalSettings{}, fmt.Errorf("portal.base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return PortalSettings{}, fmt.Errorf("portal.base_url: want absolute http(s) URL, got %q", raw)
	}
	return PortalSettings{
		BaseURL:       u,
		LoginPath:     orDefault(c.LoginPath, "/"),
		ChatPath:      orDefault(c.ChatPath, DefaultChatPath),
		UsernameField: orDefault(c.UsernameField, "username"),
		PasswordField: orDefault(c.PasswordField, "password"),
		BadgeSelector: orDefault(c.BadgeSelector, DefaultBadgeSelector),
		RoomSelector:  orDefault(c.RoomSelector, DefaultRoomSelector),
		UserAgent:     orDefault(c.UserAgent, "badgewatch/1.0"),
	}, nil
}

type NotifierSettings struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
}

// NotifierSettings resolves the notifier section; nil means defaults.
func (c *Config) NotifierSettings() (NotifierSettings, error) {
	s := NotifierSettings{
		Enabled:       true,
		Workers:       2,
		QueueSize:     512,
		RatePerSec:    20,
		RetryMax:      3,
		RetryBase:     500 * time.Millisecond,
		RetryMaxDelay: 10 * time.Second,
		SendTimeout:   10 * time.Second,
	}
	n := c.Notifier
	if n == nil {
		return s, nil
	}
	s.Enabled = n.Enabled
	if n.Workers > 0 {
		s.Workers = n.Workers
	}
	if n.QueueSize > 0 {
		s.QueueSize = n.QueueSize
	}
	if n.RatePerSec > 0 {
		s.RatePerSec = n.RatePerSec
	}
	if n.RetryMax >= 0 {
		s.RetryMax = n.RetryMax
	}
	var err error
	if s.RetryBase, err = ParseDurationOrDefault("notifier.retry_base", n.RetryBase, s.RetryBase); err != nil {
		return NotifierSettings{}, err
	}
	if s.RetryMaxDelay, err = ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, s.RetryMaxDelay); err != nil {
		return NotifierSettings{}, err
	}
	if s.SendTimeout, err = ParseDurationOrDefault("notifier.send_timeout", n.SendTimeout, s.SendTimeout); err != nil {
		return NotifierSettings{}, err
	}
	return s, nil
}

type ObservabilitySettings struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
	Metrics       bool
	Pprof         bool
	PprofPrefix   string
	ReadTimeout   time.Duration
	IdleTimeout   time.Duration
}

func (c ObservabilityConfig) Settings() (ObservabilitySettings, error) {
	s := ObservabilitySettings{
		Enabled:       c.Enabled,
		Addr:          orDefault(c.Addr, "127.0.0.1:9464"),
		Token:         strings.TrimSpace(c.Token),
		AllowInsecure: c.AllowInsecure,
		Metrics:       c.Metrics,
		Pprof:         c.Pprof,
		PprofPrefix:   orDefault(c.PprofPrefix, "/debug/pprof/"),
	}
	var err error
	if s.ReadTimeout, err = ParseDurationOrDefault("observability.read_timeout", c.ReadTimeout, 10*time.Second); err != nil {
		return ObservabilitySettings{}, err
	}
	if s.IdleTimeout, err = ParseDurationOrDefault("observability.idle_timeout", c.IdleTimeout, 60*time.Second); err != nil {
		return ObservabilitySettings{}, err
	}
	if _, _, err := net.SplitHostPort(s.Addr); err != nil {
		return ObservabilitySettings{}, fmt.Errorf("observability.addr: %w", err)
	}
	return s, nil
}

// Validate resolves every section and reports the first problem.
// It is used both at startup and as the hot-reload validator.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram.token: required (or set BADGEWATCH_TELEGRAM_TOKEN)")
	}
	if _, err := cfg.Telegram.Settings(); err != nil {
		return err
	}
	if _, err := cfg.Watch.Settings(); err != nil {
		return err
	}
	if _, err := cfg.Portal.Settings(); err != nil {
		return err
	}
	if _, err := cfg.NotifierSettings(); err != nil {
		return err
	}
	if _, err := cfg.Observability.Settings(); err != nil {
		return err
	}
	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}
