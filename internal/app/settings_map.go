package app

import (
	"fmt"
	"strings"
	"time"

	"badgewatch/internal/config"
	"badgewatch/internal/notifier"
	"badgewatch/internal/observability"
	"badgewatch/internal/portal"
	"badgewatch/internal/storage"
	"badgewatch/internal/watch"
	logx "badgewatch/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     l.Telegram.ChatID,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapWatchConfig(cfg *config.Config) (watch.Config, error) {
	s, err := cfg.Watch.Settings()
	if err != nil {
		return watch.Config{}, err
	}
	return watch.Config{
		Interval:       s.Interval,
		InitialDelay:   s.InitialDelay,
		FetchTimeout:   s.FetchTimeout,
		NotifyFirstRun: s.NotifyFirstRun,
		StopTimeout:    s.StopTimeout,
		MaxSubscribers: s.MaxSubscribers,
	}, nil
}

func mapPortalConfig(cfg *config.Config) (portal.Config, error) {
	s, err := cfg.Portal.Settings()
	if err != nil {
		return portal.Config{}, err
	}
	return portal.Config{
		BaseURL:       s.BaseURL,
		LoginPath:     s.LoginPath,
		ChatPath:      s.ChatPath,
		UsernameField: s.UsernameField,
		PasswordField: s.PasswordField,
		BadgeSelector: s.BadgeSelector,
		RoomSelector:  s.RoomSelector,
		UserAgent:     s.UserAgent,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	s, err := cfg.NotifierSettings()
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:       s.Enabled,
		Workers:       s.Workers,
		QueueSize:     s.QueueSize,
		RatePerSec:    s.RatePerSec,
		RetryMax:      s.RetryMax,
		RetryBase:     s.RetryBase,
		RetryMaxDelay: s.RetryMaxDelay,
		SendTimeout:   s.SendTimeout,
	}, nil
}

func mapObservabilityConfig(cfg *config.Config) (observability.Config, error) {
	s, err := cfg.Observability.Settings()
	if err != nil {
		return observability.Config{}, err
	}
	return observability.Config{
		Enabled:       s.Enabled,
		Addr:          s.Addr,
		Token:         s.Token,
		AllowInsecure: s.AllowInsecure,
		Metrics:       s.Metrics,
		Pprof:         s.Pprof,
		PprofPrefix:   s.PprofPrefix,
		ReadTimeout:   s.ReadTimeout,
		IdleTimeout:   s.IdleTimeout,
	}, nil
}

// mapStorageConfig reports enabled=false when no audit store is configured.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path)}, true, nil
	case "sqlite", "sqlite3":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			path = "./data/badgewatch.db"
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("storage.driver: unknown driver %q", sc.Driver)
	}
}
