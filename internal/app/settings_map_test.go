package app

import (
	"testing"
	"time"

	"badgewatch/internal/config"
)

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		storage     *config.StorageConfig
		wantEnabled bool
		wantDriver  string
		wantPath    string
		wantBusy    time.Duration
		wantErr     bool
	}{
		{name: "absent"},
		{name: "none", storage: &config.StorageConfig{Driver: "None"}},
		{name: "file", storage: &config.StorageConfig{Driver: "file", Path: " ./data/x "}, wantEnabled: true, wantDriver: "file", wantPath: "./data/x"},
		{name: "sqlite default path", storage: &config.StorageConfig{Driver: "SQLite"}, wantEnabled: true, wantDriver: "sqlite", wantPath: "./data/badgewatch.db", wantBusy: time.Second},
		{name: "sqlite busy", storage: &config.StorageConfig{Driver: "sqlite3", Path: "a.db", BusyTimeout: "3s"}, wantEnabled: true, wantDriver: "sqlite3", wantPath: "a.db", wantBusy: 3 * time.Second},
		{name: "bad busy", storage: &config.StorageConfig{Driver: "sqlite", BusyTimeout: "soon"}, wantErr: true},
		{name: "unknown", storage: &config.StorageConfig{Driver: "redis"}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sc, enabled, err := mapStorageConfig(&config.Config{Storage: tt.storage})
			if (err != nil) != tt.wantErr {
				t.Fatalf("mapStorageConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if enabled != tt.wantEnabled || sc.Driver != tt.wantDriver || sc.Path != tt.wantPath || sc.BusyTimeout != tt.wantBusy {
				t.Fatalf("mapStorageConfig() = %+v, %v", sc, enabled)
			}
		})
	}
}

func TestMapWatchConfigDefaults(t *testing.T) {
	t.Parallel()

	wc, err := mapWatchConfig(&config.Config{})
	if err != nil {
		t.Fatalf("mapWatchConfig() error = %v", err)
	}
	if wc.Interval != time.Minute || wc.FetchTimeout != 15*time.Second || !wc.NotifyFirstRun {
		t.Fatalf("mapWatchConfig() = %+v", wc)
	}

	off := false
	wc, err = mapWatchConfig(&config.Config{Watch: config.WatchConfig{Interval: "5m", NotifyFirstRun: &off}})
	if err != nil {
		t.Fatalf("mapWatchConfig() error = %v", err)
	}
	if wc.Interval != 5*time.Minute || wc.NotifyFirstRun {
		t.Fatalf("mapWatchConfig() = %+v", wc)
	}

	if _, err := mapWatchConfig(&config.Config{Watch: config.WatchConfig{Interval: "100ms"}}); err == nil {
		t.Fatalf("mapWatchConfig(100ms) error = nil, want error")
	}
}

func TestMapNotifierConfig(t *testing.T) {
	t.Parallel()

	nc, err := mapNotifierConfig(&config.Config{})
	if err != nil {
		t.Fatalf("mapNotifierConfig() error = %v", err)
	}
	if !nc.Enabled || nc.Workers != 2 || nc.QueueSize != 512 {
		t.Fatalf("mapNotifierConfig(nil section) = %+v", nc)
	}

	nc, err = mapNotifierConfig(&config.Config{Notifier: &config.NotifierConfig{Enabled: false, RetryBase: "1s"}})
	if err != nil {
		t.Fatalf("mapNotifierConfig() error = %v", err)
	}
	if nc.Enabled || nc.RetryBase != time.Second {
		t.Fatalf("mapNotifierConfig() = %+v", nc)
	}
}

func TestMapLogConfig(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Logging: config.LoggingConfig{
		Level:    "debug",
		Telegram: config.LoggingTelegram{Enabled: true, ChatID: -100, ThreadID: 3, MinLevel: "warn"},
	}}
	lc := mapLogConfig(cfg)
	if lc.Level != "debug" || !lc.Telegram.Enabled || lc.Telegram.ChatID != -100 || lc.Telegram.ThreadID != 3 {
		t.Fatalf("mapLogConfig() = %+v", lc)
	}
}
