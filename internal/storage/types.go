package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file at <path-without-ext>.audit.jsonl
//   - "sqlite": SQLite database file (requires -tags sqlite)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Audit actions.
const (
	ActionConfigure = "configure"
	ActionReset     = "reset"
	ActionCheck     = "check"
)

// AuditEntry records a subscriber action. Keep it compact and schema-stable.
type AuditEntry struct {
	At            time.Time `json:"at"`
	SubscriberID  int64     `json:"subscriber_id"`
	ActorUsername string    `json:"actor_username,omitempty"`
	Action        string    `json:"action"`
	Login         string    `json:"login,omitempty"`
	OK            bool      `json:"ok"`
	Error         string    `json:"error,omitempty"`
	TookMS        int64     `json:"took_ms"`
}
