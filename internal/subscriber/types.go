// Package subscriber owns per-chat watch state: credentials, the last
// snapshot and the failure-reported flag.
package subscriber

import (
	"strconv"
	"strings"
	"time"

	"badgewatch/internal/snapshot"
)

// ID identifies a subscriber. It is the Telegram chat id.
type ID int64

func (id ID) String() string { return strconv.FormatInt(int64(id), 10) }

// Credentials are portal login credentials. The password never appears in
// String output.
type Credentials struct {
	Login    string
	Password string
}

func (c Credentials) Valid() bool {
	return strings.TrimSpace(c.Login) != "" && c.Password != ""
}

func (c Credentials) String() string { return c.Login + ":***" }

// State is the lifecycle state of a subscriber.
type State int

const (
	Unconfigured State = iota
	Fresh              // configured, no successful check yet
	Tracking           // last check succeeded
	Degraded           // failing; failure already reported
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Tracking:
		return "tracking"
	case Degraded:
		return "degraded"
	default:
		return "unconfigured"
	}
}

// Status is a read-only view for operators and /status.
type Status struct {
	ID           ID
	Login        string
	State        State
	Snapshot     snapshot.Snapshot
	HasSnapshot  bool
	ConfiguredAt time.Time
	LastCheck    time.Time
	LastSuccess  time.Time
	LastError    string
	Checks       int
	Failures     int
}
