// Package watch runs unread-badge checks for configured subscribers and
// turns increases and failures into notifications.
package watch

import (
	"context"
	"errors"
	"time"

	"badgewatch/internal/snapshot"
	"badgewatch/internal/subscriber"
	"badgewatch/internal/task/scheduler"
)

var (
	ErrInvalidCredentials = errors.New("watch: login and password are required")
	ErrNotConfigured      = errors.New("watch: subscriber is not configured")
	ErrTooManySubscribers = errors.New("watch: subscriber limit reached")
	ErrCheckInProgress    = errors.New("watch: a check is already running")
)

// Notification kinds.
const (
	KindIncrease = "increase"
	KindFailure  = "failure"
)

// Fetcher reads the current unread counts for one set of credentials.
type Fetcher interface {
	FetchUnreadCounts(ctx context.Context, creds subscriber.Credentials) (snapshot.Snapshot, error)
}

// Notifier delivers a message to a subscriber. Delivery is best-effort.
type Notifier interface {
	Notify(ctx context.Context, id subscriber.ID, kind, text string) error
}

// Tasks is the recurring-task runner.
type Tasks interface {
	Schedule(ctx context.Context, name string, every, initialDelay time.Duration, job scheduler.Job) error
	Cancel(ctx context.Context, name string) bool
	Remove(name string) bool
	RunNow(name string) error
	Info(name string) (scheduler.TaskInfo, bool)
}

// Outcome of a single check.
type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomeFailed       Outcome = "failed"
	OutcomeDiscarded    Outcome = "discarded"    // reset or replaced while running
	OutcomeUnconfigured Outcome = "unconfigured" // task outlived its subscriber
)

// Result describes one check.
type Result struct {
	ID       subscriber.ID
	Outcome  Outcome
	Report   snapshot.Report
	Notified bool
	Duration time.Duration
	Err      error
}

// CheckEvent is the event bus payload for check.* events.
type CheckEvent struct {
	ID            int64         `json:"id"`
	Outcome       string        `json:"outcome"`
	Duration      time.Duration `json:"duration"`
	TotalIncrease int           `json:"total_increase"`
	TotalCurrent  int           `json:"total_current"`
	Notified      bool          `json:"notified"`
	ErrorKind     string        `json:"error_kind,omitempty"`
}

// TaskName is the scheduler key for a subscriber.
func TaskName(id subscriber.ID) string { return "watch:" + id.String() }
