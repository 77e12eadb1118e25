package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrNameRequired    = errors.New("scheduler: name required")
	ErrInvalidInterval = errors.New("scheduler: interval must be > 0")
	ErrNilJob          = errors.New("scheduler: job is nil")
	ErrStopped         = errors.New("scheduler: stopped")
	ErrNotFound        = errors.New("scheduler: task not found")
	ErrBusy            = errors.New("scheduler: task is already running")
)

// Job is one tick of a task. ctx is cancelled when the task is cancelled or
// replaced.
type Job func(ctx context.Context) error

// TaskEvent is published on the event bus for task lifecycle events.
type TaskEvent struct {
	Name     string        `json:"name"`
	Started  time.Time     `json:"started,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// TaskInfo is a diagnostic view of one task.
type TaskInfo struct {
	Name         string
	Every        time.Duration
	Next         time.Time
	Prev         time.Time
	Running      bool
	Runs         uint64
	Skipped      uint64
	Failures     uint64
	LastError    string
	LastDuration time.Duration
}

// runState is the overlap gate of a task name. It is shared by successive
// tasks with the same name so a replacement can never overlap a tick of the
// task it replaced.
type runState struct {
	mu   sync.Mutex
	done chan struct{} // non-nil while a tick runs
}

func (s *runState) tryAcquire() (chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return nil, false
	}
	s.done = make(chan struct{})
	return s.done, true
}

func (s *runState) release(done chan struct{}) {
	s.mu.Lock()
	if s.done == done {
		s.done = nil
	}
	s.mu.Unlock()
	close(done)
}

func (s *runState) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

// wait blocks until no tick is running or ctx is done.
func (s *runState) wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type task struct {
	name  string
	every time.Duration
	delay time.Duration
	job   Job

	ctx    context.Context
	cancel context.CancelFunc
	state  *runState

	entryID    cron.EntryID
	registered bool

	runs     atomic.Uint64
	skipped  atomic.Uint64
	failures atomic.Uint64

	statMu  sync.Mutex
	lastErr string
	lastDur time.Duration
}

func (t *task) record(d time.Duration, err error) {
	t.runs.Add(1)
	t.statMu.Lock()
	t.lastDur = d
	t.lastErr = ""
	if err != nil {
		t.failures.Add(1)
		t.lastErr = err.Error()
	}
	t.statMu.Unlock()
}

// delayedSchedule runs first at registration time + delay, then follows base.
type delayedSchedule struct {
	base    cron.Schedule
	delay   time.Duration
	started atomic.Bool
}

func (s *delayedSchedule) Next(t time.Time) time.Time {
	if s.started.CompareAndSwap(false, true) {
		return t.Add(s.delay)
	}
	return s.base.Next(t)
}
