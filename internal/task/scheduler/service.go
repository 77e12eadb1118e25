package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"badgewatch/internal/eventbus"
	logx "badgewatch/pkg/logx"
)

// Config controls the scheduler.
type Config struct {
	// Location for cron bookkeeping; nil means time.Local.
	Location *time.Location
}

type Service struct {
	mu     sync.Mutex
	cfg    Config
	log    logx.Logger
	bus    eventbus.Bus
	c      *cron.Cron
	tasks  map[string]*task
	closed bool

	root   context.Context
	cancel context.CancelFunc
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	root, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:    cfg,
		log:    log,
		bus:    bus,
		tasks:  map[string]*task{},
		root:   root,
		cancel: cancel,
	}
}

// Start begins triggering. Tasks scheduled before Start are registered now.
func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || s.closed {
		return
	}
	loc := s.cfg.Location
	if loc == nil {
		loc = time.Local
	}
	s.c = cron.New(cron.WithLocation(loc), cron.WithLogger(cronLogger{log: s.log}))
	for _, t := range s.tasks {
		s.registerLocked(t)
	}
	s.c.Start()
	s.log.Info("service started", logx.Int("tasks", len(s.tasks)))
}

// Stop cancels every task and waits (bounded by ctx) for running ticks.
// A stopped scheduler cannot be restarted.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.closed = true
	n := len(s.tasks)
	s.tasks = map[string]*task{}
	s.mu.Unlock()

	s.cancel()
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			s.log.Warn("stop timed out waiting for running ticks", logx.Err(ctx.Err()))
		}
	}
	s.log.Info("service stopped", logx.Int("tasks", n), logx.Duration("took", time.Since(start)))
}

// Schedule installs job under name, first at now+initialDelay and then every
// interval. An existing task with the same name is cancelled and its
// in-flight tick awaited (bounded by ctx) before the new task is registered.
func (s *Service) Schedule(ctx context.Context, name string, every, initialDelay time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return ErrNameRequired
	case every <= 0:
		return ErrInvalidInterval
	case job == nil:
		return ErrNilJob
	}
	if initialDelay < 0 {
		initialDelay = 0
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStopped
	}
	tctx, cancel := context.WithCancel(s.root)
	nt := &task{name: name, every: every, delay: initialDelay, job: job, ctx: tctx, cancel: cancel}
	old := s.detachLocked(name)
	if old != nil {
		nt.state = old.state
	} else {
		nt.state = &runState{}
	}
	s.tasks[name] = nt
	s.mu.Unlock()

	if old != nil {
		s.stopTask(ctx, old, "replaced")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks[name] != nt {
		// Superseded by a concurrent Schedule or Cancel.
		return nil
	}
	if s.c != nil {
		s.registerLocked(nt)
	}
	s.log.Debug("task scheduled",
		logx.String("name", name),
		logx.Duration("every", every),
		logx.Duration("initial_delay", initialDelay),
		logx.Bool("replaced", old != nil),
	)
	s.bus.Publish(eventbus.Event{Type: eventbus.TaskScheduled, Data: TaskEvent{Name: name}})
	return nil
}

// Cancel stops the task and waits (bounded by ctx) for its in-flight tick.
// It reports whether a task existed. Never call Cancel from inside the
// task's own tick; use Remove there.
func (s *Service) Cancel(ctx context.Context, name string) bool {
	s.mu.Lock()
	t := s.detachLocked(name)
	s.mu.Unlock()
	if t == nil {
		return false
	}
	s.stopTask(ctx, t, "cancelled")
	return true
}

// Remove stops the task without waiting for an in-flight tick.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	t := s.detachLocked(name)
	s.mu.Unlock()
	if t == nil {
		return false
	}
	t.cancel()
	s.log.Debug("task removed", logx.String("name", name))
	s.bus.Publish(eventbus.Event{Type: eventbus.TaskCancelled, Data: TaskEvent{Name: name}})
	return true
}

// RunNow runs the task's job immediately on the caller's goroutine,
// honouring the overlap gate. It returns ErrBusy when a tick is running.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	t := s.tasks[name]
	s.mu.Unlock()
	if t == nil {
		return ErrNotFound
	}
	ran, err := s.fire(t)
	if !ran {
		return ErrBusy
	}
	return err
}

func (s *Service) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[name]
	return ok
}

func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Service) Names() []string {
	s.mu.Lock()
	names := make([]string, 0, len(s.tasks))
	for n := range s.tasks {
		names = append(names, n)
	}
	s.mu.Unlock()
	sort.Strings(names)
	return names
}

// Info returns diagnostics for name.
func (s *Service) Info(name string) (TaskInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[name]
	if t == nil {
		return TaskInfo{}, false
	}
	return s.infoLocked(t), true
}

// Snapshot returns diagnostics for every task, sorted by name.
func (s *Service) Snapshot() []TaskInfo {
	s.mu.Lock()
	out := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, s.infoLocked(t))
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) infoLocked(t *task) TaskInfo {
	ti := TaskInfo{
		Name:     t.name,
		Every:    t.every,
		Running:  t.state.running(),
		Runs:     t.runs.Load(),
		Skipped:  t.skipped.Load(),
		Failures: t.failures.Load(),
	}
	t.statMu.Lock()
	ti.LastError = t.lastErr
	ti.LastDuration = t.lastDur
	t.statMu.Unlock()
	if s.c != nil && t.registered {
		e := s.c.Entry(t.entryID)
		ti.Next, ti.Prev = e.Next, e.Prev
	}
	return ti
}

// detachLocked removes name from the table and from cron.
func (s *Service) detachLocked(name string) *task {
	t := s.tasks[name]
	if t == nil {
		return nil
	}
	delete(s.tasks, name)
	if s.c != nil && t.registered {
		s.c.Remove(t.entryID)
		t.registered = false
	}
	return t
}

func (s *Service) registerLocked(t *task) {
	sched := &delayedSchedule{base: cron.Every(t.every), delay: t.delay}
	t.entryID = s.c.Schedule(sched, cron.FuncJob(func() { _, _ = s.fire(t) }))
	t.registered = true
}

func (s *Service) stopTask(ctx context.Context, t *task, reason string) {
	t.cancel()
	if err := t.state.wait(ctx); err != nil {
		s.log.Warn("in-flight tick did not finish in time",
			logx.String("name", t.name), logx.String("reason", reason), logx.Err(err))
	}
	s.log.Debug("task stopped", logx.String("name", t.name), logx.String("reason", reason))
	s.bus.Publish(eventbus.Event{Type: eventbus.TaskCancelled, Data: TaskEvent{Name: t.name}})
}

// fire runs one tick of t unless a tick of the same name is in flight or t
// has been stopped. ran is false when the tick was skipped.
func (s *Service) fire(t *task) (ran bool, err error) {
	done, ok := t.state.tryAcquire()
	if !ok {
		t.skipped.Add(1)
		s.log.Debug("tick skipped: previous run still in flight", logx.String("name", t.name))
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskSkipped, Data: TaskEvent{Name: t.name}})
		return false, nil
	}
	defer t.state.release(done)

	// Checked after acquiring so a concurrent stop either waits for this
	// tick or prevents it.
	if t.ctx.Err() != nil {
		return false, nil
	}

	start := time.Now()
	err = runJob(t.ctx, t.job)
	dur := time.Since(start)
	t.record(dur, err)

	if err != nil {
		s.log.Warn("tick failed", logx.String("name", t.name), logx.Duration("took", dur), logx.Err(err))
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskFailed, Data: TaskEvent{Name: t.name, Started: start, Duration: dur, Error: err.Error()}})
		return true, err
	}
	s.log.Trace("tick done", logx.String("name", t.name), logx.Duration("took", dur))
	return true, nil
}

func runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return job(ctx)
}

// cronLogger adapts logx to cron.Logger. cron's info output is per-tick
// noise, so it goes to trace.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	if l.log.Enabled(logx.LevelTrace) {
		l.log.Trace("cron: "+msg, kvFields(keysAndValues)...)
	}
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
