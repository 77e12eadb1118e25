package watch

import (
	"context"
	"errors"
	"sync"
	"time"

	"badgewatch/internal/eventbus"
	"badgewatch/internal/subscriber"
	"badgewatch/internal/task/scheduler"
	logx "badgewatch/pkg/logx"
)

type Config struct {
	Interval       time.Duration
	InitialDelay   time.Duration
	FetchTimeout   time.Duration
	NotifyFirstRun bool
	StopTimeout    time.Duration
	MaxSubscribers int
}

func (c Config) checker() CheckerConfig {
	return CheckerConfig{FetchTimeout: c.FetchTimeout, NotifyFirstRun: c.NotifyFirstRun}
}

type Deps struct {
	Registry *subscriber.Registry
	Tasks    Tasks
	Fetcher  Fetcher
	Notifier Notifier
	Bus      eventbus.Bus
}

// Status combines stored subscriber state with scheduling information.
type Status struct {
	subscriber.Status
	Scheduled bool
	NextCheck time.Time
	Interval  time.Duration
}

// Service is the entry point for subscriber intents (configure, reset,
// status, immediate check).
type Service struct {
	mu  sync.RWMutex
	cfg Config

	// idLocks serialise Configure/Reset per subscriber without blocking
	// unrelated subscribers.
	idLocks [64]sync.Mutex

	reg     *subscriber.Registry
	tasks   Tasks
	checker *Checker
	bus     eventbus.Bus
	log     logx.Logger
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.Nop()
	}
	if deps.Registry == nil {
		deps.Registry = subscriber.NewRegistry()
	}
	cfg = normalize(cfg)
	return &Service{
		cfg:     cfg,
		reg:     deps.Registry,
		tasks:   deps.Tasks,
		checker: NewChecker(cfg.checker(), deps.Registry, deps.Fetcher, deps.Notifier, deps.Tasks, deps.Bus, log.With(logx.String("comp", "watch.checker"))),
		bus:     deps.Bus,
		log:     log,
	}
}

func normalize(c Config) Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	return c
}

func (s *Service) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Service) lockID(id subscriber.ID) func() {
	m := &s.idLocks[uint64(id)%uint64(len(s.idLocks))]
	m.Lock()
	return m.Unlock
}

func (s *Service) job(id subscriber.ID) scheduler.Job {
	return func(ctx context.Context) error {
		s.checker.RunCheck(ctx, id)
		return nil
	}
}

// Configure stores creds for id and (re)starts its check task. Existing
// state for id is discarded.
func (s *Service) Configure(ctx context.Context, id subscriber.ID, creds subscriber.Credentials) error {
	if !creds.Valid() {
		return ErrInvalidCredentials
	}
	defer s.lockID(id)()

	cfg := s.config()
	if cfg.MaxSubscribers > 0 {
		if _, _, exists := s.reg.Credentials(id); !exists && s.reg.Len() >= cfg.MaxSubscribers {
			return ErrTooManySubscribers
		}
	}

	s.reg.Configure(id, creds)

	sctx, cancel := context.WithTimeout(ctx, cfg.StopTimeout)
	defer cancel()
	if err := s.tasks.Schedule(sctx, TaskName(id), cfg.Interval, cfg.InitialDelay, s.job(id)); err != nil {
		s.reg.Reset(id)
		return err
	}

	s.log.Info("subscriber configured",
		logx.String("sub", id.String()),
		logx.String("login", creds.Login),
		logx.Duration("interval", cfg.Interval),
	)
	s.bus.Publish(eventbus.Event{Type: eventbus.SubscriberSet, Data: int64(id)})
	return nil
}

// Reset stops checks for id and forgets its state. An in-flight check is
// awaited (bounded by the stop timeout) and its result discarded. It
// reports whether id was known.
func (s *Service) Reset(ctx context.Context, id subscriber.ID) bool {
	defer s.lockID(id)()

	sctx, cancel := context.WithTimeout(ctx, s.config().StopTimeout)
	defer cancel()
	hadTask := s.tasks.Cancel(sctx, TaskName(id))
	hadState := s.reg.Reset(id)
	if !hadTask && !hadState {
		return false
	}
	s.log.Info("subscriber reset", logx.String("sub", id.String()))
	s.bus.Publish(eventbus.Event{Type: eventbus.SubscriberReset, Data: int64(id)})
	return true
}

// CheckNow runs a check immediately. It fails with ErrCheckInProgress when
// a scheduled check is running.
func (s *Service) CheckNow(id subscriber.ID) error {
	if _, _, ok := s.reg.Credentials(id); !ok {
		return ErrNotConfigured
	}
	err := s.tasks.RunNow(TaskName(id))
	switch {
	case errors.Is(err, scheduler.ErrBusy):
		return ErrCheckInProgress
	case errors.Is(err, scheduler.ErrNotFound):
		return ErrNotConfigured
	}
	return err
}

func (s *Service) Status(id subscriber.ID) (Status, bool) {
	st, ok := s.reg.Status(id)
	if !ok {
		return Status{Status: st}, false
	}
	out := Status{Status: st, Interval: s.config().Interval}
	if info, ok := s.tasks.Info(TaskName(id)); ok {
		out.Scheduled = true
		out.NextCheck = info.Next
	}
	return out, true
}

func (s *Service) Len() int { return s.reg.Len() }

func (s *Service) Registry() *subscriber.Registry { return s.reg }

// Apply hot-reloads settings. A changed interval reschedules every
// subscriber; their next check happens one new interval from now.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = normalize(cfg)
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	s.mu.Unlock()

	s.checker.Apply(cfg.checker())
	if old.Interval == cfg.Interval {
		return
	}

	n := 0
	for _, id := range s.reg.IDs() {
		unlock := s.lockID(id)
		if _, _, ok := s.reg.Credentials(id); ok {
			sctx, cancel := context.WithTimeout(ctx, cfg.StopTimeout)
			if err := s.tasks.Schedule(sctx, TaskName(id), cfg.Interval, cfg.Interval, s.job(id)); err != nil {
				s.log.Warn("reschedule failed", logx.String("sub", id.String()), logx.Err(err))
			} else {
				n++
			}
			cancel()
		}
		unlock()
	}
	s.log.Info("check interval changed",
		logx.Duration("from", old.Interval), logx.Duration("to", cfg.Interval), logx.Int("rescheduled", n))
}
