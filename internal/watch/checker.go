package watch

import (
	"context"
	"sync"
	"time"

	"badgewatch/internal/eventbus"
	"badgewatch/internal/portal"
	"badgewatch/internal/snapshot"
	"badgewatch/internal/subscriber"
	logx "badgewatch/pkg/logx"
)

type CheckerConfig struct {
	FetchTimeout   time.Duration
	NotifyFirstRun bool
}

// Checker runs one check for one subscriber.
type Checker struct {
	mu  sync.RWMutex
	cfg CheckerConfig

	reg    *subscriber.Registry
	fetch  Fetcher
	notify Notifier
	tasks  Tasks
	bus    eventbus.Bus
	log    logx.Logger
	now    func() time.Time
}

const defaultFetchTimeout = 15 * time.Second

func (c CheckerConfig) normalized() CheckerConfig {
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
	return c
}

func NewChecker(cfg CheckerConfig, reg *subscriber.Registry, fetch Fetcher, notify Notifier, tasks Tasks, bus eventbus.Bus, log logx.Logger) *Checker {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Checker{cfg: cfg.normalized(), reg: reg, fetch: fetch, notify: notify, tasks: tasks, bus: bus, log: log, now: time.Now}
}

func (c *Checker) Apply(cfg CheckerConfig) {
	c.mu.Lock()
	c.cfg = cfg.normalized()
	c.mu.Unlock()
}

func (c *Checker) config() CheckerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// RunCheck fetches the subscriber's unread counts, notifies about
// increases or about the first failure of a streak, and records the new
// snapshot. ctx is the task context: once it is cancelled the result is
// discarded.
func (c *Checker) RunCheck(ctx context.Context, id subscriber.ID) Result {
	start := c.now()
	log := c.log.With(logx.String("sub", id.String()))

	creds, gen, ok := c.reg.Credentials(id)
	if !ok {
		c.tasks.Remove(TaskName(id))
		log.Debug("no credentials; task removed")
		return c.finish(Result{ID: id, Outcome: OutcomeUnconfigured}, start)
	}

	cfg := c.config()
	fctx, cancel := context.WithTimeout(ctx, cfg.FetchTimeout)
	snap, err := c.fetch.FetchUnreadCounts(fctx, creds)
	cancel()

	if ctx.Err() != nil {
		log.Debug("check discarded: task stopped during fetch", logx.Err(err))
		return c.finish(Result{ID: id, Outcome: OutcomeDiscarded, Err: err}, start)
	}
	if err != nil {
		return c.finish(c.onFailure(ctx, log, id, gen, err), start)
	}
	return c.finish(c.onSuccess(ctx, log, cfg, id, gen, snap), start)
}

func (c *Checker) onSuccess(ctx context.Context, log logx.Logger, cfg CheckerConfig, id subscriber.ID, gen uint64, snap snapshot.Snapshot) Result {
	prior, recorded, ok := c.reg.Snapshot(id)
	if !ok {
		return Result{ID: id, Outcome: OutcomeDiscarded}
	}
	report := snapshot.Compare(prior, snap)

	// Recording first ties the notification to a current generation.
	if !c.reg.RecordSnapshot(id, gen, snap) {
		log.Debug("check discarded: subscriber reconfigured during fetch")
		return Result{ID: id, Outcome: OutcomeDiscarded, Report: report}
	}
	c.reg.MarkErrorReported(id, gen, false)

	res := Result{ID: id, Outcome: OutcomeOK, Report: report}
	if report.Empty() || (!recorded && !cfg.NotifyFirstRun) {
		log.Debug("check ok", logx.Int("unread", report.TotalCurrent))
		return res
	}
	if err := c.notify.Notify(ctx, id, KindIncrease, FormatIncrease(report)); err != nil {
		log.Warn("increase notification not queued", logx.Err(err))
	} else {
		res.Notified = true
	}
	log.Info("unread increase",
		logx.Int("increase", report.TotalIncrease),
		logx.Int("unread", report.TotalCurrent),
		logx.Bool("first", !recorded),
	)
	return res
}

func (c *Checker) onFailure(ctx context.Context, log logx.Logger, id subscriber.ID, gen uint64, err error) Result {
	res := Result{ID: id, Outcome: OutcomeFailed, Err: err}
	c.reg.RecordFailure(id, gen, err)

	if c.reg.WasErrorReported(id) {
		log.Debug("check failed; already reported", logx.Err(err))
		return res
	}
	if !c.reg.MarkErrorReported(id, gen, true) {
		res.Outcome = OutcomeDiscarded
		return res
	}
	log.Warn("check failed", logx.String("kind", string(portal.KindOf(err))), logx.Err(err))
	if nerr := c.notify.Notify(ctx, id, KindFailure, FormatFailure()); nerr != nil {
		log.Warn("failure notification not queued", logx.Err(nerr))
	} else {
		res.Notified = true
	}
	return res
}

func (c *Checker) finish(res Result, start time.Time) Result {
	res.Duration = c.now().Sub(start)
	ev := CheckEvent{
		ID:            int64(res.ID),
		Outcome:       string(res.Outcome),
		Duration:      res.Duration,
		TotalIncrease: res.Report.TotalIncrease,
		TotalCurrent:  res.Report.TotalCurrent,
		Notified:      res.Notified,
		ErrorKind:     string(portal.KindOf(res.Err)),
	}
	typ := eventbus.CheckSucceeded
	switch res.Outcome {
	case OutcomeFailed:
		typ = eventbus.CheckFailed
	case OutcomeDiscarded, OutcomeUnconfigured:
		typ = eventbus.CheckDiscarded
	}
	c.bus.Publish(eventbus.Event{Type: typ, Data: ev})
	return res
}
