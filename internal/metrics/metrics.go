// Package metrics exposes Prometheus collectors fed from the event bus.
package metrics

import (
	"context"
	"net/http"
	"strings"

	"badgewatch/internal/eventbus"
	"badgewatch/internal/notifier"
	"badgewatch/internal/watch"
	logx "badgewatch/pkg/logx"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "badgewatch"

// Metrics owns a private registry so tests and multiple instances never
// collide on the default one.
type Metrics struct {
	reg *prometheus.Registry
	log logx.Logger

	checks        *prometheus.CounterVec
	checkDuration prometheus.Histogram
	notifications *prometheus.CounterVec
	ticksSkipped  prometheus.Counter
	taskFailures  prometheus.Counter
	configReloads *prometheus.CounterVec
}

// New builds and registers all collectors. subscribers reports the current
// number of configured subscribers; nil omits the gauge.
func New(subscribers func() int, log logx.Logger) *Metrics {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		log: log,
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Unread checks by result (ok, failed, discarded, unconfigured).",
		}, []string{"result"}),
		checkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_duration_seconds",
			Help:      "Wall time of one unread check including login.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Outbound notifications by kind and result (sent, failed, dropped).",
		}, []string{"kind", "result"}),
		ticksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_skipped_total",
			Help:      "Scheduled ticks skipped because the previous run was still in flight.",
		}),
		taskFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_failures_total",
			Help:      "Scheduled ticks that returned an error or panicked.",
		}),
		configReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Config hot reloads by result.",
		}, []string{"result"}),
	}

	m.reg.MustRegister(
		m.checks, m.checkDuration, m.notifications,
		m.ticksSkipped, m.taskFailures, m.configReloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if subscribers != nil {
		m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Currently configured subscribers.",
		}, func() float64 { return float64(subscribers()) }))
	}
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Run consumes bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			m.Observe(ev)
		}
	}
}

// Observe folds one event into the collectors.
func (m *Metrics) Observe(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.CheckSucceeded, eventbus.CheckFailed, eventbus.CheckDiscarded:
		ce, ok := ev.Data.(watch.CheckEvent)
		if !ok {
			return
		}
		m.checks.WithLabelValues(norm(ce.Outcome)).Inc()
		if ce.Duration > 0 {
			m.checkDuration.Observe(ce.Duration.Seconds())
		}
	case eventbus.NotifySent, eventbus.NotifyFailed, eventbus.NotifyDropped:
		ne, ok := ev.Data.(notifier.NotificationEvent)
		if !ok {
			return
		}
		m.notifications.WithLabelValues(norm(ne.Kind), strings.TrimPrefix(ev.Type, "notifier.")).Inc()
	case eventbus.TaskSkipped:
		m.ticksSkipped.Inc()
	case eventbus.TaskFailed:
		m.taskFailures.Inc()
	case eventbus.ConfigReloaded:
		m.configReloads.WithLabelValues("ok").Inc()
	case eventbus.ConfigReloadFail:
		m.configReloads.WithLabelValues("error").Inc()
	}
}

func norm(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	return s
}
