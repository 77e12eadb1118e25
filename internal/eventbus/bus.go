// Package eventbus is an in-memory, non-blocking fanout for operational
// signals (check results, skipped ticks, notifier failures).
package eventbus

import (
	"sync"
	"time"
)

// Event types published by badgewatch components.
const (
	CheckSucceeded   = "check.succeeded"
	CheckFailed      = "check.failed"
	CheckDiscarded   = "check.discarded"
	TaskScheduled    = "task.scheduled"
	TaskCancelled    = "task.cancelled"
	TaskSkipped      = "task.skipped"
	TaskFailed       = "task.failed"
	NotifySent       = "notifier.sent"
	NotifyFailed     = "notifier.failed"
	NotifyDropped    = "notifier.dropped"
	SubscriberSet    = "subscriber.configured"
	SubscriberReset  = "subscriber.reset"
	ConfigReloaded   = "config.reloaded"
	ConfigReloadFail = "config.reload_failed"
)

// Event is a small signal; Data should be JSON-friendly.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus delivers events without ever blocking the publisher. Slow
// subscribers lose events.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[*subscription]struct{}{}}
}

// Nop returns a bus that discards everything.
func Nop() Bus { return nopBus{} }

type subscription struct {
	ch chan Event
}

type memBus struct {
	mu   sync.RWMutex
	subs map[*subscription]struct{}
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends happen under the read lock so unsubscribe (write lock) can close
	// channels without racing a send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscription{ch: make(chan Event, buffer)}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			close(s.ch)
			b.mu.Unlock()
		})
	}
}

type nopBus struct{}

func (nopBus) Publish(Event) {}

func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }
}
