package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"badgewatch/internal/eventbus"
	"badgewatch/internal/transport"
	logx "badgewatch/pkg/logx"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSender struct {
	mu       sync.Mutex
	failures int // first N sends fail
	calls    int
	sent     []transport.Notification
	block    chan struct{}
}

func (f *fakeSender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return transport.MessageRef{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return transport.MessageRef{}, errors.New("send failed")
	}
	f.sent = append(f.sent, transport.Notification{Target: to, Text: text, Options: opt})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: f.calls}, nil
}

func (f *fakeSender) snapshot() (int, []transport.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, append([]transport.Notification(nil), f.sent...)
}

func fastConfig() Config {
	return Config{
		Enabled:       true,
		Workers:       1,
		QueueSize:     4,
		RatePerSec:    1000,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		SendTimeout:   time.Second,
	}
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) eventbus.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestNotifyDeliversThroughQueue(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	sender := &fakeSender{}
	svc := New(fastConfig(), sender, logx.Nop(), bus)
	svc.Start(context.Background())
	defer svc.Stop(context.Background())

	err := svc.Subscribers().Notify(context.Background(), 42, "increase", "New messages: +2")
	if err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	ev := waitEvent(t, events, eventbus.NotifySent)
	data := ev.Data.(NotificationEvent)
	if data.ChatID != 42 || data.Kind != "increase" {
		t.Fatalf("event = %+v, want chat 42 kind increase", data)
	}
	_, sent := sender.snapshot()
	if len(sent) != 1 || sent[0].Text != "New messages: +2" {
		t.Fatalf("sent = %+v", sent)
	}
	if sent[0].Options == nil || !sent[0].Options.DisablePreview {
		t.Fatalf("options = %+v, want DisablePreview", sent[0].Options)
	}
}

func TestNotifyRetriesThenSucceeds(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	sender := &fakeSender{failures: 2}
	svc := New(fastConfig(), sender, logx.Nop(), bus)
	svc.Start(context.Background())
	defer svc.Stop(context.Background())

	if err := svc.Notify(context.Background(), transport.Notification{Kind: "failure", Target: transport.ChatTarget{ChatID: 1}, Text: "x"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	ev := waitEvent(t, events, eventbus.NotifySent)
	if got := ev.Data.(NotificationEvent).Attempts; got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestNotifyGivesUpAfterRetries(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	sender := &fakeSender{failures: 100}
	svc := New(fastConfig(), sender, logx.Nop(), bus)
	svc.Start(context.Background())
	defer svc.Stop(context.Background())

	_ = svc.Notify(context.Background(), transport.Notification{Target: transport.ChatTarget{ChatID: 1}, Text: "x"})
	ev := waitEvent(t, events, eventbus.NotifyFailed)
	data := ev.Data.(NotificationEvent)
	if data.Attempts != 3 || data.Error == "" {
		t.Fatalf("event = %+v, want 3 attempts with error", data)
	}
	if calls, _ := sender.snapshot(); calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestNotifyQueueFull(t *testing.T) {
	sender := &fakeSender{block: make(chan struct{})}
	cfg := fastConfig()
	cfg.QueueSize = 1
	svc := New(cfg, sender, logx.Nop(), nil)
	svc.Start(context.Background())

	n := transport.Notification{Target: transport.ChatTarget{ChatID: 1}, Text: "x"}
	var full bool
	// One in flight at the worker, one buffered, the rest overflow.
	for i := 0; i < 5; i++ {
		if err := svc.Notify(context.Background(), n); errors.Is(err, ErrQueueFull) {
			full = true
			break
		}
	}
	if !full {
		t.Fatalf("expected ErrQueueFull")
	}
	close(sender.block)
	svc.Stop(context.Background())
}

func TestNotifyAfterStop(t *testing.T) {
	svc := New(fastConfig(), &fakeSender{}, logx.Nop(), nil)
	svc.Start(context.Background())
	svc.Stop(context.Background())

	err := svc.Notify(context.Background(), transport.Notification{Text: "x"})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify() error = %v, want %v", err, ErrStopped)
	}
}

func TestStopDrainsQueue(t *testing.T) {
	sender := &fakeSender{}
	svc := New(fastConfig(), sender, logx.Nop(), nil)
	svc.Start(context.Background())
	for i := 0; i < 3; i++ {
		_ = svc.Notify(context.Background(), transport.Notification{Target: transport.ChatTarget{ChatID: 1}, Text: "x"})
	}
	svc.Stop(context.Background())
	if _, sent := sender.snapshot(); len(sent) != 3 {
		t.Fatalf("sent = %d, want 3", len(sent))
	}
}

func TestDisabledSendsInline(t *testing.T) {
	sender := &fakeSender{}
	cfg := fastConfig()
	cfg.Enabled = false
	svc := New(cfg, sender, logx.Nop(), nil)
	svc.Start(context.Background())
	defer svc.Stop(context.Background())

	if err := svc.Notify(context.Background(), transport.Notification{Target: transport.ChatTarget{ChatID: 5}, Text: "hi"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if _, sent := sender.snapshot(); len(sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(sent))
	}

	sender.failures = 10
	if err := svc.Notify(context.Background(), transport.Notification{Text: "hi"}); err == nil {
		t.Fatalf("Notify() error = nil, want send error")
	}
}

func TestNotifyValidation(t *testing.T) {
	t.Parallel()
	svc := New(fastConfig(), nil, logx.Nop(), nil)
	if err := svc.Notify(context.Background(), transport.Notification{}); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("Notify() error = %v, want %v", err, ErrEmptyText)
	}
	if err := svc.Notify(context.Background(), transport.Notification{Text: "x"}); !errors.Is(err, ErrNoSender) {
		t.Fatalf("Notify() error = %v, want %v", err, ErrNoSender)
	}
}

func TestRetryDelayBounded(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}.normalized()
	tests := []struct {
		attempt  int
		min, max time.Duration
	}{
		{1, 70 * time.Millisecond, 130 * time.Millisecond},
		{2, 140 * time.Millisecond, 260 * time.Millisecond},
		{10, 700 * time.Millisecond, time.Second},
	}
	for _, tt := range tests {
		for i := 0; i < 20; i++ {
			d := retryDelay(cfg, tt.attempt)
			if d < tt.min || d > tt.max {
				t.Fatalf("retryDelay(%d) = %v, want [%v, %v]", tt.attempt, d, tt.min, tt.max)
			}
		}
	}
}
