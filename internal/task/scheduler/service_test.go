package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/goleak"

	"badgewatch/internal/eventbus"
	logx "badgewatch/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	s := New(Config{}, logx.Nop(), eventbus.New())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestScheduleRejectsBadInput(t *testing.T) {
	t.Parallel()

	s := newTestService(t)
	ctx := context.Background()
	noop := func(context.Context) error { return nil }

	tests := []struct {
		name  string
		task  string
		every time.Duration
		job   Job
		want  error
	}{
		{"empty name", " ", time.Second, noop, ErrNameRequired},
		{"zero interval", "a", 0, noop, ErrInvalidInterval},
		{"nil job", "a", time.Second, nil, ErrNilJob},
	}
	for _, tt := range tests {
		if err := s.Schedule(ctx, tt.task, tt.every, 0, tt.job); !errors.Is(err, tt.want) {
			t.Fatalf("%s: Schedule() = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestFirstTickRunsAfterInitialDelay(t *testing.T) {
	t.Parallel()

	s := newTestService(t)
	s.Start(context.Background())

	ran := make(chan struct{}, 1)
	err := s.Schedule(context.Background(), "sub:1", time.Hour, 0, func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Schedule() = %v", err)
	}
	waitFor(t, ran, "first tick")
}

func TestScheduleBeforeStartRegistersOnStart(t *testing.T) {
	t.Parallel()

	s := newTestService(t)
	ran := make(chan struct{}, 1)
	if err := s.Schedule(context.Background(), "early", time.Hour, 0, func(context.Context) error {
		ran <- struct{}{}
		return nil
	}); err != nil {
		t.Fatalf("Schedule() = %v", err)
	}
	s.Start(context.Background())
	waitFor(t, ran, "tick after Start")
}

func TestRecurringTicks(t *testing.T) {
	t.Parallel()

	s := newTestService(t)
	s.Start(context.Background())

	var n atomic.Int32
	twice := make(chan struct{})
	_ = s.Schedule(context.Background(), "loop", time.Second, 0, func(context.Context) error {
		if n.Add(1) == 2 {
			close(twice)
		}
		return errors.New("always fails")
	})
	waitFor(t, twice, "second tick")

	info, ok := s.Info("loop")
	if !ok || info.Failures < 2 || info.LastError != "always fails" {
		t.Fatalf("Info() = %+v, %v", info, ok)
	}
}

func TestScheduleReplacesAndAwaitsPrevious(t *testing.T) {
	t.Parallel()

	s := newTestService(t)
	ctx := context.Background()

	started := make(chan struct{})
	var oldFinished atomic.Bool
	if err := s.Schedule(ctx, "sub", time.Hour, time.Hour, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		oldFinished.Store(true)
		return ctx.Err()
	}); err != nil {
		t.Fatalf("Schedule() = %v", err)
	}

	go func() { _ = s.RunNow("sub") }()
	waitFor(t, started, "old tick")

	var newRuns atomic.Int32
	if err := s.Schedule(ctx, "sub", time.Hour, time.Hour, func(context.Context) error {
		newRuns.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Schedule(replace) = %v", err)
	}
	if !oldFinished.Load() {
		t.Fatalf("Schedule returned before the replaced tick finished")
	}
	if got := s.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
	if err := s.RunNow("sub"); err != nil {
		t.Fatalf("RunNow() = %v", err)
	}
	if got := newRuns.Load(); got != 1 {
		t.Fatalf("new job runs = %d, want 1", got)
	}
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	t.Parallel()

	s := newTestService(t)
	release := make(chan struct{})
	started := make(chan struct{})
	var runs atomic.Int32
	_ = s.Schedule(context.Background(), "slow", time.Hour, time.Hour, func(context.Context) error {
		if runs.Add(1) == 1 {
			close(started)
		}
		<-release
		return nil
	})

	errc := make(chan error, 1)
	go func() { errc <- s.RunNow("slow") }()
	waitFor(t, started, "first tick")

	if err := s.RunNow("slow"); !errors.Is(err, ErrBusy) {
		t.Fatalf("RunNow() while running = %v, want ErrBusy", err)
	}
	close(release)
	if err := <-errc; err != nil {
		t.Fatalf("first RunNow() = %v", err)
	}

	info, _ := s.Info("slow")
	if info.Runs != 1 || info.Skipped != 1 {
		t.Fatalf("Info() = %+v, want 1 run and 1 skip", info)
	}
	if runs.Load() != 1 {
		t.Fatalf("job ran %d times, want 1", runs.Load())
	}
}

func TestTasksAreIndependent(t *testing.T) {
	t.Parallel()

	s := newTestService(t)
	release := make(chan struct{})
	started := make(chan struct{})
	_ = s.Schedule(context.Background(), "a", time.Hour, time.Hour, func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	var bRan atomic.Bool
	_ = s.Schedule(context.Background(), "b", time.Hour, time.Hour, func(context.Context) error {
		bRan.Store(true)
		return nil
	})

	go func() { _ = s.RunNow("a") }()
	waitFor(t, started, "task a")
	if err := s.RunNow("b"); err != nil || !bRan.Load() {
		t.Fatalf("RunNow(b) = %v, ran=%v", err, bRan.Load())
	}
	close(release)
}

func TestPanicAndErrorDoNotStopTask(t *testing.T) {
	t.Parallel()

	s := newTestService(t)
	var n atomic.Int32
	_ = s.Schedule(context.Background(), "p", time.Hour, time.Hour, func(context.Context) error {
		switch n.Add(1) {
		case 1:
			panic("boom")
		case 2:
			return errors.New("fetch failed")
		}
		return nil
	})

	if err := s.RunNow("p"); err == nil || !strings.Contains(err.Error(), "panic: boom") {
		t.Fatalf("RunNow() #1 = %v, want panic error", err)
	}
	if err := s.RunNow("p"); err == nil {
		t.Fatalf("RunNow() #2 = nil, want error")
	}
	if err := s.RunNow("p"); err != nil {
		t.Fatalf("RunNow() #3 = %v", err)
	}
	info, _ := s.Info("p")
	if info.Runs != 3 || info.Failures != 2 || info.LastError != "" {
		t.Fatalf("Info() = %+v", info)
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()

	s := newTestService(t)
	ctx := context.Background()
	if s.Cancel(ctx, "missing") {
		t.Fatalf("Cancel(missing) = true")
	}

	started := make(chan struct{})
	var finished atomic.Bool
	_ = s.Schedule(ctx, "c", time.Hour, time.Hour, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		finished.Store(true)
		return nil
	})
	go func() { _ = s.RunNow("c") }()
	waitFor(t, started, "tick")

	if !s.Cancel(ctx, "c") {
		t.Fatalf("Cancel(c) = false")
	}
	if !finished.Load() {
		t.Fatalf("Cancel returned before in-flight tick finished")
	}
	if s.Has("c") || s.Len() != 0 {
		t.Fatalf("task still present after Cancel")
	}
	if err := s.RunNow("c"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RunNow() after Cancel = %v, want ErrNotFound", err)
	}
	if s.Cancel(ctx, "c") {
		t.Fatalf("second Cancel = true")
	}
}

func TestStoppedTaskNeverFires(t *testing.T) {
	t.Parallel()

	s := newTestService(t)
	var runs atomic.Int32
	_ = s.Schedule(context.Background(), "r", time.Hour, time.Hour, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	s.mu.Lock()
	tk := s.tasks["r"]
	s.mu.Unlock()

	if !s.Remove("r") {
		t.Fatalf("Remove(r) = false")
	}
	if ran, _ := s.fire(tk); ran {
		t.Fatalf("fire ran a removed task")
	}
	if runs.Load() != 0 {
		t.Fatalf("job ran %d times after Remove", runs.Load())
	}
}

func TestScheduleAfterStop(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop(), nil)
	s.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	err := s.Schedule(context.Background(), "late", time.Second, 0, func(context.Context) error { return nil })
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("Schedule() after Stop = %v, want ErrStopped", err)
	}
}

func TestDelayedSchedule(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := &delayedSchedule{base: cron.Every(time.Minute), delay: 5 * time.Second}
	if got, want := s.Next(t0), t0.Add(5*time.Second); !got.Equal(want) {
		t.Fatalf("first Next = %v, want %v", got, want)
	}
	if got, want := s.Next(t0), t0.Add(time.Minute); !got.Equal(want) {
		t.Fatalf("second Next = %v, want %v", got, want)
	}
}
