package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestFailingTaskDoesNotStallOthers(t *testing.T) {
	s := New(Options{GracePeriod: time.Second}, zerolog.Nop())

	var ticks int32
	s.Register(Task{
		Name:     "always-fails",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			return errors.New("permanently broken")
		},
	})
	s.Register(Task{
		Name:     "counter",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&ticks, 1)
			return nil
		},
	})

	s.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	if got := atomic.LoadInt32(&ticks); got < 3 {
		t.Fatalf("counter task should keep ticking beside a failing task, got %d ticks", got)
	}

	var sawError bool
	for _, status := range s.Statuses() {
		if status.Name == "always-fails" && status.LastError != nil {
			sawError = true
		}
		if status.Name == "counter" && status.LastError != nil {
			t.Fatalf("counter task should not carry an error: %v", status.LastError)
		}
	}
	if !sawError {
		t.Fatal("failing task should record its last error")
	}
}

func TestPanicIsContained(t *testing.T) {
	s := New(Options{GracePeriod: time.Second}, zerolog.Nop())

	var ticks int32
	s.Register(Task{
		Name:     "panics",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			panic("boom")
		},
	})
	s.Register(Task{
		Name:     "survivor",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&ticks, 1)
			return nil
		},
	})

	s.Start(context.Background())
	time.Sleep(80 * time.Millisecond)
	s.Stop()

	if atomic.LoadInt32(&ticks) == 0 {
		t.Fatal("survivor task should keep running beside a panicking task")
	}
	for _, status := range s.Statuses() {
		if status.Name == "panics" {
			if status.LastError == nil {
				t.Fatal("panic should be recorded as the task's last error")
			}
		}
	}
}

func TestStopCancelsPendingTimers(t *testing.T) {
	s := New(Options{GracePeriod: time.Second}, zerolog.Nop())

	var ticks int32
	s.Register(Task{
		Name:     "slow-interval",
		Interval: time.Hour,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&ticks, 1)
			return nil
		},
	})

	s.Start(context.Background())

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop should return promptly when no task body is in flight")
	}
	if atomic.LoadInt32(&ticks) != 0 {
		t.Fatal("no tick should run for an hour-long interval")
	}
}

func TestStopAbandonsOverrunningTask(t *testing.T) {
	s := New(Options{GracePeriod: 30 * time.Millisecond}, zerolog.Nop())

	block := make(chan struct{})
	defer close(block)
	s.Register(Task{
		Name:     "stuck",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-block
			return nil
		},
	})

	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond) // let the task enter its body

	start := time.Now()
	s.Stop()
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("stop should give up after the grace period, took %s", elapsed)
	}
}

func TestStartupDelayDefersFirstTick(t *testing.T) {
	s := New(Options{GracePeriod: time.Second}, zerolog.Nop())

	var ticks int32
	s.Register(Task{
		Name:         "delayed",
		Interval:     5 * time.Millisecond,
		StartupDelay: time.Hour,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&ticks, 1)
			return nil
		},
	})

	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	if atomic.LoadInt32(&ticks) != 0 {
		t.Fatal("startup delay should hold back the first tick")
	}
}
