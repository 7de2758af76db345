package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TaskFunc is one periodic unit of work.
type TaskFunc func(ctx context.Context) error

// Task describes a registered periodic task.
type Task struct {
	Name         string
	Interval     time.Duration
	Jitter       time.Duration
	StartupDelay time.Duration
	Run          TaskFunc
}

// Status is a point-in-time snapshot of a task's bookkeeping.
type Status struct {
	Name      string
	Interval  time.Duration
	LastRunAt time.Time
	LastError error
	Running   bool
}

// Options tune scheduler behaviour.
type Options struct {
	// GracePeriod bounds how long Stop waits for in-flight task bodies.
	GracePeriod time.Duration
}

// Scheduler drives a set of independent periodic tasks. Each task runs on its
// own timer; a failing or panicking task is recorded on that task's status and
// never delays or cancels another task's next run.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger

	mu     sync.Mutex
	tasks  []*taskState
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type taskState struct {
	task Task

	mu        sync.Mutex
	lastRunAt time.Time
	lastError error
	running   bool
}

// New constructs an empty scheduler.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 10 * time.Second
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Register adds a task. A non-positive interval or empty name is a programming
// error, not a runtime condition.
func (s *Scheduler) Register(task Task) {
	if task.Interval <= 0 {
		panic("scheduler task interval must be positive")
	}
	if task.Name == "" {
		panic("scheduler task needs a name")
	}
	s.mu.Lock()
	s.tasks = append(s.tasks, &taskState{task: task})
	s.mu.Unlock()
}

// Start launches one timer loop per registered task and returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = cancel
	tasks := make([]*taskState, len(s.tasks))
	copy(tasks, s.tasks)
	s.mu.Unlock()

	for _, st := range tasks {
		s.wg.Add(1)
		go s.loop(runCtx, st)
	}
}

// Stop cancels all pending timers and waits up to the grace period for
// in-flight task bodies to finish. Overrunning tasks are abandoned and logged,
// not forcibly killed.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("all scheduled tasks drained")
	case <-time.After(s.opts.GracePeriod):
		s.logger.Warn().Dur("grace", s.opts.GracePeriod).Msg("grace period elapsed; abandoning in-flight tasks")
	}
}

// Statuses snapshots every task's bookkeeping.
func (s *Scheduler) Statuses() []Status {
	s.mu.Lock()
	tasks := make([]*taskState, len(s.tasks))
	copy(tasks, s.tasks)
	s.mu.Unlock()

	out := make([]Status, 0, len(tasks))
	for _, st := range tasks {
		st.mu.Lock()
		out = append(out, Status{
			Name:      st.task.Name,
			Interval:  st.task.Interval,
			LastRunAt: st.lastRunAt,
			LastError: st.lastError,
			Running:   st.running,
		})
		st.mu.Unlock()
	}
	return out
}

func (s *Scheduler) loop(ctx context.Context, st *taskState) {
	defer s.wg.Done()

	logger := s.logger.With().Str("task", st.task.Name).Logger()

	if st.task.StartupDelay > 0 {
		if !sleepCtx(ctx, st.task.StartupDelay) {
			return
		}
	}

	for {
		delay := st.task.Interval
		if st.task.Jitter > 0 {
			delay += time.Duration(rand.Int63n(int64(st.task.Jitter)))
		}
		if !sleepCtx(ctx, delay) {
			return
		}

		started := time.Now().UTC()
		err := s.execute(ctx, st)

		st.mu.Lock()
		st.lastRunAt = started
		st.lastError = err
		st.mu.Unlock()

		if err != nil {
			logger.Error().Err(err).Msg("task execution failed")
		} else {
			logger.Debug().Msg("task executed")
		}
	}
}

// execute runs one tick with panic containment at the task boundary.
func (s *Scheduler) execute(ctx context.Context, st *taskState) (err error) {
	st.mu.Lock()
	st.running = true
	st.mu.Unlock()
	defer func() {
		st.mu.Lock()
		st.running = false
		st.mu.Unlock()
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", st.task.Name, r)
		}
	}()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return st.task.Run(ctx)
}

// sleepCtx waits for d and reports false when ctx wins.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
