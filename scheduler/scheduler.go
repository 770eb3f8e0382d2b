// Package scheduler runs a task on a fixed interval in the background.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/finboard/proxy-common/retry"
)

// MinInterval is used in place of a non-positive interval
const MinInterval = time.Second

// Task is one run of the scheduled work. ctx is cancelled by Stop.
type Task func(ctx context.Context) error

// Scheduler manages a background task that runs at regular intervals.
// A failed run is logged and the next tick runs the task again.
type Scheduler struct {
	interval  time.Duration
	task      Task
	name      string
	logger    retry.Logger
	immediate bool

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithLogger sets the logger used for task failures
func WithLogger(logger retry.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithName sets the task name used in log lines
func WithName(name string) Option {
	return func(s *Scheduler) {
		s.name = name
	}
}

// WithRunImmediately runs the task once on Start instead of waiting a full interval
func WithRunImmediately() Option {
	return func(s *Scheduler) {
		s.immediate = true
	}
}

// New creates a new Scheduler instance. A non-positive interval is raised
// to MinInterval.
func New(interval time.Duration, task Task, opts ...Option) *Scheduler {
	if interval <= 0 {
		interval = MinInterval
	}
	s := &Scheduler{
		interval: interval,
		task:     task,
		name:     "task",
		logger:   retry.NoopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background loop; a second call is a no-op
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		if s.immediate {
			s.runOnce(ctx)
		}

		for {
			select {
			case <-ticker.C:
				s.runOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	if err := s.task(ctx); err != nil {
		if ctx.Err() != nil {
			s.logger.Debug("Scheduled task interrupted", "task", s.name, "error", err)
			return
		}
		s.logger.Error("Scheduled task failed",
			"task", s.name,
			"duration", time.Since(start),
			"error", err)
		return
	}
	s.logger.Debug("Scheduled task completed", "task", s.name, "duration", time.Since(start))
}

// Stop cancels a running task and waits for the loop to exit
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.cancel()
	s.wg.Wait()
	s.running = false
}

// Interval returns the effective run interval
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
