// Package scheduler runs named periodic tasks, each on its own goroutine and
// ticker, until stopped.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

type Scheduler struct {
	mu      sync.Mutex
	tasks   []Task
	logger  *zap.Logger
	cancel  context.CancelFunc
	group   *errgroup.Group
	running bool
}

func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{logger: logger}
}

// Add registers a task. Tasks added after Start are not run.
func (s *Scheduler) Add(task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already running")
	}
	for _, task := range s.tasks {
		if task.Interval <= 0 || task.Run == nil {
			return errors.New("task " + task.Name + " needs an interval and a run func")
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	group, ctx := errgroup.WithContext(ctx)
	for _, task := range s.tasks {
		group.Go(func() error {
			s.loop(ctx, task)
			return nil
		})
	}
	s.cancel = cancel
	s.group = group
	s.running = true
	s.logger.Info("scheduler started", zap.Int("tasks", len(s.tasks)))
	return nil
}

// Stop cancels every task and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, group := s.cancel, s.group
	s.running = false
	s.mu.Unlock()

	cancel()
	_ = group.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, task Task) {
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, task)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked",
				zap.String("task", task.Name),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	started := time.Now()
	task.Run(ctx)
	if elapsed := time.Since(started); elapsed > task.Interval {
		s.logger.Warn("scheduled task overran its interval",
			zap.String("task", task.Name),
			zap.Duration("elapsed", elapsed),
			zap.Duration("interval", task.Interval),
		)
	}
}
