package scheduler

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskFn is the function signature for scheduled tasks.
type TaskFn func()

// Scheduler runs named periodic and one-shot background tasks. Registering
// a name twice replaces the earlier task.
type Scheduler struct {
	mu       sync.Mutex
	periodic map[string]*periodicTask
	delayed  map[string]*time.Timer
	logger   *zap.Logger
	done     chan struct{}
}

type periodicTask struct {
	ticker *time.Ticker
	cancel chan struct{}
}

// New creates a Scheduler.
func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		periodic: make(map[string]*periodicTask),
		delayed:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// runSafely invokes fn, logging instead of crashing the worker on panic.
func (s *Scheduler) runSafely(name string, fn TaskFn) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked",
				zap.String("task", name),
				zap.Any("recover", r))
		}
	}()
	fn()
}

// AddTicker registers fn to run every interval until removed or stopped.
func (s *Scheduler) AddTicker(name string, interval time.Duration, fn TaskFn) {
	task := &periodicTask{
		ticker: time.NewTicker(interval),
		cancel: make(chan struct{}),
	}

	s.mu.Lock()
	if old, ok := s.periodic[name]; ok {
		close(old.cancel)
	}
	s.periodic[name] = task
	s.mu.Unlock()

	go func() {
		defer task.ticker.Stop()
		for {
			select {
			case <-task.ticker.C:
				s.runSafely(name, fn)
			case <-task.cancel:
				return
			case <-s.done:
				return
			}
		}
	}()
	s.logger.Info("periodic task registered",
		zap.String("task", name), zap.Duration("interval", interval))
}

// AddDelay runs fn once after delay. A pending delay under the same name is
// canceled first.
func (s *Scheduler) AddDelay(name string, delay time.Duration, fn TaskFn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.delayed[name]; ok {
		old.Stop()
	}
	s.delayed[name] = time.AfterFunc(delay, func() {
		defer func() {
			s.mu.Lock()
			delete(s.delayed, name)
			s.mu.Unlock()
		}()
		s.runSafely(name, fn)
	})
}

// Remove cancels the periodic or delayed task registered under name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task, ok := s.periodic[name]; ok {
		close(task.cancel)
		delete(s.periodic, name)
	}
	if timer, ok := s.delayed[name]; ok {
		timer.Stop()
		delete(s.delayed, name)
	}
}

// Stop cancels every running task. Safe to call more than once.
func (s *Scheduler) Stop() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// ListTickers returns the names of all registered periodic tasks.
func (s *Scheduler) ListTickers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.periodic))
	for name := range s.periodic {
		names = append(names, name)
	}
	return names
}
