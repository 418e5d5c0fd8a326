package scheduler

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskFn is the function signature for scheduled tasks.
type TaskFn func()

// Scheduler runs named maintenance tasks, either on a fixed interval or
// once after a delay. Tasks are recovered so a panicking maintenance
// pass cannot take the process down.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[string]*periodicTask
	timers map[string]*time.Timer
	logger *zap.Logger
	stopCh chan struct{}
}

type periodicTask struct {
	ticker   *time.Ticker
	interval time.Duration
	stopCh   chan struct{}
}

// New creates a new Scheduler.
func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		tasks:  make(map[string]*periodicTask),
		timers: make(map[string]*time.Timer),
		stopCh: make(chan struct{}),
		logger: logger,
	}
}

// Every registers a task to run on a fixed interval. Registering the
// same name again replaces the previous schedule.
func (s *Scheduler) Every(name string, interval time.Duration, fn TaskFn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.tasks[name]; ok {
		close(old.stopCh)
		delete(s.tasks, name)
	}

	task := &periodicTask{
		ticker:   time.NewTicker(interval),
		interval: interval,
		stopCh:   make(chan struct{}),
	}
	s.tasks[name] = task

	go func() {
		for {
			select {
			case <-task.ticker.C:
				s.runGuarded(name, fn)
			case <-task.stopCh:
				task.ticker.Stop()
				return
			case <-s.stopCh:
				task.ticker.Stop()
				return
			}
		}
	}()
	s.logger.Info("scheduled task registered",
		zap.String("name", name), zap.Duration("interval", interval))
}

// Once runs fn a single time after the given delay.
func (s *Scheduler) Once(name string, delay time.Duration, fn TaskFn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[name]; ok {
		old.Stop()
	}
	s.timers[name] = time.AfterFunc(delay, func() {
		defer func() {
			s.mu.Lock()
			delete(s.timers, name)
			s.mu.Unlock()
		}()
		s.runGuarded(name, fn)
	})
}

func (s *Scheduler) runGuarded(name string, fn TaskFn) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked",
				zap.String("task", name), zap.Any("recover", r))
		}
	}()
	fn()
}

// Remove stops and forgets a task by name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task, ok := s.tasks[name]; ok {
		close(task.stopCh)
		delete(s.tasks, name)
	}
	if t, ok := s.timers[name]; ok {
		t.Stop()
		delete(s.timers, name)
	}
}

// Stop stops every task.
func (s *Scheduler) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

// TaskInfo describes one registered periodic task.
type TaskInfo struct {
	Name     string `json:"name"`
	Interval string `json:"interval"`
}

// ListTasks returns the registered periodic tasks.
func (s *Scheduler) ListTasks() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]TaskInfo, 0, len(s.tasks))
	for name, task := range s.tasks {
		infos = append(infos, TaskInfo{Name: name, Interval: task.interval.String()})
	}
	return infos
}
