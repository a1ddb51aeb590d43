// Package scheduler runs periodic refreshes for as long as someone needs them.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Task calls fn immediately and then on every interval tick until stopped.
type Task struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTask creates a stopped task.
func NewTask(name string, interval time.Duration, fn func(ctx context.Context)) *Task {
	return &Task{name: name, interval: interval, fn: fn}
}

// Start begins the polling loop in a background goroutine. Starting a running
// task is a no-op. The loop ends when ctx is cancelled or Stop is called.
func (t *Task) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done

	go func() {
		defer close(done)

		// run once immediately so state isn't empty until the first tick
		t.fn(ctx)

		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				t.fn(ctx)
			case <-ctx.Done():
				logrus.WithField("task", t.name).Debug("Polling task stopped")
				return
			}
		}
	}()

	logrus.WithFields(logrus.Fields{
		"task":     t.name,
		"interval": t.interval.String(),
	}).Debug("Polling task started")
}

// Stop cancels the loop and waits for a running fn call to return.
func (t *Task) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop is active.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

type mount struct {
	task *Task
	refs int
}

// Scheduler shares tasks between consumers by name. The first Mount of a name
// starts its task and the last unmount stops it.
type Scheduler struct {
	ctx   context.Context
	mu    sync.Mutex
	tasks map[string]*mount
}

// New creates a scheduler whose tasks run under ctx.
func New(ctx context.Context) *Scheduler {
	return &Scheduler{
		ctx:   ctx,
		tasks: make(map[string]*mount),
	}
}

// Mount registers interest in the named task and returns the function that
// releases it. interval and fn are only used when the task is not yet running.
// The returned function is safe to call more than once.
func (s *Scheduler) Mount(name string, interval time.Duration, fn func(ctx context.Context)) (unmount func()) {
	s.mu.Lock()
	m, ok := s.tasks[name]
	if !ok {
		m = &mount{task: NewTask(name, interval, fn)}
		s.tasks[name] = m
	}
	m.refs++
	if !ok {
		m.task.Start(s.ctx)
	}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.release(name, m) })
	}
}

func (s *Scheduler) release(name string, m *mount) {
	s.mu.Lock()
	m.refs--
	last := m.refs <= 0
	if last && s.tasks[name] == m {
		delete(s.tasks, name)
	}
	s.mu.Unlock()

	if last {
		m.task.Stop()
	}
}

// Mounted reports whether a task with the given name is running.
func (s *Scheduler) Mounted(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[name]
	return ok
}

// Names returns the running task names.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		out = append(out, name)
	}
	return out
}

// StopAll stops every task regardless of outstanding mounts.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	tasks := make([]*Task, 0, len(s.tasks))
	for name, m := range s.tasks {
		tasks = append(tasks, m.task)
		m.refs = 0
		delete(s.tasks, name)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		t.Stop()
	}
	logrus.WithField("tasks", len(tasks)).Info("Scheduler stopped")
}
