// Package scheduler provides a generic recurring task runner. A single
// worker goroutine dispatches the task with the earliest deadline; task
// bodies run in their own goroutine, so an execution that outlives its
// interval may overlap the next one. Task bodies must tolerate that.
package scheduler

import (
	"context"
	"sync"
	"time"

	"trading-engine/internal/logger"
)

// task pairs a callable with its repeat interval and next deadline.
// Owned exclusively by the scheduler; never escapes.
type task struct {
	fn       func()
	interval time.Duration
	nextRun  time.Time
}

// Scheduler runs registered tasks at fixed intervals on one worker.
type Scheduler struct {
	mu      sync.Mutex
	tasks   []*task
	running bool
	wake    chan struct{}
	done    chan struct{}
}

// New creates a stopped scheduler. Tasks can be added before Start;
// each first fires one interval after registration.
func New() *Scheduler {
	return &Scheduler{}
}

// AddTask registers fn to run every interval, first firing one interval
// from now. Adding a task wakes a sleeping worker immediately.
func (s *Scheduler) AddTask(fn func(), interval time.Duration) {
	s.mu.Lock()
	s.tasks = append(s.tasks, &task{
		fn:       fn,
		interval: interval,
		nextRun:  time.Now().Add(interval),
	})
	wake := s.wake
	s.mu.Unlock()

	if wake != nil {
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}

// Start launches the worker. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.wake = make(chan struct{}, 1)
	s.done = make(chan struct{})
	go s.run(s.wake, s.done)
}

// Stop halts the worker, clears all pending tasks and joins the worker
// before returning. Idempotent. Tasks already dispatched keep running;
// they are fire-and-forget and not cancellable.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.tasks = nil
	wake := s.wake
	done := s.done
	s.mu.Unlock()

	select {
	case wake <- struct{}{}:
	default:
	}
	<-done

	logger.Debug(context.Background(), "Scheduler stopped")
}

// run is the worker loop: find the earliest deadline, dispatch it if due,
// otherwise sleep until the deadline or a wakeup.
func (s *Scheduler) run(wake chan struct{}, done chan struct{}) {
	defer close(done)

	for {
		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			return
		}

		if len(s.tasks) == 0 {
			s.mu.Unlock()
			<-wake
			continue
		}

		next := s.tasks[0]
		for _, t := range s.tasks[1:] {
			if t.nextRun.Before(next.nextRun) {
				next = t
			}
		}

		now := time.Now()
		if !now.Before(next.nextRun) {
			next.nextRun = now.Add(next.interval)
			fn := next.fn
			s.mu.Unlock()

			// Dispatch without holding the lock so the task cannot
			// block scheduling or AddTask.
			go fn()
			continue
		}

		d := next.nextRun.Sub(now)
		s.mu.Unlock()

		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-wake:
			timer.Stop()
		}
	}
}

// TaskCount reports how many tasks are currently registered.
func (s *Scheduler) TaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Running reports whether the worker is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
