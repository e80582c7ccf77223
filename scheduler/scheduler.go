// Package scheduler implements the link runtime's cooperative task
// executor: a fixed worker pool draining a shared queue, plus delayed
// scheduling on a min-heap keyed by absolute deadline. The dslink
// package submits the handling of each inbound request frame to it as a
// task. The node model, subscription engine, action engine, and
// requester stream table do not submit work to it themselves: their
// methods run on the calling goroutine.
package scheduler

import (
	"container/heap"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// Task is a unit of work. Tasks run to completion without suspension
// points from the scheduler's perspective; a task may itself submit
// further tasks.
type Task func()

// Scheduler owns a fixed pool of worker goroutines that drain a shared
// FIFO queue, plus a single timer goroutine that promotes delayed tasks
// into that queue once their deadline elapses.
type Scheduler struct {
	logger *slog.Logger

	queue  chan Task
	workers int

	mu       sync.Mutex
	timers   delayedHeap
	timerCh  chan struct{} // signals the timer goroutine to re-check the heap head
	stopping bool
	stopCh   chan struct{}
	timerDone chan struct{}

	workerWG sync.WaitGroup
}

// Options configures a Scheduler. A zero Options uses GOMAXPROCS workers
// (minimum 1) and a queue depth of 1024.
type Options struct {
	// Workers is the worker pool size. Defaults to runtime.GOMAXPROCS(0),
	// floored at 1, if <= 0.
	Workers int
	// QueueDepth bounds the immediate-task queue. Defaults to 1024.
	QueueDepth int
	// Logger receives diagnostic messages. Defaults to slog.Default().
	Logger *slog.Logger
}

// New creates and starts a Scheduler.
func New(opts Options) *Scheduler {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers < 1 {
		workers = 1
	}
	depth := opts.QueueDepth
	if depth <= 0 {
		depth = 1024
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		logger:    logger,
		queue:     make(chan Task, depth),
		workers:   workers,
		timerCh:   make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		timerDone: make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		s.workerWG.Add(1)
		go s.runWorker()
	}
	go s.runTimer()

	s.logger.Debug("scheduler started", "workers", workers, "queue_depth", depth)
	return s
}

// Submit enqueues task for immediate execution. Tasks submitted from the
// same goroutine run in FIFO order relative to each other, but may be
// interleaved with tasks submitted concurrently from other goroutines.
// Submit blocks if the queue is full; callers that must not block should
// size QueueDepth generously, since the engine never drops an
// already-accepted task.
func (s *Scheduler) Submit(task Task) {
	s.queue <- wrapTask(s.logger, task)
}

// SubmitDelayed schedules task to run after delay elapses. Returns a
// Cancel func; calling it before the deadline prevents the task from
// ever being promoted to the immediate queue. Cancellation is
// best-effort: if the task has already been promoted, Cancel is a no-op.
func (s *Scheduler) SubmitDelayed(delay time.Duration, task Task) (cancel func()) {
	item := &delayedTask{
		deadline: time.Now().Add(delay),
		task:     wrapTask(s.logger, task),
	}

	s.mu.Lock()
	heap.Push(&s.timers, item)
	s.mu.Unlock()

	select {
	case s.timerCh <- struct{}{}:
	default:
	}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		item.canceled = true
	}
}

// wrapTask recovers panics from user tasks so one bad callback cannot
// take down a worker goroutine.
func wrapTask(logger *slog.Logger, task Task) Task {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("scheduler task panicked", "recover", r)
			}
		}()
		task()
	}
}

func (s *Scheduler) runWorker() {
	defer s.workerWG.Done()
	for task := range s.queue {
		task()
	}
}

// runTimer promotes delayed tasks whose deadline has elapsed into the
// immediate queue. It wakes whenever SubmitDelayed adds a new head
// candidate or its own timer fires, and exits once Shutdown closes
// stopCh, discarding whatever remains in the heap. Shutdown waits on
// timerDone before closing the immediate queue, so this goroutine never
// races a closed queue.
func (s *Scheduler) runTimer() {
	defer close(s.timerDone)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		select {
		case <-s.stopCh:
			s.drainTimers()
			return
		default:
		}

		s.mu.Lock()
		var wait time.Duration
		if s.timers.Len() == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(s.timers[0].deadline)
			if wait < 0 {
				wait = 0
			}
		}
		s.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-s.stopCh:
			s.drainTimers()
			return
		case <-timer.C:
			s.promoteDue()
		case <-s.timerCh:
			// heap head may have changed; loop recomputes wait
		}
	}
}

func (s *Scheduler) promoteDue() {
	now := time.Now()
	s.mu.Lock()
	var due []Task
	for s.timers.Len() > 0 && !s.timers[0].deadline.After(now) {
		item := heap.Pop(&s.timers).(*delayedTask)
		if !item.canceled {
			due = append(due, item.task)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		s.queue <- t
	}
}

// drainTimers discards any remaining delayed tasks on shutdown, per the
// spec: "Cancellation is not individual — shutdown drains then discards
// pending delayed tasks."
func (s *Scheduler) drainTimers() {
	s.mu.Lock()
	s.timers = nil
	s.mu.Unlock()
}

// Shutdown cancels all pending delayed tasks and waits for in-flight
// immediate tasks to drain before returning. After Shutdown, Submit and
// SubmitDelayed must not be called.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	s.mu.Unlock()

	close(s.stopCh)
	<-s.timerDone
	close(s.queue)
	s.workerWG.Wait()
	s.logger.Debug("scheduler stopped")
}
