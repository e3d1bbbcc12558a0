package dispatch

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Task is a unit of deferred work, typically a queue drain. A task may be
// submitted from any goroutine, including non-blocking callback contexts:
// Submit never blocks and submitting an already-pending task is a no-op.
type Task struct {
	name    string
	run     func()
	pending atomic.Bool
}

// NewTask creates a named task around fn. The same Task value must be reused
// across submissions for the idempotence guarantee to hold.
func NewTask(name string, fn func()) *Task {
	return &Task{name: name, run: fn}
}

// Name returns the task name used in logs.
func (t *Task) Name() string { return t.name }

// Executor runs submitted tasks one at a time on a single goroutine. Each
// task runs to completion before the next starts; ordering across different
// tasks is not guaranteed.
type Executor struct {
	logger *logrus.Logger

	queue chan *Task
	wg    sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
}

// NewExecutor creates an executor able to hold up to capacity distinct
// pending tasks. Capacity must cover the number of distinct Task values
// submitted to this executor; the per-task pending flag then guarantees
// Submit never blocks.
func NewExecutor(capacity int, logger *logrus.Logger) *Executor {
	if logger == nil {
		logger = logrus.New()
	}
	return &Executor{
		logger: logger,
		queue:  make(chan *Task, capacity),
		stop:   make(chan struct{}),
	}
}

// Start launches the executor goroutine. Safe to call more than once.
func (e *Executor) Start() {
	e.startOnce.Do(func() {
		e.wg.Add(1)
		go e.loop()
	})
}

// Submit schedules a task. It never blocks: if the task is already pending
// the call is a no-op and returns false.
func (e *Executor) Submit(t *Task) bool {
	if !t.pending.CompareAndSwap(false, true) {
		return false
	}
	select {
	case e.queue <- t:
		return true
	default:
		// Only reachable if capacity was sized below the task count.
		t.pending.Store(false)
		e.logger.WithField("task", t.name).Error("Executor queue full, task not scheduled")
		return false
	}
}

// Stop terminates the executor goroutine and waits for the in-flight task to
// finish. Tasks still queued are discarded.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() {
		close(e.stop)
	})
	e.wg.Wait()
}

func (e *Executor) loop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stop:
			return
		case t := <-e.queue:
			// Clear pending before running so a submission arriving
			// during the run schedules one more pass.
			t.pending.Store(false)
			t.run()
		}
	}
}
