package runqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/eve/core"
	"github.com/hupe1980/eve/logging"
)

// worker is one pool-owned goroutine executing at most one task at a time.
// It is owned exclusively by its RunQueue.
type worker struct {
	id     uint64
	q      *RunQueue
	tasks  chan core.Task // capacity 1; written only while the worker is idle
	ctx    context.Context
	cancel context.CancelFunc

	gid  atomic.Int64 // goroutine id, zero until the goroutine starts
	dead atomic.Bool

	mu        sync.Mutex
	assigned  core.Task
	started   bool
	startedAt time.Time
}

func newWorker(q *RunQueue, id uint64) *worker {
	ctx, cancel := context.WithCancel(q.ctx)
	return &worker{id: id, q: q, tasks: make(chan core.Task, 1), ctx: ctx, cancel: cancel}
}

// hand assigns task to an idle worker. The caller holds q.mu.
func (w *worker) hand(task core.Task) {
	w.mu.Lock()
	w.assigned = task
	w.started = false
	w.mu.Unlock()
	w.tasks <- task
}

// holdsTask reports whether the worker is executing a task.
func (w *worker) holdsTask() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.assigned != nil && w.started
}

// takeUnstarted returns the assigned task if it never began executing.
func (w *worker) takeUnstarted() core.Task {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.assigned == nil || w.started {
		return nil
	}
	t := w.assigned
	w.assigned = nil
	return t
}

func (w *worker) loop() {
	w.gid.Store(goroutineID())
	for {
		var task core.Task
		select {
		case task = <-w.tasks:
		case <-w.ctx.Done():
			w.dead.Store(true)
			w.q.retire(w)
			return
		}
		for task != nil {
			if !w.execute(task) {
				return
			}
			var park bool
			task, park = w.q.afterTask(w)
			if task == nil && !park {
				w.dead.Store(true)
				return
			}
		}
	}
}

// claim marks the current assignment as started. It fails when the
// assignment was taken back by ShutdownNow before the worker got to it.
func (w *worker) claim() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.assigned == nil {
		return false
	}
	w.started = true
	w.startedAt = w.q.clock.Now()
	return true
}

// execute runs task and reports whether the worker survived it. A panicking
// task terminates the worker; the scanner sweeps it on its next pass.
func (w *worker) execute(task core.Task) (survived bool) {
	if !w.claim() {
		return true
	}

	defer func() {
		w.mu.Lock()
		w.assigned = nil
		w.started = false
		w.mu.Unlock()
		if r := recover(); r != nil {
			w.dead.Store(true)
			w.q.failed.Add(1)
			logging.LogPanic(w.q.logger, r, "task panicked, worker terminated", "worker_id", w.id)
			if w.q.IsShutdown() {
				// no scanner left to sweep us
				w.q.retire(w)
			}
			survived = false
		}
	}()

	task()
	w.q.executed.Add(1)
	return true
}
