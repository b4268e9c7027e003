package runqueue

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hupe1980/eve/core"
	"github.com/hupe1980/eve/internal/queue"
	"github.com/hupe1980/eve/logging"
)

// RunQueue is an adaptive worker pool. It keeps roughly Target tasks truly
// running: workers found blocked by the periodic scan are moved to a waiting
// set, freeing their running slot for a new worker.
//
// Concurrency Model:
//   - One mutex guards the running, waiting and reserve sets, the pending
//     queue and the shutdown flags.
//   - Execute never blocks on task execution; it only takes that mutex.
//   - The scanner runs on its own goroutine and is stopped by Shutdown.
type RunQueue struct {
	cfg     Config
	logger  logging.Logger
	clock   clock.Clock
	sampler StateSampler

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	running    map[*worker]struct{}
	waiting    map[*worker]struct{}
	reserve    []*worker
	pending    *queue.Queue[core.Task]
	shutdown   bool
	stopped    bool // ShutdownNow was called
	nextID     uint64
	terminated chan struct{}
	closed     bool

	scanStop     chan struct{}
	scanDone     chan struct{}
	scanInterval atomic.Int64

	executed  atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
	recovered atomic.Uint64
	spawned   atomic.Uint64
}

var _ core.Executor = (*RunQueue)(nil)

// New creates a RunQueue and starts its scanner.
func New(optFns ...func(o *Options)) *RunQueue {
	opts := Options{
		Config:  DefaultConfig,
		Logger:  logging.NoOpLogger{},
		Clock:   clock.New(),
		Sampler: StackSampler{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Sampler == nil {
		opts.Sampler = StackSampler{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &RunQueue{
		cfg:        opts.Config.normalized(),
		logger:     opts.Logger,
		clock:      opts.Clock,
		sampler:    opts.Sampler,
		ctx:        ctx,
		cancel:     cancel,
		running:    make(map[*worker]struct{}),
		waiting:    make(map[*worker]struct{}),
		pending:    queue.New[core.Task](),
		terminated: make(chan struct{}),
		scanStop:   make(chan struct{}),
		scanDone:   make(chan struct{}),
	}
	q.scanInterval.Store(int64(q.cfg.ScanInterval))
	go q.scanLoop()
	return q
}

// Target returns the size of the running set the pool aims for.
func (q *RunQueue) Target() int { return q.cfg.Target }

// Context is canceled by ShutdownNow. Long running tasks may watch it to
// honour interruption.
func (q *RunQueue) Context() context.Context { return q.ctx }

// Execute submits a task. It hands the task to a reserve or new worker when
// the running set has room and queues it otherwise. Tasks submitted after
// Shutdown are dropped with a warning.
func (q *RunQueue) Execute(task core.Task) {
	if task == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shutdown {
		q.dropped.Add(1)
		q.logger.Warn("run queue is shut down, dropping task")
		return
	}
	q.pending.Push(task)
	q.dispatchLocked()
}

// dispatchLocked drains pending tasks into free running slots, oldest first.
func (q *RunQueue) dispatchLocked() int {
	n := 0
	for !q.stopped && len(q.running) < q.cfg.Target {
		task, ok := q.pending.TryPop()
		if !ok {
			break
		}
		w := q.acquireLocked()
		q.running[w] = struct{}{}
		w.hand(task)
		n++
	}
	return n
}

// acquireLocked takes a worker from the reserve or spawns a new one.
func (q *RunQueue) acquireLocked() *worker {
	if n := len(q.reserve); n > 0 {
		w := q.reserve[n-1]
		q.reserve[n-1] = nil
		q.reserve = q.reserve[:n-1]
		return w
	}
	q.nextID++
	w := newWorker(q, q.nextID)
	q.spawned.Add(1)
	go w.loop()
	return w
}

// afterTask is called by a worker that finished a task. It returns the next
// task to run, or whether the worker should park in the reserve. When both
// are zero the worker has been torn down.
func (q *RunQueue) afterTask(w *worker) (core.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.waiting, w)
	_, isRunning := q.running[w]
	if !q.stopped && (isRunning || len(q.running) < q.cfg.Target) {
		if task, ok := q.pending.TryPop(); ok {
			q.running[w] = struct{}{}
			w.mu.Lock()
			w.assigned = task
			w.started = false
			w.mu.Unlock()
			return task, false
		}
	}
	delete(q.running, w)

	if !q.shutdown && len(q.reserve) < q.cfg.ReserveSize {
		q.reserve = append(q.reserve, w)
		return nil, true
	}
	w.cancel()
	q.checkTerminatedLocked()
	return nil, false
}

// retire drops w from every tracking set.
func (q *RunQueue) retire(w *worker) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retireLocked(w)
	q.dispatchLocked()
}

// retireLocked removes w from the pool. A task that was assigned but never
// started is returned to the pending queue unless ShutdownNow was called.
func (q *RunQueue) retireLocked(w *worker) bool {
	delete(q.running, w)
	delete(q.waiting, w)
	if i := slices.Index(q.reserve, w); i >= 0 {
		q.reserve = slices.Delete(q.reserve, i, i+1)
	}
	w.cancel()

	requeued := false
	if task := w.takeUnstarted(); task != nil && !q.stopped {
		q.pending.Push(task)
		q.recovered.Add(1)
		requeued = true
	}
	q.checkTerminatedLocked()
	return requeued
}

func (q *RunQueue) checkTerminatedLocked() {
	if q.closed || !q.shutdown {
		return
	}
	if len(q.running) == 0 && len(q.waiting) == 0 && len(q.reserve) == 0 && q.pending.Len() == 0 {
		q.closed = true
		close(q.terminated)
	}
}

// Shutdown stops accepting tasks. Tasks already running or queued continue
// to completion; idle reserve workers are released and the scanner stops.
func (q *RunQueue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shutdownLocked()
}

func (q *RunQueue) shutdownLocked() {
	if !q.shutdown {
		q.shutdown = true
		close(q.scanStop)
	}
	for _, w := range q.reserve {
		w.cancel()
	}
	q.reserve = nil
	// the scanner is gone, so sweep workers that already died
	for _, set := range []map[*worker]struct{}{q.running, q.waiting} {
		for w := range set {
			if w.dead.Load() {
				q.retireLocked(w)
			}
		}
	}
	q.dispatchLocked()
	q.checkTerminatedLocked()
}

// ShutdownNow shuts the pool down, cancels every worker and returns the tasks
// that never started, including those handed to a worker that had not picked
// them up yet. Running tasks are not stopped; they can only observe
// cancellation through Context.
func (q *RunQueue) ShutdownNow() []core.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.stopped = true
	var pending []core.Task
	for _, set := range []map[*worker]struct{}{q.running, q.waiting} {
		for w := range set {
			if task := w.takeUnstarted(); task != nil {
				pending = append(pending, task)
			}
		}
	}
	pending = append(pending, q.pending.Drain()...)
	q.shutdownLocked()
	q.cancel()
	for w := range q.running {
		w.cancel()
	}
	for w := range q.waiting {
		w.cancel()
	}
	return pending
}

// IsShutdown reports whether Shutdown or ShutdownNow was called.
func (q *RunQueue) IsShutdown() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shutdown
}

// IsTerminated reports whether the pool is shut down and every worker is gone.
func (q *RunQueue) IsTerminated() bool {
	select {
	case <-q.terminated:
		return true
	default:
		return false
	}
}

// AwaitTermination blocks until the pool terminates or timeout elapses and
// reports whether it terminated.
func (q *RunQueue) AwaitTermination(timeout time.Duration) bool {
	timer := q.clock.Timer(timeout)
	defer timer.Stop()
	select {
	case <-q.terminated:
		return true
	case <-timer.C:
		return q.IsTerminated()
	}
}

// Stats is a point-in-time snapshot of the pool.
type Stats struct {
	Target       int
	Running      int
	Waiting      int
	Reserve      int
	Pending      int
	ScanInterval time.Duration
	Executed     uint64
	Dropped      uint64
	Failed       uint64
	Recovered    uint64
	Spawned      uint64
}

// Stats returns a snapshot of the pool counters.
func (q *RunQueue) Stats() Stats {
	q.mu.Lock()
	s := Stats{
		Target:  q.cfg.Target,
		Running: len(q.running),
		Waiting: len(q.waiting),
		Reserve: len(q.reserve),
		Pending: q.pending.Len(),
	}
	q.mu.Unlock()
	s.ScanInterval = time.Duration(q.scanInterval.Load())
	s.Executed = q.executed.Load()
	s.Dropped = q.dropped.Load()
	s.Failed = q.failed.Load()
	s.Recovered = q.recovered.Load()
	s.Spawned = q.spawned.Load()
	return s
}
