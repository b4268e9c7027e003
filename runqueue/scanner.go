package runqueue

import (
	"time"

	"github.com/hupe1980/eve/logging"
)

// scanLoop periodically reclassifies workers until Shutdown.
func (q *RunQueue) scanLoop() {
	defer close(q.scanDone)

	interval := q.cfg.ScanInterval
	timer := q.clock.Timer(interval)
	defer timer.Stop()

	for {
		select {
		case <-q.scanStop:
			return
		case <-timer.C:
		}
		changed := q.scan()
		interval = q.cfg.nextInterval(interval, changed)
		q.scanInterval.Store(int64(interval))
		timer.Reset(interval)
	}
}

// scan samples every tracked worker once. Running workers that are blocked
// while holding a task move to the waiting set; terminated workers are swept
// and their unstarted task is requeued. Pending work is then dispatched into
// the freed slots. It reports whether anything changed.
func (q *RunQueue) scan() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := make([]int64, 0, len(q.running)+len(q.waiting))
	for _, set := range []map[*worker]struct{}{q.running, q.waiting} {
		for w := range set {
			if gid := w.gid.Load(); gid != 0 {
				ids = append(ids, gid)
			}
		}
	}
	states := q.sampler.Sample(ids)

	changed := false
	for w := range q.running {
		switch q.classify(w, states) {
		case StateTerminated:
			q.retireLocked(w)
			q.logger.Warn("swept terminated worker", "worker_id", w.id)
			changed = true
		case StateWaiting:
			if w.holdsTask() {
				delete(q.running, w)
				q.waiting[w] = struct{}{}
				changed = true
			}
		}
	}
	for w := range q.waiting {
		if q.classify(w, states) == StateTerminated {
			q.retireLocked(w)
			changed = true
		}
	}
	if q.dispatchLocked() > 0 {
		changed = true
	}

	if el, ok := q.logger.(*logging.EveLogger); ok {
		el.LogPoolScan(len(q.running), len(q.waiting), len(q.reserve), q.pending.Len(), time.Duration(q.scanInterval.Load()), changed)
	}
	return changed
}

// classify combines the worker's own bookkeeping with the sampled state.
func (q *RunQueue) classify(w *worker, states map[int64]ThreadState) ThreadState {
	if w.dead.Load() {
		return StateTerminated
	}
	gid := w.gid.Load()
	if gid == 0 {
		// goroutine not scheduled yet
		return StateRunning
	}
	st, ok := states[gid]
	if !ok {
		return StateTerminated
	}
	return st
}
