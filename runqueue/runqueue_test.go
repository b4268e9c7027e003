package runqueue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/eve/core"
	"github.com/stretchr/testify/assert"
)

// fixedSampler reports the same state for every goroutine it is asked about.
type fixedSampler struct {
	state atomic.Int32
}

func newFixedSampler(s ThreadState) *fixedSampler {
	f := &fixedSampler{}
	f.set(s)
	return f
}

func (f *fixedSampler) set(s ThreadState) { f.state.Store(int32(s)) }

func (f *fixedSampler) Sample(ids []int64) map[int64]ThreadState {
	out := make(map[int64]ThreadState, len(ids))
	for _, id := range ids {
		out[id] = ThreadState(f.state.Load())
	}
	return out
}

// newTestQueue builds a queue whose background scanner effectively never
// fires, so tests drive scan() themselves.
func newTestQueue(t *testing.T, target int, sampler StateSampler) *RunQueue {
	t.Helper()
	q := New(func(o *Options) {
		o.Config.Target = target
		o.Config.ScanInterval = time.Hour
		o.Config.MaxScanInterval = time.Hour
		o.Sampler = sampler
	})
	t.Cleanup(func() {
		q.ShutdownNow()
	})
	return q
}

func trackMax(cur int64, maxSeen *atomic.Int64) {
	for {
		m := maxSeen.Load()
		if cur <= m || maxSeen.CompareAndSwap(m, cur) {
			return
		}
	}
}

func TestRunQueue_ExecutesEveryTaskExactlyOnce(t *testing.T) {
	q := newTestQueue(t, 4, newFixedSampler(StateRunning))

	const n = 500
	var (
		wg     sync.WaitGroup
		counts [n]atomic.Int32
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		q.Execute(func() {
			counts[i].Add(1)
			wg.Done()
		})
	}
	wg.Wait()

	for i := range counts {
		assert.Equal(t, int32(1), counts[i].Load(), "task %d", i)
	}
	assert.Eventually(t, func() bool { return q.Stats().Executed == n }, time.Second, 5*time.Millisecond)
}

func TestRunQueue_RunningNeverExceedsTarget(t *testing.T) {
	q := newTestQueue(t, 3, newFixedSampler(StateRunning))

	gate := make(chan struct{})
	var (
		active  atomic.Int64
		maxSeen atomic.Int64
		wg      sync.WaitGroup
	)
	const n = 12
	wg.Add(n)
	for i := 0; i < n; i++ {
		q.Execute(func() {
			defer wg.Done()
			trackMax(active.Add(1), &maxSeen)
			<-gate
			active.Add(-1)
		})
	}

	assert.Eventually(t, func() bool { return active.Load() == 3 }, time.Second, time.Millisecond)
	s := q.Stats()
	assert.Equal(t, 3, s.Running)
	assert.Equal(t, n-3, s.Pending)

	// a scan with everything running changes nothing
	assert.False(t, q.scan())
	assert.Equal(t, 3, q.Stats().Running)

	close(gate)
	wg.Wait()
	assert.LessOrEqual(t, maxSeen.Load(), int64(3))
}

func TestRunQueue_FIFOAdmissionUnderSaturation(t *testing.T) {
	q := newTestQueue(t, 1, newFixedSampler(StateRunning))

	gate := make(chan struct{})
	started := make(chan struct{})
	q.Execute(func() {
		close(started)
		<-gate
	})
	<-started

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	const n = 20
	wg.Add(n)
	for i := 0; i < n; i++ {
		q.Execute(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	assert.Equal(t, n, q.Stats().Pending)

	close(gate)
	wg.Wait()

	for i := range order {
		assert.Equal(t, i, order[i])
	}
}

func TestRunQueue_ScanMovesBlockedWorkersToWaiting(t *testing.T) {
	sampler := newFixedSampler(StateRunning)
	q := newTestQueue(t, 2, sampler)

	gate := make(chan struct{})
	var blockedStarted, all sync.WaitGroup
	blockedStarted.Add(2)
	all.Add(4)
	for i := 0; i < 2; i++ {
		q.Execute(func() {
			defer all.Done()
			blockedStarted.Done()
			<-gate
		})
	}
	blockedStarted.Wait()

	var extraRan atomic.Int32
	for i := 0; i < 2; i++ {
		q.Execute(func() {
			defer all.Done()
			extraRan.Add(1)
		})
	}
	assert.Equal(t, 2, q.Stats().Pending)
	assert.Zero(t, extraRan.Load())

	sampler.set(StateWaiting)
	assert.True(t, q.scan())
	sampler.set(StateRunning)

	s := q.Stats()
	assert.Equal(t, 2, s.Waiting)
	assert.LessOrEqual(t, s.Running, 2)
	assert.Zero(t, s.Pending)
	assert.Eventually(t, func() bool { return extraRan.Load() == 2 }, time.Second, time.Millisecond)

	close(gate)
	all.Wait()
	assert.Eventually(t, func() bool { return q.Stats().Waiting == 0 }, time.Second, time.Millisecond)
}

func TestRunQueue_ScanIgnoresIdleWaitingWorkers(t *testing.T) {
	q := newTestQueue(t, 2, newFixedSampler(StateWaiting))

	done := make(chan struct{})
	q.Execute(func() { close(done) })
	<-done
	assert.Eventually(t, func() bool { return q.Stats().Reserve == 1 }, time.Second, time.Millisecond)

	// parked workers are not in the running set and hold no task
	q.scan()
	s := q.Stats()
	assert.Zero(t, s.Waiting)
	assert.Equal(t, 1, s.Reserve)
}

func TestRunQueue_ScanSweepsPanickedWorker(t *testing.T) {
	q := newTestQueue(t, 1, newFixedSampler(StateRunning))

	q.Execute(func() { panic("boom") })
	assert.Eventually(t, func() bool { return q.Stats().Failed == 1 }, time.Second, time.Millisecond)

	// the dead worker still occupies the only running slot
	ran := make(chan struct{})
	q.Execute(func() { close(ran) })
	assert.Equal(t, 1, q.Stats().Pending)

	assert.True(t, q.scan())
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("queued task did not run after sweep")
	}
}

func TestRunQueue_RetireRequeuesUnstartedTask(t *testing.T) {
	q := newTestQueue(t, 2, newFixedSampler(StateRunning))

	ran := make(chan struct{})
	w := newWorker(q, 999)
	w.assigned = core.Task(func() { close(ran) })

	q.mu.Lock()
	q.running[w] = struct{}{}
	q.mu.Unlock()

	q.retire(w)

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("recovered task never ran")
	}
	assert.Equal(t, uint64(1), q.Stats().Recovered)
}

func TestRunQueue_RetireDropsStartedTask(t *testing.T) {
	q := newTestQueue(t, 2, newFixedSampler(StateRunning))

	w := newWorker(q, 999)
	w.assigned = func() {}
	w.started = true

	q.mu.Lock()
	q.running[w] = struct{}{}
	q.mu.Unlock()

	q.retire(w)

	assert.Zero(t, q.Stats().Recovered)
	assert.Zero(t, q.Stats().Pending)
}

func TestRunQueue_ReusesReserveWorkers(t *testing.T) {
	q := newTestQueue(t, 2, newFixedSampler(StateRunning))

	for i := 0; i < 3; i++ {
		done := make(chan struct{})
		q.Execute(func() { close(done) })
		<-done
		assert.Eventually(t, func() bool { return q.Stats().Reserve == 1 }, time.Second, time.Millisecond)
	}
	assert.Equal(t, uint64(1), q.Stats().Spawned)
}

func TestRunQueue_ShutdownDrainsQueuedTasks(t *testing.T) {
	q := newTestQueue(t, 2, newFixedSampler(StateRunning))

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		q.Execute(func() {
			time.Sleep(5 * time.Millisecond)
			ran.Add(1)
		})
	}
	q.Shutdown()
	assert.True(t, q.IsShutdown())

	var late atomic.Bool
	q.Execute(func() { late.Store(true) })

	assert.True(t, q.AwaitTermination(5*time.Second))
	assert.True(t, q.IsTerminated())
	assert.Equal(t, int32(10), ran.Load())
	assert.False(t, late.Load())
	assert.Equal(t, uint64(1), q.Stats().Dropped)

	s := q.Stats()
	assert.Zero(t, s.Running+s.Waiting+s.Reserve)
}

func TestRunQueue_ShutdownIdlePoolTerminatesImmediately(t *testing.T) {
	q := newTestQueue(t, 2, newFixedSampler(StateRunning))
	q.Shutdown()
	assert.True(t, q.AwaitTermination(time.Second))
}

func TestRunQueue_AwaitTerminationTimesOut(t *testing.T) {
	q := newTestQueue(t, 1, newFixedSampler(StateRunning))

	gate := make(chan struct{})
	defer close(gate)
	q.Execute(func() { <-gate })
	q.Shutdown()

	assert.False(t, q.AwaitTermination(20*time.Millisecond))
	assert.False(t, q.IsTerminated())
}

func TestRunQueue_ShutdownNowReturnsPendingTasks(t *testing.T) {
	q := newTestQueue(t, 1, newFixedSampler(StateRunning))

	gate := make(chan struct{})
	started := make(chan struct{})
	q.Execute(func() {
		close(started)
		<-gate
	})
	<-started

	var queuedRan atomic.Int32
	for i := 0; i < 5; i++ {
		q.Execute(func() { queuedRan.Add(1) })
	}

	left := q.ShutdownNow()
	assert.Len(t, left, 5)
	assert.Error(t, q.Context().Err())

	close(gate)
	assert.True(t, q.AwaitTermination(time.Second))
	assert.Zero(t, queuedRan.Load())
}

func TestRunQueue_ShutdownNowNeverLosesHandedOffTask(t *testing.T) {
	for i := 0; i < 300; i++ {
		q := New(func(o *Options) {
			o.Config.Target = 2
			o.Config.ScanInterval = time.Hour
			o.Config.MaxScanInterval = time.Hour
			o.Sampler = newFixedSampler(StateRunning)
		})

		var ran atomic.Bool
		q.Execute(func() { ran.Store(true) })
		left := q.ShutdownNow()
		assert.True(t, q.AwaitTermination(time.Second))

		if len(left) == 1 {
			assert.False(t, ran.Load(), "task both ran and was returned")
			continue
		}
		assert.Empty(t, left)
		if !ran.Load() {
			t.Fatalf("iteration %d: task neither ran nor was returned", i)
		}
	}
}

func TestRunQueue_PanicAfterShutdownStillTerminates(t *testing.T) {
	q := newTestQueue(t, 1, newFixedSampler(StateRunning))

	gate := make(chan struct{})
	q.Execute(func() {
		<-gate
		panic("late failure")
	})
	q.Shutdown()
	close(gate)

	assert.True(t, q.AwaitTermination(time.Second))
	assert.Equal(t, uint64(1), q.Stats().Failed)
}

func TestRunQueue_DefaultSamplerFreesSlotsHeldByBlockedTasks(t *testing.T) {
	q := New(func(o *Options) {
		o.Config.Target = 1
		o.Config.ScanInterval = 5 * time.Millisecond
	})
	defer q.ShutdownNow()

	gate := make(chan struct{})
	defer close(gate)
	q.Execute(func() { <-gate })

	// the only running slot is held by a task blocked on a channel; the
	// scanner must notice and let this one through
	done := make(chan struct{})
	q.Execute(func() { close(done) })

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("blocked worker was never reclassified")
	}
	assert.GreaterOrEqual(t, q.Stats().Waiting, 1)
}

func TestRunQueue_ParallelSleepingTasksRespectCap(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}
	const (
		n      = 1000
		sleep  = 10 * time.Millisecond
		target = 4
	)
	q := newTestQueue(t, target, newFixedSampler(StateRunning))

	var wg sync.WaitGroup
	wg.Add(n)
	start := time.Now()
	for i := 0; i < n; i++ {
		q.Execute(func() {
			time.Sleep(sleep)
			wg.Done()
		})
	}
	wg.Wait()
	elapsed := time.Since(start)

	ideal := time.Duration(n/target) * sleep
	assert.GreaterOrEqual(t, elapsed, ideal*8/10, "cap was not respected")
	assert.Less(t, elapsed, time.Duration(n)*sleep/2, "tasks did not run in parallel")
}

func TestRunQueue_DefaultSamplerExpandsForSleepingTasks(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}
	const (
		n      = 200
		sleep  = 10 * time.Millisecond
		target = 4
	)
	q := New(func(o *Options) {
		o.Config.Target = target
		o.Config.ScanInterval = 5 * time.Millisecond
		o.Config.MinScanInterval = time.Millisecond
		o.Config.MaxScanInterval = 20 * time.Millisecond
	})
	t.Cleanup(func() { q.ShutdownNow() })

	var wg sync.WaitGroup
	wg.Add(n)
	start := time.Now()
	for i := 0; i < n; i++ {
		q.Execute(func() {
			time.Sleep(sleep)
			wg.Done()
		})
	}
	wg.Wait()
	elapsed := time.Since(start)

	// sleeping goroutines sample as waiting, so their slots are handed on
	assert.Less(t, elapsed, time.Duration(n)*sleep/2, "tasks did not run in parallel")
	assert.Greater(t, q.Stats().Spawned, uint64(target))
}

func TestConfig_NextInterval(t *testing.T) {
	c := DefaultConfig.normalized()

	assert.Equal(t, 200*time.Millisecond, c.nextInterval(100*time.Millisecond, false))
	assert.Equal(t, 500*time.Millisecond, c.nextInterval(400*time.Millisecond, false))
	assert.Equal(t, 50*time.Millisecond, c.nextInterval(100*time.Millisecond, true))
	assert.Equal(t, time.Millisecond, c.nextInterval(time.Millisecond, true))
}

func TestConfig_Normalized(t *testing.T) {
	c := Config{}.normalized()
	assert.GreaterOrEqual(t, c.Target, 4)
	assert.Equal(t, c.Target, c.ReserveSize)
	assert.Equal(t, 100*time.Millisecond, c.ScanInterval)

	c = Config{Target: 2, ScanInterval: time.Minute}.normalized()
	assert.Equal(t, 2, c.Target)
	assert.Equal(t, 500*time.Millisecond, c.ScanInterval)
}
