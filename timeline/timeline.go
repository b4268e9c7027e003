// Package timeline implements Eve's scheduling clock: an ordered set of named
// triggers and a single self re-arming driver that hands due callbacks to an
// executor.
//
// The driver never runs on a dedicated goroutine and never runs callbacks
// inline. Each pass fires everything that is due, arms exactly one timer for
// the next entry and exits, so a slow callback cannot starve the timeline.
package timeline

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hupe1980/eve/core"
	"github.com/hupe1980/eve/logging"
)

// Options configures a Clock.
type Options struct {
	// Clock is the time source. Defaults to the wall clock; tests use clock.NewMock().
	Clock clock.Clock

	// Logger defaults to logging.NoOpLogger.
	Logger logging.Logger
}

// Clock keeps at most one live entry per trigger id, ordered by due time.
// All mutation happens under one mutex.
type Clock struct {
	exec   core.Executor
	clock  clock.Clock
	logger logging.Logger

	mu       sync.Mutex
	entries  map[string]*Entry
	timeline entryHeap
	timer    *clock.Timer
	seq      uint64

	fired atomic.Uint64
}

var _ core.Scheduler = (*Clock)(nil)

// New creates a Clock whose driver and callbacks run on exec.
func New(exec core.Executor, optFns ...func(o *Options)) *Clock {
	opts := Options{
		Clock:  clock.New(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Clock{
		exec:    exec,
		clock:   opts.Clock,
		logger:  opts.Logger,
		entries: make(map[string]*Entry),
	}
}

// RequestTrigger registers callback to run at due under triggerID. If the id
// is already registered, an earlier due replaces the entry and a later or
// equal one is ignored.
func (c *Clock) RequestTrigger(triggerID string, due time.Time, callback core.Task) {
	if callback == nil {
		return
	}
	c.mu.Lock()
	if old, ok := c.entries[triggerID]; ok {
		if !due.Before(old.Due) {
			c.mu.Unlock()
			return
		}
		heap.Remove(&c.timeline, old.index)
	}
	c.seq++
	e := &Entry{TriggerID: triggerID, Due: due, Callback: callback, seq: c.seq}
	heap.Push(&c.timeline, e)
	c.entries[triggerID] = e
	c.mu.Unlock()

	c.exec.Execute(c.drive)
}

// Cancel removes the trigger if it has not fired yet. A trigger that is
// firing concurrently may still run.
func (c *Clock) Cancel(triggerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[triggerID]; ok {
		heap.Remove(&c.timeline, e.index)
		delete(c.entries, triggerID)
	}
}

// Clear removes every trigger and disarms the timer.
func (c *Clock) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
	c.timeline = nil
	c.disarmLocked()
}

// Now returns the current time of the underlying time source.
func (c *Clock) Now() time.Time { return c.clock.Now() }

// NowMillis returns the current time in Unix milliseconds.
func (c *Clock) NowMillis() int64 { return c.clock.Now().UnixMilli() }

// Len returns the number of live triggers.
func (c *Clock) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timeline)
}

// Due returns the due time of a live trigger.
func (c *Clock) Due(triggerID string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[triggerID]; ok {
		return e.Due, true
	}
	return time.Time{}, false
}

// Fired returns the number of callbacks handed to the executor so far.
func (c *Clock) Fired() uint64 { return c.fired.Load() }

func (c *Clock) disarmLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// drive fires every due entry and re-arms for the next one.
func (c *Clock) drive() {
	c.mu.Lock()
	c.disarmLocked()

	now := c.clock.Now()
	var due []*Entry
	for len(c.timeline) > 0 {
		next := c.timeline[0]
		if next.Due.After(now) {
			c.timer = c.clock.AfterFunc(next.Due.Sub(now), c.kick)
			break
		}
		heap.Pop(&c.timeline)
		delete(c.entries, next.TriggerID)
		due = append(due, next)
	}
	c.mu.Unlock()

	for _, e := range due {
		c.fired.Add(1)
		c.logger.Debug("trigger fired", "trigger_id", e.TriggerID, "late_by", now.Sub(e.Due))
		c.exec.Execute(e.Callback)
	}
}

func (c *Clock) kick() { c.exec.Execute(c.drive) }
