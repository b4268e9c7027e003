// Package eve provides a small agent host over the concurrency core: one
// shared run queue, one scheduling clock and a single-threaded inbox per
// agent. Most applications interact with this package by:
//  1. Creating a Host via New() (optionally overriding pool sizing and logger)
//  2. Creating agents with Host.NewAgent
//  3. Feeding traffic through Agent.Receive / Agent.Send and deferring work
//     with Agent.Schedule
//
// The host owns its services explicitly; there is no package level state, so
// tests can build as many independent hosts as they need.
package eve

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/hupe1980/eve/core"
	"github.com/hupe1980/eve/inbox"
	"github.com/hupe1980/eve/logging"
	"github.com/hupe1980/eve/metrics"
	"github.com/hupe1980/eve/runqueue"
	"github.com/hupe1980/eve/timeline"
)

var (
	// ErrAgentExists is returned when an agent id is already registered.
	ErrAgentExists = errors.New("agent already exists")
	// ErrHostShutdown is returned for operations on a host that has been shut down.
	ErrHostShutdown = errors.New("host is shut down")
)

// Options configures the Host instance.
type Options struct {
	// RunQueueConfig sizes the shared worker pool.
	RunQueueConfig runqueue.Config

	// ProceedTimeout force-releases an agent's inbox latch when a
	// continuation takes longer. Zero waits indefinitely.
	ProceedTimeout time.Duration

	// Clock is the time source of the timeline and the inboxes.
	Clock clock.Clock

	// Sampler overrides the run queue's goroutine state sampler.
	Sampler runqueue.StateSampler

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Host is the façade aggregating the shared services and the live agents.
type Host struct {
	opts   Options
	queue  *runqueue.RunQueue
	clock  *timeline.Clock
	logger logging.Logger

	mu       sync.RWMutex
	agents   map[string]*Agent
	shutdown bool
}

// New creates a Host with optional overrides.
func New(optFns ...func(o *Options)) *Host {
	opts := Options{
		RunQueueConfig: runqueue.DefaultConfig,
		Clock:          clock.New(),
		Logger:         logging.NoOpLogger{},
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

	q := runqueue.New(func(o *runqueue.Options) {
		o.Config = opts.RunQueueConfig
		o.Logger = opts.Logger
		o.Sampler = opts.Sampler
	})
	c := timeline.New(q, func(o *timeline.Options) {
		o.Clock = opts.Clock
		o.Logger = opts.Logger
	})

	return &Host{
		opts:   opts,
		queue:  q,
		clock:  c,
		logger: opts.Logger,
		agents: make(map[string]*Agent),
	}
}

// RunQueue returns the shared executor.
func (h *Host) RunQueue() *runqueue.RunQueue { return h.queue }

// Clock returns the shared scheduling clock.
func (h *Host) Clock() *timeline.Clock { return h.clock }

// NewAgent registers an agent and starts its inbox.
func (h *Host) NewAgent(id string) (*Agent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shutdown {
		return nil, ErrHostShutdown
	}
	if _, ok := h.agents[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentExists, id)
	}

	logger := h.logger
	if el, ok := logger.(*logging.EveLogger); ok {
		logger = el.WithAgent(id)
	}
	a := &Agent{
		id:     id,
		host:   h,
		logger: logger,
		seq: inbox.New(h.queue, func(o *inbox.Options) {
			o.Logger = logger
			o.ProceedTimeout = h.opts.ProceedTimeout
			o.Clock = h.opts.Clock
		}),
		triggers: make(map[string]struct{}),
	}
	h.agents[id] = a
	return a, nil
}

// Agent looks up a live agent by id.
func (h *Host) Agent(id string) (*Agent, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	a, ok := h.agents[id]
	return a, ok
}

// InboxStats returns the inbox counters of every live agent.
func (h *Host) InboxStats() map[string]inbox.Stats {
	h.mu.RLock()
	agents := maps.Clone(h.agents)
	h.mu.RUnlock()

	out := make(map[string]inbox.Stats, len(agents))
	for id, a := range agents {
		out[id] = a.seq.Stats()
	}
	return out
}

// Collector returns a Prometheus collector over the host's services.
func (h *Host) Collector() *metrics.Collector {
	return metrics.NewCollector(h.queue, func(o *metrics.Options) {
		o.Timeline = h.clock
		o.Inboxes = h.InboxStats
	})
}

// Shutdown deletes every agent, clears the clock and drains the run queue.
// It reports whether the pool terminated within timeout.
func (h *Host) Shutdown(timeout time.Duration) bool {
	h.mu.Lock()
	h.shutdown = true
	agents := make([]*Agent, 0, len(h.agents))
	for _, a := range h.agents {
		agents = append(agents, a)
	}
	h.mu.Unlock()

	for _, a := range agents {
		a.Delete()
	}
	h.clock.Clear()
	h.queue.Shutdown()

	ok := h.queue.AwaitTermination(timeout)
	if !ok {
		h.logger.Warn("host shutdown timed out", "timeout", timeout, "stats", h.queue.Stats())
	}
	return ok
}

func (h *Host) remove(id string) {
	h.mu.Lock()
	delete(h.agents, id)
	h.mu.Unlock()
}

// Agent is one addressable entity with its own inbox and schedule.
type Agent struct {
	id     string
	host   *Host
	seq    *inbox.Sequencer
	logger logging.Logger

	mu       sync.Mutex
	triggers map[string]struct{}
	deleted  bool
}

// ID returns the agent id.
func (a *Agent) ID() string { return a.id }

// Schedule runs fn on the shared run queue after delay and returns the
// trigger id.
func (a *Agent) Schedule(delay time.Duration, fn func()) string {
	return a.ScheduleAt(a.host.clock.Now().Add(delay), fn)
}

// ScheduleAt runs fn on the shared run queue at due and returns the trigger
// id. An empty id means the agent has been deleted.
func (a *Agent) ScheduleAt(due time.Time, fn func()) string {
	id := uuid.NewString()

	a.mu.Lock()
	if a.deleted {
		a.mu.Unlock()
		return ""
	}
	a.triggers[id] = struct{}{}
	a.mu.Unlock()

	a.host.clock.RequestTrigger(a.triggerKey(id), due, func() {
		a.mu.Lock()
		delete(a.triggers, id)
		a.mu.Unlock()
		fn()
	})
	return id
}

// CancelSchedule cancels a trigger returned by Schedule.
func (a *Agent) CancelSchedule(id string) {
	a.mu.Lock()
	delete(a.triggers, id)
	a.mu.Unlock()
	a.host.clock.Cancel(a.triggerKey(id))
}

// Receive hands an inbound message to the agent's inbox; next runs once the
// inbox admits the message.
func (a *Agent) Receive(msg core.Message, next func() bool) bool {
	return a.seq.Inbound(core.NewMeta(msg, core.Inbound, next))
}

// Send forwards an outbound message through the agent's inbox protocol.
// Requests without an id get a fresh one. It returns the correlation id and
// the result of next.
func (a *Agent) Send(msg core.Message, next func(msg core.Message) bool) (string, bool) {
	if msg.IsRequest() && msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	var forward func() bool
	if next != nil {
		forward = func() bool { return next(msg) }
	}
	return msg.ID, a.seq.Outbound(core.NewMeta(msg, core.Outbound, forward))
}

// InboxStats returns the agent's inbox counters.
func (a *Agent) InboxStats() inbox.Stats { return a.seq.Stats() }

// Delete stops the agent's inbox, cancels its schedule and unregisters it.
func (a *Agent) Delete() {
	a.mu.Lock()
	if a.deleted {
		a.mu.Unlock()
		return
	}
	a.deleted = true
	ids := make([]string, 0, len(a.triggers))
	for id := range a.triggers {
		ids = append(ids, id)
	}
	a.triggers = make(map[string]struct{})
	a.mu.Unlock()

	for _, id := range ids {
		a.host.clock.Cancel(a.triggerKey(id))
	}
	a.seq.Delete()
	a.host.remove(a.id)
	a.logger.Debug("agent deleted", "canceled_triggers", len(ids))
}

func (a *Agent) triggerKey(id string) string { return a.id + "/" + id }
