// Package inbox serializes an agent's inbound message processing on top of a
// shared executor.
//
// One consumer loop per agent takes messages in arrival order, submits each
// continuation to the executor and waits until it has finished before taking
// the next. Responses to synchronous calls the agent made itself are the
// exception: the loop does not wait for them, because the caller is blocked on
// the same pool waiting for exactly that response.
package inbox

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hupe1980/eve/core"
	"github.com/hupe1980/eve/internal/queue"
	"github.com/hupe1980/eve/logging"
)

// Options configures a Sequencer.
type Options struct {
	// Logger defaults to logging.NoOpLogger.
	Logger logging.Logger

	// ProceedTimeout force-releases a latch whose continuation has not
	// finished in time. Zero waits indefinitely.
	ProceedTimeout time.Duration

	// Clock drives the proceed timeout. Defaults to the wall clock.
	Clock clock.Clock
}

// Stats is a snapshot of sequencer counters.
type Stats struct {
	Queued         int
	PendingReplies int
	Processed      uint64
	Bypassed       uint64
	ForcedReleases uint64
}

// Sequencer is the per-agent inbox.
type Sequencer struct {
	exec    core.Executor
	logger  logging.Logger
	clock   clock.Clock
	timeout time.Duration

	inbox  *queue.Queue[*core.Meta]
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	pending map[string]struct{}
	stopped bool

	processed atomic.Uint64
	bypassed  atomic.Uint64
	forced    atomic.Uint64
}

// New creates a Sequencer and submits its consumer loop to exec. The loop
// occupies one executor slot for the lifetime of the sequencer.
func New(exec core.Executor, optFns ...func(o *Options)) *Sequencer {
	opts := Options{
		Logger: logging.NoOpLogger{},
		Clock:  clock.New(),
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

	ctx, cancel := context.WithCancel(context.Background())
	s := &Sequencer{
		exec:    exec,
		logger:  opts.Logger,
		clock:   opts.Clock,
		timeout: opts.ProceedTimeout,
		inbox:   queue.New[*core.Meta](),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		pending: make(map[string]struct{}),
	}
	exec.Execute(s.loop)
	return s
}

// Inbound queues meta for processing by the consumer loop and returns
// immediately. It reports false once the sequencer has been deleted.
func (s *Sequencer) Inbound(meta *core.Meta) bool {
	if meta == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.inbox.Push(meta)
	return true
}

// Outbound records synchronous requests as awaiting a reply and forwards
// meta to the next stage.
func (s *Sequencer) Outbound(meta *core.Meta) bool {
	if meta == nil {
		return false
	}
	msg := meta.Message
	if msg.IsRequest() && msg.Sync && msg.ID != "" {
		s.mu.Lock()
		if !s.stopped {
			s.pending[msg.ID] = struct{}{}
		}
		s.mu.Unlock()
	}
	return meta.Proceed()
}

// Delete stops the consumer loop and discards queued messages. Continuations
// already handed to the executor keep running.
func (s *Sequencer) Delete() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.pending = make(map[string]struct{})
	dropped := len(s.inbox.Drain())
	s.mu.Unlock()

	s.cancel()
	if dropped > 0 {
		s.logger.Debug("inbox deleted", "dropped", dropped)
	}
}

// Done is closed when the consumer loop has exited.
func (s *Sequencer) Done() <-chan struct{} { return s.done }

// Stats returns a snapshot of the sequencer counters.
func (s *Sequencer) Stats() Stats {
	s.mu.Lock()
	pending := len(s.pending)
	s.mu.Unlock()
	return Stats{
		Queued:         s.inbox.Len(),
		PendingReplies: pending,
		Processed:      s.processed.Load(),
		Bypassed:       s.bypassed.Load(),
		ForcedReleases: s.forced.Load(),
	}
}

func (s *Sequencer) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// claimReply removes and reports a pending synchronous call answered by msg.
func (s *Sequencer) claimReply(msg core.Message) bool {
	if !msg.IsResponse() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[msg.ID]; !ok {
		return false
	}
	delete(s.pending, msg.ID)
	return true
}

func (s *Sequencer) loop() {
	defer close(s.done)
	for {
		meta, err := s.inbox.Pop(s.ctx)
		if err != nil || s.isStopped() {
			return
		}

		l := newLatch()
		if s.claimReply(meta.Message) {
			l.markReply()
		}

		s.exec.Execute(func() {
			defer l.release()
			meta.Proceed()
		})
		s.processed.Add(1)

		s.await(l, meta.Message)
	}
}

// await blocks until the continuation releases l, unless l is a reply.
func (s *Sequencer) await(l *latch, msg core.Message) {
	if l.reply() {
		s.bypassed.Add(1)
		s.logger.Debug("reply bypasses inbox latch", "id", msg.ID)
		return
	}

	var expired <-chan time.Time
	if s.timeout > 0 {
		t := s.clock.Timer(s.timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case <-l.done:
	case <-expired:
		if !l.released() {
			s.forced.Add(1)
			s.logger.Warn("inbox latch force-released", "id", msg.ID, "method", msg.Method, "timeout", s.timeout)
		}
	case <-s.ctx.Done():
	}
}
