package inbox

import "sync"

// latch coordinates the consumer loop with one in-flight continuation. The
// two flags are independent: isReply lets the loop move on without waiting,
// proceed records that the continuation finished. A reply still releases its
// latch when done, but nobody waits for it.
type latch struct {
	mu      sync.Mutex
	proceed bool
	isReply bool
	done    chan struct{}
}

func newLatch() *latch {
	return &latch{done: make(chan struct{})}
}

func (l *latch) markReply() {
	l.mu.Lock()
	l.isReply = true
	l.mu.Unlock()
}

func (l *latch) reply() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isReply
}

// release signals proceed. Calling it more than once is harmless.
func (l *latch) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.proceed {
		return
	}
	l.proceed = true
	close(l.done)
}

func (l *latch) released() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.proceed
}
