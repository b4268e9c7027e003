package testutil

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/eve/core"
)

// Recorder collects labels from concurrent goroutines in arrival order.
type Recorder struct {
	mu     sync.Mutex
	labels []string
}

// Add appends a label.
func (r *Recorder) Add(label string) {
	r.mu.Lock()
	r.labels = append(r.labels, label)
	r.mu.Unlock()
}

// Labels returns a copy of the recorded labels.
func (r *Recorder) Labels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.labels)
}

// Len returns the number of recorded labels.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.labels)
}

// CountingExecutor wraps an executor and counts submitted tasks. A nil inner
// executor runs tasks inline on the submitting goroutine.
type CountingExecutor struct {
	Inner     core.Executor
	submitted atomic.Int64
}

// Execute implements core.Executor.
func (e *CountingExecutor) Execute(task core.Task) {
	e.submitted.Add(1)
	if e.Inner == nil {
		task()
		return
	}
	e.Inner.Execute(task)
}

// Submitted returns the number of tasks submitted so far.
func (e *CountingExecutor) Submitted() int64 { return e.submitted.Load() }
