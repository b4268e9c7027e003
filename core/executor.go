package core

import "time"

// Task is an opaque zero-argument unit of work.
type Task func()

// Executor accepts tasks for asynchronous execution.
//
// Execute must never block the caller. Implementations may drop tasks after
// they have been shut down; they report that through logs, not errors.
type Executor interface {
	Execute(task Task)
}

// ExecutorFunc adapts an ordinary function to the Executor interface.
type ExecutorFunc func(task Task)

// Execute calls f(task).
func (f ExecutorFunc) Execute(task Task) { f(task) }

// GoExecutor runs every task on a fresh goroutine. It has no bookkeeping and
// is meant for tests and tiny tools.
var GoExecutor Executor = ExecutorFunc(func(task Task) { go task() })

// Scheduler registers named deferred callbacks.
//
// At most one trigger is live per id: requesting an existing id with an
// earlier due time replaces it, a later or equal due time is ignored.
type Scheduler interface {
	RequestTrigger(triggerID string, due time.Time, callback Task)
	Cancel(triggerID string)
	Clear()
	Now() time.Time
}
