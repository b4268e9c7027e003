// Package core provides the foundational contracts shared by Eve's
// concurrency core. It defines the small abstractions the rest of the system
// submits work through:
//
//   - Task and Executor (opaque units of work and where they run)
//   - Scheduler (named, timestamped deferred callbacks)
//   - Message and Meta (inbound/outbound traffic plus its pipeline continuation)
//
// The package intentionally keeps implementation concerns (the adaptive run
// queue, the timeline, the inbox sequencer) out of scope, exposing small
// interfaces so transports, RPC dispatch and tests can plug in.
package core
