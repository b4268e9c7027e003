// Package logging provides a minimal logging interface and adapters for Eve.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the run queue, the timeline and the inbox sequencer use for observability.
// This package includes:
//
//   - Logger interface for dependency injection
//   - EveLogger with component/agent scoping and stack-carrying error entries
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	host := eve.New(func(o *eve.Options) { o.Logger = logger })
package logging
