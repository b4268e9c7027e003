package runqueue

import (
	"bytes"
	"runtime"
	"strconv"
	"strings"
)

// ThreadState is the coarse execution state of a worker.
type ThreadState int

const (
	// StateIdle means the worker holds no task.
	StateIdle ThreadState = iota
	// StateRunning means the worker is executing or ready to execute.
	StateRunning
	// StateWaiting means the worker is blocked (channel, lock, sleep, I/O).
	StateWaiting
	// StateTerminated means the worker's goroutine is gone.
	StateTerminated
)

// String returns the string representation of the state.
func (s ThreadState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateWaiting:
		return "waiting"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// StateSampler reports the live state of a set of goroutines. Goroutines
// missing from the result are treated as terminated.
//
// Samples are inherently racy: a goroutine can change state between the
// sample and the action taken on it. The pool treats them as hints.
type StateSampler interface {
	Sample(goroutineIDs []int64) map[int64]ThreadState
}

// StateSamplerFunc adapts a function to the StateSampler interface.
type StateSamplerFunc func(goroutineIDs []int64) map[int64]ThreadState

// Sample calls f(goroutineIDs).
func (f StateSamplerFunc) Sample(goroutineIDs []int64) map[int64]ThreadState {
	return f(goroutineIDs)
}

// StackSampler reads goroutine states from the headers printed by
// runtime.Stack(buf, true). It stops the world briefly, so it is only meant
// for the pool scan cadence.
type StackSampler struct{}

// Sample implements StateSampler.
func (StackSampler) Sample(goroutineIDs []int64) map[int64]ThreadState {
	want := make(map[int64]struct{}, len(goroutineIDs))
	for _, id := range goroutineIDs {
		want[id] = struct{}{}
	}
	return parseGoroutineStates(allStacks(), want)
}

func allStacks() []byte {
	buf := make([]byte, 64<<10)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return buf[:n]
		}
		buf = make([]byte, 2*len(buf))
	}
}

// parseGoroutineStates extracts "goroutine <id> [<status>, ...]:" headers.
func parseGoroutineStates(dump []byte, want map[int64]struct{}) map[int64]ThreadState {
	out := make(map[int64]ThreadState, len(want))
	for _, line := range bytes.Split(dump, []byte("\n")) {
		if !bytes.HasPrefix(line, []byte("goroutine ")) {
			continue
		}
		rest := line[len("goroutine "):]
		end := bytes.IndexByte(rest, ' ')
		if end < 0 {
			continue
		}
		id, err := strconv.ParseInt(string(rest[:end]), 10, 64)
		if err != nil {
			continue
		}
		if _, ok := want[id]; !ok {
			continue
		}
		open := bytes.IndexByte(rest, '[')
		closing := bytes.LastIndexByte(rest, ']')
		if open < 0 || closing < open {
			continue
		}
		out[id] = classifyStatus(string(rest[open+1 : closing]))
	}
	return out
}

func classifyStatus(status string) ThreadState {
	if i := strings.IndexByte(status, ','); i >= 0 {
		status = status[:i]
	}
	switch strings.TrimSpace(status) {
	case "running", "runnable", "syscall":
		return StateRunning
	default:
		return StateWaiting
	}
}

// goroutineID returns the id of the calling goroutine.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseInt(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
