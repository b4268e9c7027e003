package timeline

import (
	"time"

	"github.com/hupe1980/eve/core"
)

// Entry is a single deferred trigger.
type Entry struct {
	TriggerID string
	Due       time.Time
	Callback  core.Task

	seq   uint64 // insertion order, breaks ties between equal due times
	index int    // position in the heap
}

// before orders entries by due time, then by insertion order. Two distinct
// entries never compare equal, so equal timestamps never merge.
func (e *Entry) before(o *Entry) bool {
	if !e.Due.Equal(o.Due) {
		return e.Due.Before(o.Due)
	}
	return e.seq < o.seq
}

// entryHeap is a min-heap of entries keyed by due time.
type entryHeap []*Entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].before(h[j]) }

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
