package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueue_FIFO(t *testing.T) {
	q := New[int]()
	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	assert.Equal(t, 5, q.Len())

	for i := 0; i < 5; i++ {
		v, ok := q.TryPop()
		assert.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := New[string]()
	got := make(chan string, 1)

	go func() {
		v, err := q.Pop(context.Background())
		assert.NoError(t, err)
		got <- v
	}()

	select {
	case <-got:
		t.Fatal("Pop returned before Push")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push("hello")
	select {
	case v := <-got:
		assert.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up")
	}
}

func TestQueue_PopHonoursContext(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_ManyConsumersSeeEveryItem(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const n = 200
	var (
		mu   sync.Mutex
		seen = map[int]int{}
		wg   sync.WaitGroup
	)
	wg.Add(n)
	for c := 0; c < 4; c++ {
		go func() {
			for {
				v, err := q.Pop(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[v]++
				mu.Unlock()
				wg.Done()
			}
		}()
	}
	for i := 0; i < n; i++ {
		q.Push(i)
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for _, c := range seen {
		assert.Equal(t, 1, c)
	}
}

func TestQueue_Drain(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Push(2)

	assert.Equal(t, []int{1, 2}, q.Drain())
	assert.Zero(t, q.Len())
	assert.Empty(t, q.Drain())
}
