package strand

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// manualExecutor captures a scheduled drain without running it, letting
// tests enqueue several functions before observing FIFO order.
type manualExecutor struct {
	scheduled func()
}

func (e *manualExecutor) Schedule(fn func()) { e.scheduled = fn }

func TestExecuteQueuesInFIFOOrder(t *testing.T) {
	me := &manualExecutor{}
	s := New(me)
	var order []int
	s.Execute(func() { order = append(order, 1) })
	s.Execute(func() { order = append(order, 2) })
	s.Execute(func() { order = append(order, 3) })

	assert.Equal(t, 3, s.Len(), "nothing runs until the executor invokes the scheduled drain")
	assert.True(t, s.Running())

	me.scheduled()
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Running())
}

func TestExecuteAcrossManyChunks(t *testing.T) {
	me := &manualExecutor{}
	s := New(me)
	const n = chunkSize*3 + 17
	var count int
	for i := 0; i < n; i++ {
		s.Execute(func() { count++ })
	}
	assert.Equal(t, n, s.Len())
	me.scheduled()
	assert.Equal(t, n, count)
}

func TestReentrantExecuteRunsInlineWithoutRedispatch(t *testing.T) {
	s := New(ExecutorFunc(func(fn func()) { fn() }))
	var order []int
	s.Execute(func() {
		order = append(order, 1)
		s.Execute(func() { order = append(order, 2) })
		order = append(order, 3)
	})
	assert.Equal(t, []int{1, 2, 3}, order, "a function running on the strand sees its own Execute calls run inline")
}

func TestExecuteFromDifferentGoroutineDoesNotPassthrough(t *testing.T) {
	me := &manualExecutor{}
	s := New(me)
	done := make(chan struct{})
	var queued int
	s.Execute(func() {
		go func() {
			s.Execute(func() {})
			close(done)
		}()
		<-done
		queued = s.Len()
	})
	me.scheduled()
	// The outer function started a goroutine that calls Execute; since
	// that goroutine is not the one draining the strand, it must queue
	// rather than run inline.
	assert.Equal(t, 1, queued)
}

func TestConcurrentExecuteNeverOverlaps(t *testing.T) {
	s := New(ExecutorFunc(func(fn func()) { go fn() }))
	var inFlight, maxSeen atomic.Int32
	var wg sync.WaitGroup
	const n = 200
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			s.Execute(func() {
				cur := inFlight.Add(1)
				for {
					prev := maxSeen.Load()
					if cur <= prev || maxSeen.CompareAndSwap(prev, cur) {
						break
					}
				}
				time.Sleep(time.Microsecond)
				inFlight.Add(-1)
				wg.Done()
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen.Load(), "strand never runs two functions concurrently")
}
