// Package strand implements the sequential per-socket dispatcher: a queue
// of functions with a running flag, guaranteeing non-concurrent, FIFO
// execution, plus a reentrancy optimization that elides redispatch when a
// function already running on a strand enqueues more work onto itself.
package strand

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Executor schedules a drain to run; workers typically implement this by
// handing the function to their goroutine's run queue or by launching a
// goroutine directly.
type Executor interface {
	Schedule(fn func())
}

// ExecutorFunc adapts a plain function to Executor.
type ExecutorFunc func(fn func())

func (f ExecutorFunc) Schedule(fn func()) { f(fn) }

const chunkSize = 128

// chunk is a fixed-size node in the strand's chunked FIFO, avoiding a
// reallocation per enqueue under sustained load.
type chunk struct {
	tasks   [chunkSize]func()
	next    *chunk
	readPos int
	pos     int
}

var chunkPool = sync.Pool{New: func() any { return &chunk{} }}

func newChunk() *chunk {
	c := chunkPool.Get().(*chunk)
	c.pos, c.readPos, c.next = 0, 0, nil
	return c
}

func returnChunk(c *chunk) {
	for i := 0; i < c.pos; i++ {
		c.tasks[i] = nil
	}
	c.pos, c.readPos, c.next = 0, 0, nil
	chunkPool.Put(c)
}

// Strand is a sequential executor: functions Execute'd on it run in FIFO
// order, never concurrently with each other, regardless of which
// goroutine calls Execute.
type Strand struct {
	mu         sync.Mutex
	head, tail *chunk
	length     int
	running    atomic.Bool
	runnerGID  atomic.Uint64
	executor   Executor
}

// New constructs a Strand that schedules its drain loop onto executor.
func New(executor Executor) *Strand {
	return &Strand{executor: executor}
}

// Execute appends fn to the strand's queue. If the calling goroutine is
// already draining this strand (a reentrant call from a function running
// on the strand), fn runs inline with no redispatch, per the passthrough
// invariant. Otherwise fn is queued, and if the strand is not already
// running, a drain is scheduled on the owning Executor.
func (s *Strand) Execute(fn func()) {
	if s.running.Load() && s.runnerGID.Load() == goroutineID() {
		fn()
		return
	}
	s.push(fn)
	if s.running.CompareAndSwap(false, true) {
		s.executor.Schedule(s.drain)
	}
}

func (s *Strand) push(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tail == nil {
		s.tail = newChunk()
		s.head = s.tail
	}
	if s.tail.pos == len(s.tail.tasks) {
		nc := newChunk()
		s.tail.next = nc
		s.tail = nc
	}
	s.tail.tasks[s.tail.pos] = fn
	s.tail.pos++
	s.length++
}

func (s *Strand) pop() (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.head == nil {
		return nil, false
	}
	if s.head.readPos >= s.head.pos {
		if s.head == s.tail {
			return nil, false
		}
		old := s.head
		s.head = s.head.next
		returnChunk(old)
	}
	if s.head.readPos >= s.head.pos {
		return nil, false
	}
	fn := s.head.tasks[s.head.readPos]
	s.head.tasks[s.head.readPos] = nil
	s.head.readPos++
	s.length--
	return fn, true
}

// drain pops and invokes functions in FIFO order until the queue empties,
// then clears the running flag. Because Execute re-checks running with a
// CAS after enqueueing, a function enqueued concurrently with drain's exit
// is guaranteed either to be observed by this drain pass or to trigger a
// fresh Schedule.
func (s *Strand) drain() {
	s.runnerGID.Store(goroutineID())
	defer s.runnerGID.Store(0)
	for {
		fn, ok := s.pop()
		if !ok {
			s.running.Store(false)
			// Something may have been pushed between the failed pop and
			// clearing running; reclaim the running flag to continue
			// draining it ourselves, otherwise the pushing Execute call
			// already scheduled (or will schedule) a fresh drain.
			if s.Len() == 0 {
				return
			}
			if !s.running.CompareAndSwap(false, true) {
				return
			}
			continue
		}
		fn()
	}
}

// Running reports whether the strand is currently draining.
func (s *Strand) Running() bool { return s.running.Load() }

// Len reports the number of functions currently queued (not counting one
// that may be executing inline via passthrough).
func (s *Strand) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.length
}

// goroutineID extracts the calling goroutine's numeric id from its stack
// trace header; used only to detect reentrant Execute calls onto a strand
// already draining on the current goroutine.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
