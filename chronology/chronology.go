package chronology

import (
	"container/heap"
	"time"
)

// timerHeap is a min-heap of *Timer ordered by deadline, with insertion
// sequence breaking ties so that timers scheduled earlier within the same
// deadline fire first.
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Chronology is a worker-owned min-heap of scheduled timers plus a FIFO of
// deferred zero-argument functions. It is driven from a single goroutine
// (the worker's strand) and is not itself safe for concurrent access; the
// spec attributes its mutex to the strand boundary, which in this
// implementation is simply "call only from the owning worker goroutine".
type Chronology struct {
	pq         timerHeap
	deferred   []func()
	seqNext    uint64
	registered map[*Timer]struct{}
}

// New constructs an empty Chronology.
func New() *Chronology {
	return &Chronology{registered: make(map[*Timer]struct{})}
}

func (c *Chronology) nextSeq() uint64 {
	c.seqNext++
	return c.seqNext
}

// CreateTimer allocates a new Deferred-state timer bound to this
// Chronology, with sink as its event callback.
func (c *Chronology) CreateTimer(opts Options, sink Sink) *Timer {
	t := &Timer{opts: opts, sink: sink, state: Deferred, owner: c, index: -1}
	c.registered[t] = struct{}{}
	return t
}

// Defer appends fn to the FIFO of deferred functions, run on the next
// Announce call regardless of any timer deadlines.
func (c *Chronology) Defer(fn func()) {
	c.deferred = append(c.deferred, fn)
}

// Announce fires every scheduled timer whose deadline is <= now, in
// non-decreasing deadline order (insertion order breaking ties), then runs
// every currently-deferred function. If single is true, only one pass is
// made: timers newly scheduled by a callback during this Announce (with a
// deadline already <= now) do not fire until the next Announce call. If
// single is false, newly-scheduled-and-already-due timers are drained in
// the same call, looping until the heap holds nothing due.
func (c *Chronology) Announce(now time.Time, single bool) {
	// Timers (re)scheduled during this call get a seq above limit.
	limit := c.seqNext
	for {
		fired := false
		for c.pq.Len() > 0 && !c.pq[0].deadline.After(now) {
			if single && c.pq[0].seq > limit {
				break
			}
			t := heap.Pop(&c.pq).(*Timer)
			t.arrive(now)
			fired = true
		}
		deferred := c.deferred
		c.deferred = nil
		for _, fn := range deferred {
			fn()
		}
		if len(deferred) > 0 {
			fired = true
		}
		if single || !fired {
			return
		}
	}
}

// TimeoutInterval returns the duration until the earliest scheduled
// timer's deadline, or ok=false if nothing is scheduled. Callers pass this
// to the demultiplexer's wait(deadline) as the poll timeout.
func (c *Chronology) TimeoutInterval(now time.Time) (d time.Duration, ok bool) {
	if c.pq.Len() == 0 {
		return 0, false
	}
	next := c.pq[0].deadline
	if !next.After(now) {
		return 0, true
	}
	return next.Sub(now), true
}

// TimeoutInMilliseconds is TimeoutInterval rounded up to whole
// milliseconds, matching poll APIs that take an integer millisecond
// timeout.
func (c *Chronology) TimeoutInMilliseconds(now time.Time) (ms int, ok bool) {
	d, ok := c.TimeoutInterval(now)
	if !ok {
		return 0, false
	}
	ms = int(d / time.Millisecond)
	if d%time.Millisecond != 0 {
		ms++
	}
	return ms, true
}

// NumRegistered is the count of timers created on this Chronology that
// have not yet been Closed.
func (c *Chronology) NumRegistered() int { return len(c.registered) }

// NumScheduled is the count of timers currently keyed into the heap.
func (c *Chronology) NumScheduled() int { return c.pq.Len() }

// NumDeferred is the count of zero-argument functions awaiting the next
// Announce.
func (c *Chronology) NumDeferred() int { return len(c.deferred) }

// HasAnyScheduledOrDeferred reports whether Announce would do any work if
// called right now (ignoring deadlines still in the future).
func (c *Chronology) HasAnyScheduledOrDeferred() bool {
	return c.pq.Len() > 0 || len(c.deferred) > 0
}

// CloseAll transitions every registered timer to Closed, delivering a
// ClosedEvent to each; used during worker shutdown.
func (c *Chronology) CloseAll(now time.Time) {
	for t := range c.registered {
		t.Close(now)
		delete(c.registered, t)
	}
}
