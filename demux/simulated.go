package demux

import (
	"sync"
	"time"

	"github.com/joeycumines/go-asynctransport/errs"
)

// Simulated is an in-memory Demultiplexer with no OS poller behind it:
// readiness is injected by the test (or harness) through Signal, and
// Drive delivers the queued events through the exact same registry
// discipline as Readiness — reference acquisition before dispatch,
// interest filtering, error folding, one-shot re-arming via the entry's
// Rearmer. It exists so the layers above the syscall boundary can be
// exercised deterministically, without sockets, timing, or a kernel.
type Simulated struct {
	mu       sync.Mutex
	byHandle map[int]*RegistryEntry
	pending  []simulatedEvent
	wake     chan struct{}
	closed   bool
}

type simulatedEvent struct {
	handle             int
	readable, writable bool
	err                error
}

// NewSimulated constructs an empty simulated demultiplexer.
func NewSimulated() *Simulated {
	return &Simulated{
		byHandle: make(map[int]*RegistryEntry),
		wake:     make(chan struct{}, 1),
	}
}

var _ Demultiplexer = (*Simulated)(nil)

func (s *Simulated) AttachEvents(handle int, interest Interest, mode TriggerMode, oneShot bool, events EventSet) (*RegistryEntry, error) {
	entry := newEntry(handle, interest, mode, oneShot)
	entry.Events = events
	return entry, s.register(entry)
}

func (s *Simulated) Attach(handle int, interest Interest, mode TriggerMode, oneShot bool, sock Socket) (*RegistryEntry, error) {
	entry := newEntry(handle, interest, mode, oneShot)
	entry.Sock = sock
	return entry, s.register(entry)
}

func (s *Simulated) register(entry *RegistryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.New(errs.CategoryGeneric, errs.Invalid, "demux.simulated.attach")
	}
	if _, ok := s.byHandle[entry.Handle]; ok {
		return errs.New(errs.CategoryGeneric, errs.AddressInUse, "demux.simulated.attach")
	}
	s.byHandle[entry.Handle] = entry
	return nil
}

func (s *Simulated) Arm(entry *RegistryEntry, interest Interest) error {
	s.mu.Lock()
	entry.Interest = interest
	s.mu.Unlock()
	return nil
}

func (s *Simulated) Detach(entry *RegistryEntry, onComplete func()) {
	s.mu.Lock()
	delete(s.byHandle, entry.Handle)
	s.mu.Unlock()
	entry.Detach.Detach(onComplete)
}

// Signal queues a readiness event for handle, to be delivered by the next
// Drive call. Events for handles that are not (or no longer) attached are
// dropped at delivery time, the same way a detaching socket's events are.
func (s *Simulated) Signal(handle int, readable, writable bool, err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, simulatedEvent{handle: handle, readable: readable, writable: writable, err: err})
	s.mu.Unlock()
	s.notify()
}

func (s *Simulated) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Drive delivers every queued event, blocking up to deadline for one to
// arrive when the queue is empty. A negative deadline blocks until
// signalled; a bare Wakeup returns with nothing delivered, the same way
// an interrupted poll does.
func (s *Simulated) Drive(deadline time.Duration) error {
	var timeout <-chan time.Time
	if deadline >= 0 {
		t := time.NewTimer(deadline)
		defer t.Stop()
		timeout = t.C
	}
	s.mu.Lock()
	if len(s.pending) == 0 && !s.closed {
		s.mu.Unlock()
		select {
		case <-s.wake:
		case <-timeout:
			return nil
		}
		s.mu.Lock()
	}
	if s.closed {
		s.mu.Unlock()
		return errs.New(errs.CategoryGeneric, errs.Invalid, "demux.simulated.drive")
	}
	events := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, ev := range events {
		s.dispatch(ev)
	}
	return nil
}

// dispatch mirrors Readiness.callbackFor: reference before delivery,
// interest filtering, error folding, one-shot re-arm.
func (s *Simulated) dispatch(ev simulatedEvent) {
	s.mu.Lock()
	entry := s.byHandle[ev.handle]
	s.mu.Unlock()
	if entry == nil {
		return
	}
	if !entry.Detach.Reference() {
		return
	}
	defer entry.Detach.Release()

	readable := ev.readable && entry.Interest.Has(WantReadable)
	writable := ev.writable && entry.Interest.Has(WantWritable)
	foldedErr := ev.err

	if entry.Sock != nil {
		if foldedErr != nil && !entry.Interest.Has(WantError) {
			if entry.Interest.Has(WantReadable) {
				readable = true
			} else if entry.Interest.Has(WantWritable) {
				writable = true
			}
		}
		entry.Sock.OnEvent(readable, writable, foldedErr)
	} else {
		if foldedErr != nil {
			if entry.Events.OnError != nil {
				entry.Events.OnError(foldedErr)
			} else if entry.Events.OnReadable != nil {
				entry.Events.OnReadable()
			} else if entry.Events.OnWritable != nil {
				entry.Events.OnWritable()
			}
		}
		if readable && entry.Events.OnReadable != nil {
			entry.Events.OnReadable()
		}
		if writable && entry.Events.OnWritable != nil {
			entry.Events.OnWritable()
		}
		if !ev.readable && !ev.writable && ev.err == nil && entry.Events.OnNotification != nil {
			entry.Events.OnNotification()
		}
	}

	if entry.OneShot {
		s.mu.Lock()
		interest := entry.Interest
		if entry.Rearm != nil {
			interest = rearmedInterest(entry.Rearm, interest)
		}
		entry.Interest = interest
		s.mu.Unlock()
	}
}

// Wakeup interrupts a Drive call blocked waiting for events.
func (s *Simulated) Wakeup() error {
	s.notify()
	return nil
}

func (s *Simulated) Close() error {
	s.mu.Lock()
	s.closed = true
	s.pending = nil
	s.mu.Unlock()
	s.notify()
	return nil
}
