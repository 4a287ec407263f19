package demux

import (
	"sync"
	"time"

	"github.com/joeycumines/go-asynctransport/errs"
	"github.com/joeycumines/go-asynctransport/reactor"
)

// Demultiplexer is the backend-agnostic capability both the reactor
// (readiness) and proactor (completion) implementations expose, per §4.5
// and §9 ("the rest of the core is parametric over an abstract
// Demultiplexer capability"):
//
//	Attach registers a handle with an interest set and either an EventSet
//	or a Socket hook, returning the owning RegistryEntry.
//	Detach begins (or completes) teardown of a previously attached entry.
//	Arm updates an entry's interest mask in place (used for watermark-driven
//	flow control and one-shot re-arming).
//	Drive runs one iteration of the underlying wait/poll call, blocking up
//	to deadline, and dispatches any ready callbacks.
type Demultiplexer interface {
	Attach(handle int, interest Interest, mode TriggerMode, oneShot bool, sock Socket) (*RegistryEntry, error)
	AttachEvents(handle int, interest Interest, mode TriggerMode, oneShot bool, events EventSet) (*RegistryEntry, error)
	Detach(entry *RegistryEntry, onComplete func())
	Arm(entry *RegistryEntry, interest Interest) error
	Drive(deadline time.Duration) error
	// Wakeup interrupts a call to Drive blocked in another goroutine, so a
	// worker sleeping on Drive notices newly scheduled strand work without
	// waiting out its deadline.
	Wakeup() error
	Close() error
}

// Readiness is a Demultiplexer backed by a readiness-based OS poller
// (epoll/kqueue/IOCP-as-readiness, per platform — see package reactor).
// It owns one reactor.FastPoller and the set of entries currently
// attached to it.
type Readiness struct {
	poller reactor.FastPoller
	mu     sync.Mutex
	byFD   map[int]*RegistryEntry
}

// NewReadiness constructs and initializes a Readiness demultiplexer.
func NewReadiness() (*Readiness, error) {
	r := &Readiness{byFD: make(map[int]*RegistryEntry)}
	if err := r.poller.Init(); err != nil {
		return nil, errs.Wrap(errs.CategorySystem, errs.Unreachable, "demux.init", err)
	}
	return r, nil
}

func (r *Readiness) AttachEvents(handle int, interest Interest, mode TriggerMode, oneShot bool, events EventSet) (*RegistryEntry, error) {
	entry := newEntry(handle, interest, mode, oneShot)
	entry.Events = events
	return entry, r.register(entry)
}

func (r *Readiness) Attach(handle int, interest Interest, mode TriggerMode, oneShot bool, sock Socket) (*RegistryEntry, error) {
	entry := newEntry(handle, interest, mode, oneShot)
	entry.Sock = sock
	return entry, r.register(entry)
}

func (r *Readiness) register(entry *RegistryEntry) error {
	r.mu.Lock()
	r.byFD[entry.Handle] = entry
	r.mu.Unlock()
	if err := r.poller.RegisterFD(entry.Handle, toIOEvents(entry.Interest), r.callbackFor(entry)); err != nil {
		r.mu.Lock()
		delete(r.byFD, entry.Handle)
		r.mu.Unlock()
		return errs.Wrap(errs.CategorySystem, errs.Invalid, "demux.attach", err)
	}
	return nil
}

// callbackFor builds the poller-level callback for entry. It implements
// the announcing-events protocol from §4.5: acquire a reference via the
// DetachContext before dispatch (discarding the event on failure, since
// the socket is tearing down), fold errors per the error-folding rule, and
// release the reference after the hook returns.
func (r *Readiness) callbackFor(entry *RegistryEntry) reactor.IOCallback {
	return func(ev reactor.IOEvents) {
		if !entry.Detach.Reference() {
			return
		}
		defer entry.Detach.Release()

		readable := ev&reactor.EventRead != 0
		writable := ev&reactor.EventWrite != 0
		errored := ev&reactor.EventError != 0
		hungup := ev&reactor.EventHangup != 0

		var foldedErr error
		if errored || hungup {
			foldedErr = errs.New(errs.CategorySystem, errs.ConnectionReset, "demux.poll")
		}

		if entry.Sock != nil {
			// Error folding (§4.5): if only readable/writable was
			// requested but the backend reports an error, deliver it via
			// the readable callback, falling back to writable.
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
			if ev&reactor.EventRead == 0 && ev&reactor.EventWrite == 0 && entry.Events.OnNotification != nil {
				entry.Events.OnNotification()
			}
		}

		if entry.OneShot {
			interest := entry.Interest
			if entry.Rearm != nil {
				interest = rearmedInterest(entry.Rearm, interest)
			}
			entry.Interest = interest
			_ = r.poller.ModifyFD(entry.Handle, toIOEvents(interest))
		}
	}
}

// Arm updates an entry's registered interest mask, used both for explicit
// flow-control-driven rearms and one-shot re-registration.
func (r *Readiness) Arm(entry *RegistryEntry, interest Interest) error {
	entry.Interest = interest
	if err := r.poller.ModifyFD(entry.Handle, toIOEvents(interest)); err != nil {
		return errs.Wrap(errs.CategorySystem, errs.Invalid, "demux.arm", err)
	}
	return nil
}

// Detach begins teardown of entry. onComplete fires exactly once, either
// inline (no events currently in flight) or after the last in-flight
// callback releases its reference.
func (r *Readiness) Detach(entry *RegistryEntry, onComplete func()) {
	r.mu.Lock()
	delete(r.byFD, entry.Handle)
	r.mu.Unlock()
	_ = r.poller.UnregisterFD(entry.Handle)
	entry.Detach.Detach(onComplete)
}

// Drive runs one poll iteration with the given timeout, dispatching any
// ready callbacks inline before returning.
func (r *Readiness) Drive(deadline time.Duration) error {
	ms := -1
	if deadline >= 0 {
		ms = int(deadline / time.Millisecond)
		if deadline%time.Millisecond != 0 {
			ms++
		}
	}
	_, err := r.poller.PollIO(ms)
	if err != nil {
		return errs.Wrap(errs.CategorySystem, errs.Unreachable, "demux.drive", err)
	}
	return nil
}

func (r *Readiness) Close() error {
	return r.poller.Close()
}

// Wakeup interrupts a Drive call blocked in another goroutine.
func (r *Readiness) Wakeup() error {
	return r.poller.Wakeup()
}

func toIOEvents(i Interest) reactor.IOEvents {
	var ev reactor.IOEvents
	if i.Has(WantReadable) {
		ev |= reactor.EventRead
	}
	if i.Has(WantWritable) {
		ev |= reactor.EventWrite
	}
	return ev
}
