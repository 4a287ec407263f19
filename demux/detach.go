// Package demux implements the per-handle registry entry and detach
// protocol shared by the reactor and proactor backends, plus the
// backend-agnostic Demultiplexer capability those backends expose to the
// socket layer.
package demux

import "sync/atomic"

// detachState is the 2-bit state packed into the top of DetachContext's
// atomic word; the low 30 bits are the active-work counter.
type detachState uint32

const (
	stateAttached detachState = iota
	stateDetaching
	stateDetached
)

const (
	stateShift   = 30
	stateMask    = uint32(0b11) << stateShift
	counterMask  = uint32(1)<<stateShift - 1
	counterLimit = counterMask
)

func pack(s detachState, n uint32) uint32 {
	return uint32(s)<<stateShift | (n & counterMask)
}

func unpack(v uint32) (detachState, uint32) {
	return detachState(v >> stateShift & 0b11), v & counterMask
}

// DetachContext is the single packed-atomic state machine described by the
// spec: a 2-bit lifecycle state (Attached, Detaching, Detached) plus a
// 30-bit active-work counter, governing safe teardown of a RegistryEntry
// under concurrent event delivery. All transitions are compare-and-swap
// loops on the one word; there is no lock.
type DetachContext struct {
	word atomic.Uint32
	// onDetach fires exactly once, when the counter reaches 0 under
	// Detaching (or immediately, if Detach is called with no outstanding
	// references).
	onDetach atomic.Pointer[func()]
}

// NewDetachContext constructs a context in the Attached state with a zero
// reference count.
func NewDetachContext() *DetachContext {
	d := &DetachContext{}
	d.word.Store(pack(stateAttached, 0))
	return d
}

// Reference attempts to acquire a reference, permitted only while the
// state is Attached. Returns false if the handle is Detaching or Detached,
// in which case the caller must discard the event rather than dispatch it.
func (d *DetachContext) Reference() bool {
	for {
		old := d.word.Load()
		st, n := unpack(old)
		if st != stateAttached {
			return false
		}
		if n >= counterLimit {
			return false
		}
		if d.word.CompareAndSwap(old, pack(st, n+1)) {
			return true
		}
	}
}

// Release returns a reference acquired by Reference. If the state is
// Detaching and this was the last outstanding reference, the detach
// callback fires exactly once and the state becomes Detached.
func (d *DetachContext) Release() {
	for {
		old := d.word.Load()
		st, n := unpack(old)
		if n == 0 {
			// Programmer error: Release without a matching Reference.
			return
		}
		n--
		switch st {
		case stateAttached:
			if d.word.CompareAndSwap(old, pack(st, n)) {
				return
			}
		case stateDetaching:
			if n == 0 {
				if d.word.CompareAndSwap(old, pack(stateDetached, 0)) {
					d.fireDetach()
					return
				}
			} else if d.word.CompareAndSwap(old, pack(st, n)) {
				return
			}
		default:
			return
		}
	}
}

// Detach requests teardown. If no references are outstanding, it
// transitions directly to Detached and fires the callback inline,
// returning true ("detach complete now"). Otherwise it transitions to
// Detaching and returns false ("will complete when refs drain").
func (d *DetachContext) Detach(onDetach func()) (completeNow bool) {
	d.onDetach.Store(&onDetach)
	for {
		old := d.word.Load()
		st, n := unpack(old)
		switch st {
		case stateAttached:
			if n == 0 {
				if d.word.CompareAndSwap(old, pack(stateDetached, 0)) {
					d.fireDetach()
					return true
				}
				continue
			}
			if d.word.CompareAndSwap(old, pack(stateDetaching, n)) {
				return false
			}
		case stateDetaching, stateDetached:
			// Detach already in progress or complete; idempotent no-op.
			return st == stateDetached
		}
	}
}

func (d *DetachContext) fireDetach() {
	if p := d.onDetach.Load(); p != nil && *p != nil {
		(*p)()
	}
}

// State reports the current lifecycle state, for diagnostics/tests only;
// callers must not branch production logic on a racy snapshot.
func (d *DetachContext) State() (attached, detaching, detached bool) {
	st, _ := unpack(d.word.Load())
	return st == stateAttached, st == stateDetaching, st == stateDetached
}

// Count reports the current active-work counter.
func (d *DetachContext) Count() int {
	_, n := unpack(d.word.Load())
	return int(n)
}
