// Package flowctl implements the small finite-state machines shared by
// every async socket: per-direction flow control, the monotone open-state
// machine, and shutdown-side tracking.
package flowctl

// Direction selects which side of a socket an operation applies to.
type Direction int

const (
	Send Direction = iota
	Receive
	Both
)

// Context reports the outcome of an Apply/Relax call: the resulting
// want-state for both directions, and whether anything observably changed.
type Context struct {
	WantSend    bool
	WantReceive bool
	Changed     bool
}

// State tracks the four booleans per direction described by the spec:
// enable{Send,Receive}, lock{Send,Receive}, plus Closed. The zero value has
// both directions disabled and unlocked; New returns a State with both
// directions enabled.
type State struct {
	enableSend, enableReceive bool
	lockSend, lockReceive     bool
	closed                    bool
}

// New constructs a State with both directions enabled.
func New() *State {
	return &State{enableSend: true, enableReceive: true}
}

// WantSend/WantReceive report whether the direction currently permits
// progress (enabled and not overridden by Closed).
func (s *State) WantSend() bool    { return !s.closed && s.enableSend }
func (s *State) WantReceive() bool { return !s.closed && s.enableReceive }

// LockedSend/LockedReceive report whether the direction is locked. A
// locked direction rejects new submissions outright; a direction that is
// merely disabled still accepts them, it just doesn't drain until relaxed.
func (s *State) LockedSend() bool    { return s.lockSend }
func (s *State) LockedReceive() bool { return s.lockReceive }

// Apply disables the given direction(s), optionally locking them. If
// closed, no transition re-enables anything, so Apply on a closed state is
// a no-op. Returns true iff an observable change occurred.
func (s *State) Apply(dir Direction, lock bool) (Context, bool) {
	if s.closed {
		return s.context(), false
	}
	changed := false
	if dir == Send || dir == Both {
		if s.enableSend {
			s.enableSend = false
			changed = true
		}
		if lock && !s.lockSend {
			s.lockSend = true
			changed = true
		}
	}
	if dir == Receive || dir == Both {
		if s.enableReceive {
			s.enableReceive = false
			changed = true
		}
		if lock && !s.lockReceive {
			s.lockReceive = true
			changed = true
		}
	}
	ctx := s.context()
	ctx.Changed = changed
	return ctx, changed
}

// Relax enables the given direction(s) if not locked, optionally unlocking
// first. Apply never re-enables; Relax never disables. Returns true iff an
// observable change occurred.
func (s *State) Relax(dir Direction, unlock bool) (Context, bool) {
	if s.closed {
		return s.context(), false
	}
	changed := false
	if dir == Send || dir == Both {
		if unlock && s.lockSend {
			s.lockSend = false
			changed = true
		}
		if !s.lockSend && !s.enableSend {
			s.enableSend = true
			changed = true
		}
	}
	if dir == Receive || dir == Both {
		if unlock && s.lockReceive {
			s.lockReceive = false
			changed = true
		}
		if !s.lockReceive && !s.enableReceive {
			s.enableReceive = true
			changed = true
		}
	}
	ctx := s.context()
	ctx.Changed = changed
	return ctx, changed
}

// Rearm is a pure query, used by one-shot demultiplexers to decide which
// directions to re-register interest for: only those already enabled and
// unlocked.
func (s *State) Rearm() (wantSend, wantReceive bool) {
	return s.enableSend && !s.lockSend, s.enableReceive && !s.lockReceive
}

// Close disables and unlocks both directions permanently; no further
// transition can re-enable anything.
func (s *State) Close() {
	s.enableSend = false
	s.enableReceive = false
	s.lockSend = false
	s.lockReceive = false
	s.closed = true
}

// Reset restores the state New returns (fully enabled, unlocked, open).
func (s *State) Reset() {
	*s = State{enableSend: true, enableReceive: true}
}

func (s *State) context() Context {
	return Context{WantSend: s.WantSend(), WantReceive: s.WantReceive()}
}
