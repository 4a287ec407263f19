package flowctl

import "sync/atomic"

// OpenState is the monotone-toward-Closed lifecycle state machine shared by
// stream, listener and datagram sockets.
type OpenState int32

const (
	Default OpenState = iota
	Waiting
	Connecting
	Connected
	Closed
)

func (s OpenState) String() string {
	switch s {
	case Default:
		return "default"
	case Waiting:
		return "waiting"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// OpenStateMachine wraps an OpenState in an atomic so OpenState-query
// methods can be called without the socket's mutex.
type OpenStateMachine struct {
	v atomic.Int32
}

func (m *OpenStateMachine) Load() OpenState   { return OpenState(m.v.Load()) }
func (m *OpenStateMachine) Store(s OpenState) { m.v.Store(int32(s)) }

// CompareAndSwap performs the CAS used for each explicit transition listed
// in the spec (Default->Waiting, Default->Connecting, Connecting->Connected,
// {Waiting,Connecting}->Default, *->Closed). A swap out of Closed always
// fails.
func (m *OpenStateMachine) CompareAndSwap(from, to OpenState) bool {
	if from == Closed {
		return false
	}
	return m.v.CompareAndSwap(int32(from), int32(to))
}

// ForceClosed unconditionally moves to Closed; Closed is terminal so no
// further transition can leave it.
func (m *OpenStateMachine) ForceClosed() { m.v.Store(int32(Closed)) }

func (m *OpenStateMachine) CanBind() bool    { return m.Load() == Default }
func (m *OpenStateMachine) CanConnect() bool { return m.Load() == Default }
func (m *OpenStateMachine) CanSend() bool    { return m.Load() == Connected }
func (m *OpenStateMachine) CanReceive() bool {
	s := m.Load()
	return s == Connected || s == Closed
}
