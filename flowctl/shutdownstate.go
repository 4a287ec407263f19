package flowctl

// Origin names which side triggered a shutdown of a given direction.
type Origin int

const (
	OriginSource Origin = iota
	OriginRemote
)

// ShutdownContext reports the result of a single tryShutdown* call.
type ShutdownContext struct {
	AnnounceInitiated bool
	SendShutdown      bool
	ReceiveShutdown   bool
	AnnounceComplete  bool
}

// ShutdownState captures which half-sides of a socket have been shut down,
// their origin, and whether "keep-half-open" mode is active. Each
// tryShutdown* call is idempotent per direction; ShutdownComplete is
// reported at most once.
type ShutdownState struct {
	sendDown, receiveDown  bool
	sendOrigin, recvOrigin Origin
	initiated, completed   bool
	keepHalfOpen           bool
}

// TryShutdownSend shuts down the send side. If keepHalfOpen is false, it
// also schedules the receive side for shutdown (both directions go down
// together).
func (s *ShutdownState) TryShutdownSend(keepHalfOpen bool) ShutdownContext {
	s.keepHalfOpen = keepHalfOpen
	var ctx ShutdownContext
	if !s.initiated {
		s.initiated = true
		ctx.AnnounceInitiated = true
	}
	if !s.sendDown {
		s.sendDown = true
		s.sendOrigin = OriginSource
	}
	if !keepHalfOpen && !s.receiveDown {
		s.receiveDown = true
		s.recvOrigin = OriginSource
	}
	ctx.SendShutdown = s.sendDown
	ctx.ReceiveShutdown = s.receiveDown
	s.maybeComplete(&ctx)
	return ctx
}

// TryShutdownReceive shuts down the receive side. When keepHalfOpen is true
// only the receive side goes down, whatever the origin (typically
// OriginRemote: the peer half-closed for writing, i.e. a local read
// returned EOF); sending continues until the application explicitly shuts
// it down. When keepHalfOpen is false both directions go down together,
// matching TryShutdownSend's symmetric rule. origin is recorded for the
// directions this call takes down.
func (s *ShutdownState) TryShutdownReceive(keepHalfOpen bool, origin Origin) ShutdownContext {
	s.keepHalfOpen = keepHalfOpen
	var ctx ShutdownContext
	if !s.initiated {
		s.initiated = true
		ctx.AnnounceInitiated = true
	}
	if !s.receiveDown {
		s.receiveDown = true
		s.recvOrigin = origin
	}
	if !keepHalfOpen && !s.sendDown {
		s.sendDown = true
		s.sendOrigin = origin
	}
	ctx.SendShutdown = s.sendDown
	ctx.ReceiveShutdown = s.receiveDown
	s.maybeComplete(&ctx)
	return ctx
}

func (s *ShutdownState) maybeComplete(ctx *ShutdownContext) {
	if s.sendDown && s.receiveDown && !s.completed {
		s.completed = true
		ctx.AnnounceComplete = true
	}
}

// Completed reports whether both sides are shut down.
func (s *ShutdownState) Completed() bool   { return s.sendDown && s.receiveDown }
func (s *ShutdownState) SendDown() bool    { return s.sendDown }
func (s *ShutdownState) ReceiveDown() bool { return s.receiveDown }
