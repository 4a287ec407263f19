package flowctl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShutdownCompletesExactlyOnce(t *testing.T) {
	var s ShutdownState
	ctx1 := s.TryShutdownSend(false)
	assert.True(t, ctx1.AnnounceInitiated)
	assert.True(t, ctx1.AnnounceComplete, "keepHalfOpen=false cascades both directions down together")

	ctx2 := s.TryShutdownReceive(false, OriginSource)
	assert.False(t, ctx2.AnnounceComplete, "already completed by the first call")
	assert.True(t, s.Completed())
}

func TestShutdownIdempotentPerDirection(t *testing.T) {
	var s ShutdownState
	s.TryShutdownSend(true)
	ctx := s.TryShutdownSend(true)
	assert.True(t, ctx.SendShutdown)
	assert.False(t, ctx.AnnounceInitiated, "second call does not re-announce initiation")
}

func TestKeepHalfOpenRemoteEOFOnlyShutsDownReceive(t *testing.T) {
	var s ShutdownState
	ctx := s.TryShutdownReceive(true, OriginRemote)
	assert.True(t, ctx.ReceiveShutdown)
	assert.False(t, ctx.SendShutdown, "keepHalfOpen: only receive goes down on remote EOF")
	assert.False(t, s.Completed())

	ctx2 := s.TryShutdownSend(true)
	assert.True(t, ctx2.SendShutdown)
	assert.True(t, ctx2.AnnounceComplete, "both sides now down: fires exactly once")
}

func TestShutdownCompleteFiresAtMostOnceAnyOrder(t *testing.T) {
	run := func(first, second func(*ShutdownState) ShutdownContext) {
		var s ShutdownState
		a := first(&s)
		b := second(&s)
		completeCount := 0
		if a.AnnounceComplete {
			completeCount++
		}
		if b.AnnounceComplete {
			completeCount++
		}
		assert.Equal(t, 1, completeCount, "exactly one call reports shutdownComplete=true")
		assert.True(t, s.Completed())
	}
	shutdownSend := func(s *ShutdownState) ShutdownContext { return s.TryShutdownSend(false) }
	shutdownReceive := func(s *ShutdownState) ShutdownContext { return s.TryShutdownReceive(false, OriginSource) }

	run(shutdownSend, shutdownReceive)
	run(shutdownReceive, shutdownSend)
}
