// Package asocket implements the asynchronous socket state machines built
// on top of sysio, demux, flowctl, chronology and strand: Stream, Listener
// and Datagram. Every pending operation (connect, accept, send, receive)
// is represented by an entry queued on the socket's strand and completed
// exactly once, in the order the spec describes.
package asocket

import (
	"time"

	"github.com/joeycumines/go-asynctransport/chronology"
	"github.com/joeycumines/go-asynctransport/demux"
	"github.com/joeycumines/go-asynctransport/endpoint"
	"github.com/joeycumines/go-asynctransport/ratelimit"
	"github.com/joeycumines/go-asynctransport/strand"
)

// Worker is the narrow slice of an engine worker every async socket needs:
// a strand to dispatch callbacks on, a chronology for deadline timers, and
// a demultiplexer to register its handle with. engine.Worker implements
// this; asocket never imports engine, avoiding a cycle.
type Worker interface {
	Strand() *strand.Strand
	Chronology() *chronology.Chronology
	Demux() demux.Demultiplexer
}

// Token is an opaque cancellation handle: callers that want to cancel a
// specific pending operation stamp it on that operation's Options and
// later pass it to Cancel.
type Token uint64

// Resolver is the narrow name-resolution capability Stream.Connect needs
// when given a name instead of an endpoint. package resolver implements
// this; kept as an interface here to avoid asocket depending on resolver
// (resolver's async variants instead depend on asocket's Worker shape).
type Resolver interface {
	ResolveIP(name string, filter IPAddressType, fallback bool) ([]endpoint.Endpoint, error)
}

// IPAddressType filters resolver results and connect/bind fallback
// behavior between IPv4-only, IPv6-only, or either.
type IPAddressType int

const (
	IPAny IPAddressType = iota
	IPv4Only
	IPv6Only
)

// Watermark identifies one of the queue-crossing announcements a stream,
// listener or datagram socket emits.
type Watermark int

const (
	ReadQueueLowWatermark Watermark = iota
	ReadQueueHighWatermark
	WriteQueueLowWatermark
	WriteQueueHighWatermark
	WriteQueueRateLimitRelaxed
	ReadQueueRateLimitRelaxed
	AcceptQueueLowWatermark
	AcceptQueueHighWatermark
	ConnectionRejectedLimitReached
)

// watermarkTracker folds the low/high crossing-once-per-direction rule
// shared by every queue in this package (write queue, read queue, accept
// queue): a low announcement fires only on the downward crossing into the
// band at-or-below low, a high announcement fires only on the upward
// crossing into at-or-above high, and each fires at most once per crossing.
type watermarkTracker struct {
	low, high    int
	wasAboveLow  bool
	wasAboveHigh bool
	init         bool
}

func newWatermarkTracker(low, high int) watermarkTracker {
	low, high = sanitizeWatermarks(low, high)
	return watermarkTracker{low: low, high: high}
}

// sanitizeWatermarks clamps a configured low/high pair to valid values: a
// negative low is treated as zero, and when a high watermark is configured
// the low watermark must sit strictly below it. An unset (zero) high
// leaves high-watermark enforcement disabled.
func sanitizeWatermarks(low, high int) (int, int) {
	if low < 0 {
		low = 0
	}
	if high > 0 && low >= high {
		low = high - 1
	}
	return low, high
}

// update reports which watermark (if any) newly crossed given the queue's
// size before and after a change.
func (w *watermarkTracker) update(size int) (lowCrossed, highCrossed bool) {
	aboveLow := size > w.low
	aboveHigh := size >= w.high && w.high > 0
	if !w.init {
		w.wasAboveLow, w.wasAboveHigh, w.init = aboveLow, aboveHigh, true
	}
	if w.wasAboveLow && !aboveLow {
		lowCrossed = true
	}
	if !w.wasAboveHigh && aboveHigh {
		highCrossed = true
	}
	w.wasAboveLow, w.wasAboveHigh = aboveLow, aboveHigh
	return
}

// ShutdownPhase identifies one of the shutdown announcements a stream
// socket emits as its half-sides go down.
type ShutdownPhase int

const (
	ShutdownInitiated ShutdownPhase = iota
	ShutdownSend
	ShutdownReceive
	ShutdownComplete
)

// Hooks carries the announcement callbacks a socket invokes on its own
// strand. Any field left nil is simply not invoked.
type Hooks struct {
	OnWatermark func(Watermark)
	OnShutdown  func(ShutdownPhase)
	OnTimestamp func(id uint64, kind int, latency time.Duration)
	OnError     func(error)
}

func (h Hooks) watermark(w Watermark) {
	if h.OnWatermark != nil {
		h.OnWatermark(w)
	}
}

func (h Hooks) shutdown(p ShutdownPhase) {
	if h.OnShutdown != nil {
		h.OnShutdown(p)
	}
}

// deadlineTimer attaches an optional deadline to a pending operation,
// invoking onFire exactly once if the deadline arrives before the
// operation otherwise completes; cancel() disarms it once the operation
// completes through any other path.
type deadlineTimer struct {
	timer *chronology.Timer
}

func armDeadline(c *chronology.Chronology, deadline time.Time, onFire func()) deadlineTimer {
	if deadline.IsZero() {
		return deadlineTimer{}
	}
	t := c.CreateTimer(chronology.Options{OneShot: true}, func(kind chronology.EventKind, now time.Time) {
		if kind == chronology.Deadline {
			onFire()
		}
	})
	t.Schedule(deadline, 0)
	return deadlineTimer{timer: t}
}

func (d deadlineTimer) cancel(now time.Time) {
	if d.timer != nil {
		d.timer.Close(now)
	}
}

// rateLimitGate wraps an optional *ratelimit.RateLimiter with the
// "schedule a relax timer at calculateTimeToSubmit" behavior shared by
// send and receive rate limiting.
type rateLimitGate struct {
	limiter *ratelimit.RateLimiter
	locked  bool
}

// check reports whether the limiter currently forbids one more unit of
// work at now; if so, it schedules a one-shot timer to call relax when
// the limiter would next admit it.
func (g *rateLimitGate) check(now time.Time, c *chronology.Chronology, relax func()) bool {
	if g.limiter == nil {
		return false
	}
	wait := g.limiter.CalculateTimeToSubmit(now)
	if wait <= 0 {
		return false
	}
	if !g.locked {
		g.locked = true
		t := c.CreateTimer(chronology.Options{OneShot: true}, func(kind chronology.EventKind, fireNow time.Time) {
			if kind == chronology.Deadline {
				g.locked = false
				relax()
			}
		})
		t.Schedule(now.Add(wait), 0)
	}
	return true
}
