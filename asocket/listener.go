package asocket

import (
	"time"

	"github.com/joeycumines/go-asynctransport/demux"
	"github.com/joeycumines/go-asynctransport/endpoint"
	"github.com/joeycumines/go-asynctransport/errs"
	"github.com/joeycumines/go-asynctransport/flowctl"
	"github.com/joeycumines/go-asynctransport/ratelimit"
	"github.com/joeycumines/go-asynctransport/sysio"
)

// AcceptOptions configures one Listener.Accept call.
type AcceptOptions struct {
	Deadline time.Time
	Token    Token
}

// ListenerOptions configures a Listener at construction time. ChildOptions
// is the template applied to every accepted connection's Stream.
type ListenerOptions struct {
	Transport                sysio.Transport
	Backlog                  int
	AcceptQueueLowWatermark  int
	AcceptQueueHighWatermark int
	AcceptRateLimiter        *ratelimit.RateLimiter
	MaxConnections           int
	ChildOptions             StreamOptions
	Hooks                    Hooks
}

type acceptEntry struct {
	seq      uint64
	opts     AcceptOptions
	callback func(*Stream, error)
	deadline deadlineTimer
}

// Listener is the asynchronous listener socket described by §4.7: it
// mirrors Stream's queue/watermark/deadline discipline but substitutes an
// accept queue of already-accepted child Streams for a byte stream.
type Listener struct {
	worker Worker
	opts   ListenerOptions
	sock   *sysio.Socket
	entry  *demux.RegistryEntry

	openState flowctl.OpenStateMachine

	acceptQueue     []*Stream
	pendingAccept   []acceptEntry
	aqWatermark     watermarkTracker
	acceptGate      rateLimitGate
	connectionCount int
	lastInterest    demux.Interest
	nextSeq         uint64
}

// NewListener opens a new non-blocking socket of the given transport and
// attaches it (with no interest yet) to worker's demultiplexer.
func NewListener(worker Worker, opts ListenerOptions) (*Listener, error) {
	sock, err := sysio.Open(opts.Transport)
	if err != nil {
		return nil, err
	}
	l := &Listener{
		worker:      worker,
		opts:        opts,
		sock:        sock,
		aqWatermark: newWatermarkTracker(opts.AcceptQueueLowWatermark, opts.AcceptQueueHighWatermark),
		acceptGate:  rateLimitGate{limiter: opts.AcceptRateLimiter},
	}
	entry, err := worker.Demux().Attach(sock.FD(), 0, demux.Level, false, l)
	if err != nil {
		_ = sock.Close()
		return nil, err
	}
	l.entry = entry
	return l, nil
}

// Bind binds the listener's local endpoint; the open state must still be
// Default.
func (l *Listener) Bind(ep endpoint.Endpoint, reuseAddress bool) error {
	if !l.openState.CanBind() {
		return errs.New(errs.CategoryGeneric, errs.Invalid, "listener.bind")
	}
	return l.sock.Bind(ep, reuseAddress)
}

// Listen transitions the socket into the listening state and begins
// watching for incoming connections.
func (l *Listener) Listen() error {
	if !l.openState.CompareAndSwap(flowctl.Default, flowctl.Waiting) {
		return errs.New(errs.CategoryGeneric, errs.Invalid, "listener.listen")
	}
	if err := l.sock.Listen(l.opts.Backlog); err != nil {
		l.openState.ForceClosed()
		return err
	}
	l.updateInterest()
	return nil
}

// OnEvent implements demux.Socket: readable means one or more connections
// are pending in the kernel's accept backlog.
func (l *Listener) OnEvent(readable, writable bool, err error) {
	l.worker.Strand().Execute(func() {
		if err != nil {
			l.fail(err)
			return
		}
		if readable {
			l.acceptPump()
		}
	})
}

// acceptPump drains the kernel accept backlog into the accept queue,
// applying the connection-limit reject path and accept-rate gating per
// §4.7, stopping once the queue reaches its high watermark or the socket
// would block.
func (l *Listener) acceptPump() {
	now := time.Now()
	for {
		if l.opts.AcceptQueueHighWatermark > 0 && len(l.acceptQueue) >= l.opts.AcceptQueueHighWatermark {
			return
		}
		if l.acceptGate.check(now, l.worker.Chronology(), func() {
			l.acceptPump()
		}) {
			return
		}
		child, _, err := l.sock.Accept()
		if err != nil {
			if errs.Retryable(err) {
				return
			}
			l.fail(err)
			return
		}
		if l.acceptGate.limiter != nil {
			l.acceptGate.limiter.Submit(1, now)
		}
		if l.opts.MaxConnections > 0 && l.connectionCount >= l.opts.MaxConnections {
			_ = child.Close()
			l.opts.Hooks.watermark(ConnectionRejectedLimitReached)
			continue
		}
		l.connectionCount++
		childOpts := l.opts.ChildOptions
		stream, err := newStreamFromSocket(l.worker, child, childOpts, flowctl.Connected)
		if err != nil {
			_ = child.Close()
			l.connectionCount--
			continue
		}
		l.acceptQueue = append(l.acceptQueue, stream)
		if _, high := l.aqWatermark.update(len(l.acceptQueue)); high {
			l.opts.Hooks.watermark(AcceptQueueHighWatermark)
		}
		l.drainPendingAccepts()
	}
}

// Accept requests the next connection, completing synchronously if one is
// already queued.
func (l *Listener) Accept(opts AcceptOptions, callback func(*Stream, error)) error {
	if l.openState.Load() != flowctl.Waiting {
		return errs.New(errs.CategoryGeneric, errs.Invalid, "listener.accept")
	}
	l.worker.Strand().Execute(func() {
		l.enqueueAccept(opts, callback)
	})
	return nil
}

func (l *Listener) enqueueAccept(opts AcceptOptions, callback func(*Stream, error)) {
	if len(l.acceptQueue) > 0 {
		child := l.acceptQueue[0]
		l.acceptQueue = l.acceptQueue[1:]
		if low, _ := l.aqWatermark.update(len(l.acceptQueue)); low {
			l.opts.Hooks.watermark(AcceptQueueLowWatermark)
		}
		if callback != nil {
			callback(child, nil)
		}
		return
	}
	l.nextSeq++
	seq := l.nextSeq
	entry := acceptEntry{seq: seq, opts: opts, callback: callback}
	l.pendingAccept = append(l.pendingAccept, entry)
	if !opts.Deadline.IsZero() {
		l.pendingAccept[len(l.pendingAccept)-1].deadline = armDeadline(l.worker.Chronology(), opts.Deadline, func() {
			l.cancelAcceptSeq(seq, errs.New(errs.CategoryTransport, errs.Cancelled, "listener.accept.deadline"))
		})
	}
}

func (l *Listener) cancelAcceptSeq(seq uint64, cause error) {
	for i := range l.pendingAccept {
		if l.pendingAccept[i].seq == seq {
			l.cancelAcceptEntry(i, cause)
			return
		}
	}
}

func (l *Listener) cancelAcceptEntry(idx int, cause error) {
	if idx < 0 || idx >= len(l.pendingAccept) {
		return
	}
	e := l.pendingAccept[idx]
	l.pendingAccept = append(l.pendingAccept[:idx], l.pendingAccept[idx+1:]...)
	e.deadline.cancel(time.Now())
	if e.callback != nil {
		e.callback(nil, cause)
	}
}

func (l *Listener) drainPendingAccepts() {
	for len(l.pendingAccept) > 0 && len(l.acceptQueue) > 0 {
		e := l.pendingAccept[0]
		l.pendingAccept = l.pendingAccept[1:]
		e.deadline.cancel(time.Now())
		child := l.acceptQueue[0]
		l.acceptQueue = l.acceptQueue[1:]
		if low, _ := l.aqWatermark.update(len(l.acceptQueue)); low {
			l.opts.Hooks.watermark(AcceptQueueLowWatermark)
		}
		if e.callback != nil {
			e.callback(child, nil)
		}
	}
}

// Cancel completes any pending Accept whose Token matches with
// errs.Cancelled.
func (l *Listener) Cancel(token Token) {
	l.worker.Strand().Execute(func() {
		for i := len(l.pendingAccept) - 1; i >= 0; i-- {
			if l.pendingAccept[i].opts.Token == token {
				l.cancelAcceptEntry(i, errs.New(errs.CategoryTransport, errs.Cancelled, "listener.cancel"))
			}
		}
	})
}

func (l *Listener) fail(cause error) {
	for _, e := range l.pendingAccept {
		e.deadline.cancel(time.Now())
		if e.callback != nil {
			e.callback(nil, cause)
		}
	}
	l.pendingAccept = nil
	for _, child := range l.acceptQueue {
		_ = child.Close()
	}
	l.acceptQueue = nil
	if l.opts.Hooks.OnError != nil {
		l.opts.Hooks.OnError(cause)
	}
	l.detach()
}

func (l *Listener) detach() {
	if l.openState.Load() == flowctl.Closed {
		return
	}
	l.openState.ForceClosed()
	l.worker.Demux().Detach(l.entry, func() {
		_ = l.sock.Close()
	})
}

// Close forcibly tears down the listener, discarding any pending accepts
// and closing any not-yet-claimed accepted connections.
func (l *Listener) Close() error {
	l.worker.Strand().Execute(func() {
		l.fail(errs.New(errs.CategoryGeneric, errs.Invalid, "listener.close"))
	})
	return nil
}

func (l *Listener) LocalEndpoint() (endpoint.Endpoint, error) { return l.sock.LocalEndpoint() }

func (l *Listener) updateInterest() {
	var want demux.Interest
	if l.openState.Load() == flowctl.Waiting {
		want |= demux.WantReadable | demux.WantError
	}
	if want == l.lastInterest {
		return
	}
	l.lastInterest = want
	_ = l.worker.Demux().Arm(l.entry, want)
}
