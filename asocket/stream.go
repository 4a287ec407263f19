package asocket

import (
	"time"

	"github.com/joeycumines/go-asynctransport/chronology"
	"github.com/joeycumines/go-asynctransport/demux"
	"github.com/joeycumines/go-asynctransport/endpoint"
	"github.com/joeycumines/go-asynctransport/errs"
	"github.com/joeycumines/go-asynctransport/flowctl"
	"github.com/joeycumines/go-asynctransport/iobuf"
	"github.com/joeycumines/go-asynctransport/ratelimit"
	"github.com/joeycumines/go-asynctransport/sockopt"
	"github.com/joeycumines/go-asynctransport/sysio"
	"github.com/joeycumines/go-asynctransport/zerocopy"
)

// defaultSegmentSize is the read queue blob's segment size when
// StreamOptions.ReadSegmentSize is left zero.
const defaultSegmentSize = 16 * 1024

// cipherScratchSize bounds the per-call scratch buffer used to pump bytes
// through an Encryption session.
const cipherScratchSize = 16 * 1024

// ConnectTarget names what Stream.Connect dials: either a concrete
// endpoint or a name to resolve first.
type ConnectTarget struct {
	endpoint endpoint.Endpoint
	name     string
}

func EndpointTarget(ep endpoint.Endpoint) ConnectTarget { return ConnectTarget{endpoint: ep} }
func NameTarget(name string) ConnectTarget              { return ConnectTarget{name: name} }
func (t ConnectTarget) isName() bool                    { return t.name != "" }

// ConnectOptions configures Stream.Connect, per §4.6's connect contract.
type ConnectOptions struct {
	RetryCount        int
	RetryInterval     time.Duration
	Deadline          time.Time
	IPAddressType     IPAddressType
	IPAddressFallback bool
	PortFallback      bool
	Token             Token
}

// ConnectEventType discriminates a ConnectEvent.
type ConnectEventType int

const (
	ConnectComplete ConnectEventType = iota
	ConnectError
)

// ConnectEvent is delivered to a Connect callback exactly once.
type ConnectEvent struct {
	Type              ConnectEventType
	Endpoint          endpoint.Endpoint
	AttemptsRemaining int
	Latency           time.Duration
	Err               error
}

// SendOptions configures one Stream.Send call.
type SendOptions struct {
	Deadline              time.Time
	Token                 Token
	SuppressHighWatermark bool
	ZeroCopy              bool
	Timestamp             bool
}

// ReceiveOptions configures one Stream.Receive call.
type ReceiveOptions struct {
	MinSize  int
	MaxSize  int
	Deadline time.Time
	Token    Token
}

// StreamOptions configures a Stream at construction time.
type StreamOptions struct {
	Transport               sysio.Transport
	ReadSegmentSize         int
	WriteQueueLowWatermark  int
	WriteQueueHighWatermark int
	ReadQueueLowWatermark   int
	ReadQueueHighWatermark  int
	SendRateLimiter         *ratelimit.RateLimiter
	ReceiveRateLimiter      *ratelimit.RateLimiter
	KeepHalfOpenOnShutdown  bool
	Encryption              Encryption
	Resolver                Resolver
	Hooks                   Hooks
}

type writeEntry struct {
	seq        uint64
	data       iobuf.Data
	sent       int
	opts       SendOptions
	callback   func(error)
	deadline   deadlineTimer
	zcPending  int
	encrypted  bool
	cipherText []byte
	cipherSent int
}

type receiveEntry struct {
	seq      uint64
	opts     ReceiveOptions
	callback func(iobuf.Data, error)
	deadline deadlineTimer
}

// Stream is the asynchronous stream socket described by §4.6.
type Stream struct {
	worker Worker
	opts   StreamOptions
	sock   *sysio.Socket
	entry  *demux.RegistryEntry

	openState     flowctl.OpenStateMachine
	shutdownState flowctl.ShutdownState
	sendFlow      flowctl.State
	recvFlow      flowctl.State

	writeQueue     []writeEntry
	writeQueueSize int
	readQueue      *iobuf.Blob
	pendingReceive []receiveEntry
	connectAttempt *connectAttempt

	wqWatermark watermarkTracker
	rqWatermark watermarkTracker
	sendGate    rateLimitGate
	recvGate    rateLimitGate

	zcWait       *zerocopy.WaitList
	correlator   *zerocopy.TimestampCorrelator
	lastInterest demux.Interest

	nextSeq           uint64
	announcedSendDown bool
	announcedRecvDown bool
}

type connectAttempt struct {
	target            ConnectTarget
	opts              ConnectOptions
	callback          func(ConnectEvent)
	attemptsRemaining int
	startedAt         time.Time
	currentEndpoint   endpoint.Endpoint
	deadline          deadlineTimer
}

// NewStream opens a new non-blocking socket of the given transport and
// attaches it (with no interest yet) to worker's demultiplexer.
func NewStream(worker Worker, opts StreamOptions) (*Stream, error) {
	sock, err := sysio.Open(opts.Transport)
	if err != nil {
		return nil, err
	}
	return newStreamFromSocket(worker, sock, opts, flowctl.Default)
}

// newStreamFromSocket wraps an already-open (and, for accepted children,
// already-connected) socket.
func newStreamFromSocket(worker Worker, sock *sysio.Socket, opts StreamOptions, initial flowctl.OpenState) (*Stream, error) {
	if opts.ReadSegmentSize <= 0 {
		opts.ReadSegmentSize = defaultSegmentSize
	}
	s := &Stream{
		worker:      worker,
		opts:        opts,
		sock:        sock,
		readQueue:   iobuf.NewBlob(opts.ReadSegmentSize),
		wqWatermark: newWatermarkTracker(opts.WriteQueueLowWatermark, opts.WriteQueueHighWatermark),
		rqWatermark: newWatermarkTracker(opts.ReadQueueLowWatermark, opts.ReadQueueHighWatermark),
		sendGate:    rateLimitGate{limiter: opts.SendRateLimiter},
		recvGate:    rateLimitGate{limiter: opts.ReceiveRateLimiter},
		zcWait:      &zerocopy.WaitList{},
		correlator:  zerocopy.NewTimestampCorrelator(),
	}
	s.openState.Store(initial)
	s.sendFlow = *flowctl.New()
	s.recvFlow = *flowctl.New()
	entry, err := worker.Demux().Attach(sock.FD(), 0, demux.Level, false, s)
	if err != nil {
		_ = sock.Close()
		return nil, err
	}
	entry.Rearm = streamRearmer{s}
	s.entry = entry
	s.lastInterest = 0
	if initial == flowctl.Connected {
		s.updateInterest()
	}
	return s, nil
}

// streamRearmer folds the stream's two per-direction flow-control states
// into the single Rearm query a one-shot demultiplexer re-registration
// consults.
type streamRearmer struct{ s *Stream }

func (r streamRearmer) Rearm() (wantSend, wantReceive bool) {
	wantSend, _ = r.s.sendFlow.Rearm()
	_, wantReceive = r.s.recvFlow.Rearm()
	return wantSend, wantReceive
}

// Bind binds the socket's local endpoint; the open state must still be
// Default.
func (s *Stream) Bind(ep endpoint.Endpoint, reuseAddress bool) error {
	if !s.openState.CanBind() {
		return errs.New(errs.CategoryGeneric, errs.Invalid, "stream.bind")
	}
	return s.sock.Bind(ep, reuseAddress)
}

// Connect dials target, honoring retryCount/retryInterval/deadline. The
// callback fires exactly once.
func (s *Stream) Connect(target ConnectTarget, opts ConnectOptions, callback func(ConnectEvent)) error {
	if !s.openState.CompareAndSwap(flowctl.Default, flowctl.Connecting) {
		return errs.New(errs.CategoryGeneric, errs.Invalid, "stream.connect")
	}
	s.worker.Strand().Execute(func() {
		now := time.Now()
		att := &connectAttempt{
			target:            target,
			opts:              opts,
			callback:          callback,
			attemptsRemaining: opts.RetryCount,
			startedAt:         now,
		}
		s.connectAttempt = att
		if !opts.Deadline.IsZero() {
			att.deadline = armDeadline(s.worker.Chronology(), opts.Deadline, func() {
				s.failConnect(att, errs.New(errs.CategoryTransport, errs.Cancelled, "stream.connect.deadline"))
			})
		}
		s.resolveAndDial(att)
	})
	return nil
}

func (s *Stream) resolveAndDial(att *connectAttempt) {
	if !att.target.isName() {
		att.currentEndpoint = att.target.endpoint
		s.dial(att)
		return
	}
	if s.opts.Resolver == nil {
		s.failConnect(att, errs.New(errs.CategoryTransport, errs.Unreachable, "stream.connect.resolve"))
		return
	}
	eps, err := s.opts.Resolver.ResolveIP(att.target.name, att.opts.IPAddressType, att.opts.IPAddressFallback)
	if err != nil || len(eps) == 0 {
		s.failConnect(att, errs.Wrap(errs.CategoryTransport, errs.Unreachable, "stream.connect.resolve", err))
		return
	}
	att.currentEndpoint = eps[0]
	s.dial(att)
}

func (s *Stream) dial(att *connectAttempt) {
	err := s.sock.Connect(att.currentEndpoint)
	if err != nil && !errs.Retryable(err) && !errs.Is(err, errs.WouldBlock) {
		s.retryOrFail(att, err)
		return
	}
	s.updateInterest()
}

// OnEvent implements demux.Socket. Its behavior branches on the socket's
// current phase: while Connecting, a writable signal means the connect
// attempt resolved (success or failure, distinguished by getpeername);
// once Connected, events drive the ordinary drain/fill pipeline.
func (s *Stream) OnEvent(readable, writable bool, err error) {
	s.worker.Strand().Execute(func() {
		switch s.openState.Load() {
		case flowctl.Connecting:
			s.onConnectEvent(writable, err)
		case flowctl.Connected:
			if err != nil {
				// An error-class poll event on a socket with zero-copy sends
				// outstanding is usually the kernel's completion notification
				// arriving on the error queue, not a failure.
				if !s.drainAcknowledgements() {
					s.fail(err)
					return
				}
			}
			if writable {
				s.drain()
			}
			if readable {
				s.fill()
			}
		}
	})
}

func (s *Stream) onConnectEvent(writable bool, evErr error) {
	att := s.connectAttempt
	if att == nil {
		return
	}
	if evErr != nil {
		s.retryOrFail(att, evErr)
		return
	}
	if !writable {
		return
	}
	if _, err := s.sock.RemoteEndpoint(); err != nil {
		s.retryOrFail(att, err)
		return
	}
	s.completeConnect(att)
}

func (s *Stream) retryOrFail(att *connectAttempt, cause error) {
	if att.attemptsRemaining <= 0 {
		s.failConnect(att, cause)
		return
	}
	att.attemptsRemaining--
	s.openState.Store(flowctl.Waiting)
	s.scheduleRetry(att)
}

// scheduleRetry arms a one-shot timer at RetryInterval; on fire the
// socket re-enters Connecting and redials.
func (s *Stream) scheduleRetry(att *connectAttempt) {
	t := s.worker.Chronology().CreateTimer(chronology.Options{OneShot: true}, func(kind chronology.EventKind, now time.Time) {
		if kind != chronology.Deadline {
			return
		}
		if s.connectAttempt != att {
			return
		}
		s.openState.Store(flowctl.Connecting)
		s.resolveAndDial(att)
	})
	t.Schedule(time.Now().Add(att.opts.RetryInterval), 0)
}

func (s *Stream) completeConnect(att *connectAttempt) {
	s.connectAttempt = nil
	att.deadline.cancel(time.Now())
	s.openState.Store(flowctl.Connected)
	s.updateInterest()
	if att.callback != nil {
		att.callback(ConnectEvent{
			Type:     ConnectComplete,
			Endpoint: att.currentEndpoint,
			Latency:  time.Since(att.startedAt),
		})
	}
}

func (s *Stream) failConnect(att *connectAttempt, cause error) {
	if s.connectAttempt != att {
		return
	}
	s.connectAttempt = nil
	att.deadline.cancel(time.Now())
	s.openState.ForceClosed()
	if att.callback != nil {
		att.callback(ConnectEvent{
			Type:              ConnectError,
			Endpoint:          att.currentEndpoint,
			AttemptsRemaining: att.attemptsRemaining,
			Latency:           time.Since(att.startedAt),
			Err:               cause,
		})
	}
}

// Send enqueues data for transmission, per §4.6's send pipeline. A
// locked send direction rejects outright; a direction that is disabled but
// unlocked still enqueues, and the data drains once flow control relaxes.
func (s *Stream) Send(data iobuf.Data, opts SendOptions, callback func(error)) error {
	if !s.openState.CanSend() || s.sendFlow.LockedSend() {
		return errs.New(errs.CategoryGeneric, errs.Invalid, "stream.send")
	}
	enqueuable := s.writeQueueSize + data.Size()
	if s.opts.WriteQueueHighWatermark > 0 && enqueuable > s.opts.WriteQueueHighWatermark && !opts.SuppressHighWatermark {
		s.worker.Strand().Execute(func() { s.opts.Hooks.watermark(WriteQueueHighWatermark) })
		return errs.New(errs.CategoryTransport, errs.WouldFlowControl, "stream.send")
	}
	s.worker.Strand().Execute(func() {
		s.enqueueSend(data, opts, callback)
	})
	return nil
}

func (s *Stream) enqueueSend(data iobuf.Data, opts SendOptions, callback func(error)) {
	s.nextSeq++
	seq := s.nextSeq
	entry := writeEntry{seq: seq, data: data, opts: opts, callback: callback}
	s.writeQueue = append(s.writeQueue, entry)
	s.writeQueueSize += data.Size()
	if !opts.Deadline.IsZero() {
		s.writeQueue[len(s.writeQueue)-1].deadline = armDeadline(s.worker.Chronology(), opts.Deadline, func() {
			s.cancelWriteSeq(seq, errs.New(errs.CategoryTransport, errs.Cancelled, "stream.send.deadline"))
		})
	}
	if _, high := s.wqWatermark.update(s.writeQueueSize); high {
		s.opts.Hooks.watermark(WriteQueueHighWatermark)
	}
	s.drain()
}

// cancelWriteSeq locates a pending send by its sequence number. Entries
// are matched by identity rather than position: by the time a deadline
// fires, drains and other cancellations may have shifted the queue.
func (s *Stream) cancelWriteSeq(seq uint64, cause error) {
	for i := range s.writeQueue {
		if s.writeQueue[i].seq == seq {
			s.cancelWriteEntry(i, cause)
			return
		}
	}
}

func (s *Stream) cancelWriteEntry(idx int, cause error) {
	if idx < 0 || idx >= len(s.writeQueue) {
		return
	}
	e := s.writeQueue[idx]
	s.writeQueue = append(s.writeQueue[:idx], s.writeQueue[idx+1:]...)
	s.writeQueueSize -= e.data.Size() - e.sent
	e.deadline.cancel(time.Now())
	if e.callback != nil {
		e.callback(cause)
	}
}

// drain services the head of the write queue while the socket is
// writable, per §4.6's drain algorithm. When an Encryption session is
// configured, plaintext is pumped through it once per entry and the
// resulting ciphertext is what actually goes over the wire; zero-copy is
// disabled in that path since the buffer being sent is scratch-owned, not
// the caller's, so there is nothing useful to notify completion against.
func (s *Stream) drain() {
	if !s.sendFlow.WantSend() {
		return
	}
	now := time.Now()
	for len(s.writeQueue) > 0 {
		if s.sendGate.check(now, s.worker.Chronology(), func() {
			s.opts.Hooks.watermark(WriteQueueRateLimitRelaxed)
			s.drain()
		}) {
			return
		}
		head := &s.writeQueue[0]
		if s.opts.Encryption != nil {
			if !head.encrypted {
				if err := s.encryptHead(head); err != nil {
					s.fail(err)
					return
				}
			}
			if head.cipherSent >= len(head.cipherText) {
				s.completeHead(nil)
				continue
			}
			bufs := []iobuf.ConstBuffer{{Bytes: head.cipherText[head.cipherSent:]}}
			n, _, _, err := s.sock.Send(bufs, false)
			if err != nil {
				if errs.Retryable(err) {
					return
				}
				s.fail(err)
				return
			}
			if s.sendGate.limiter != nil {
				s.sendGate.limiter.Submit(float64(n), now)
			}
			head.cipherSent += n
			s.writeQueueSize -= n
			if low, _ := s.wqWatermark.update(s.writeQueueSize); low {
				s.opts.Hooks.watermark(WriteQueueLowWatermark)
			}
			if head.cipherSent >= len(head.cipherText) {
				s.completeHead(nil)
			} else {
				return
			}
			continue
		}
		bufs := sliceConstBuffers(head.data.ConstBuffers(), head.sent)
		if len(bufs) == 0 {
			s.completeHead(nil)
			continue
		}
		useZeroCopy := head.opts.ZeroCopy
		n, zcID, honored, err := s.sock.Send(bufs, useZeroCopy)
		if err != nil {
			if errs.Retryable(err) {
				return
			}
			s.fail(err)
			return
		}
		if s.sendGate.limiter != nil {
			s.sendGate.limiter.Submit(float64(n), now)
		}
		head.sent += n
		s.writeQueueSize -= n
		if low, _ := s.wqWatermark.update(s.writeQueueSize); low {
			s.opts.Hooks.watermark(WriteQueueLowWatermark)
		}
		if honored {
			s.correlator.RecordEnqueue(uint64(zcID), now)
			head.zcPending++
			_ = s.zcWait.Add(zerocopy.Entry{ID: zcID, Done: func(outcome zerocopy.Outcome, ackErr error) {
				if lat, ok := s.correlator.Notify(uint64(zcID), zerocopy.Acknowledged, time.Now()); ok {
					if s.opts.Hooks.OnTimestamp != nil {
						s.opts.Hooks.OnTimestamp(uint64(zcID), int(zerocopy.Acknowledged), lat)
					}
				}
				s.worker.Strand().Execute(func() { s.zeroCopyAcked(ackErr) })
			}})
		}
		if head.sent >= head.data.Size() {
			if head.zcPending > 0 {
				// Completion waits for the kernel's acknowledgement, not
				// the syscall return.
				return
			}
			s.completeHead(nil)
		} else {
			return
		}
	}
}

// drainAcknowledgements empties the socket's error queue of zero-copy
// completion notifications, reporting whether any were found.
func (s *Stream) drainAcknowledgements() bool {
	any := false
	for {
		from, to, ok, err := s.sock.ReceiveZeroCopyAcknowledgement()
		if err != nil {
			return any
		}
		if !ok {
			// Consumed a non-zero-copy error-queue entry; keep going.
			continue
		}
		s.zcWait.Acknowledge(from, to)
		any = true
	}
}

// zeroCopyAcked runs on the strand once per acknowledged zero-copy send.
// The head entry completes only when every one of its sends has been
// acknowledged and all of its bytes have been handed to the kernel.
func (s *Stream) zeroCopyAcked(ackErr error) {
	if len(s.writeQueue) == 0 {
		return
	}
	head := &s.writeQueue[0]
	if head.zcPending > 0 {
		head.zcPending--
	}
	if ackErr != nil {
		s.completeHead(ackErr)
		return
	}
	if head.zcPending == 0 && head.sent >= head.data.Size() {
		s.completeHead(nil)
		s.drain()
	}
}

// encryptHead pumps an entry's full plaintext through the encryption
// session and buffers the resulting ciphertext for the raw send loop.
func (s *Stream) encryptHead(head *writeEntry) error {
	plain := flattenConstBuffers(head.data.ConstBuffers())
	if err := s.opts.Encryption.PushOutgoingPlainText(plain); err != nil {
		return err
	}
	scratch := make([]byte, cipherScratchSize)
	var out []byte
	for {
		n, err := s.opts.Encryption.PopOutgoingCipherText(scratch)
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		out = append(out, scratch[:n]...)
	}
	head.cipherText = out
	head.cipherSent = 0
	head.encrypted = true
	return nil
}

// flattenConstBuffers copies a scatter/gather view into one contiguous
// slice; used on the stream's encryption path, where the session interface
// takes a single []byte rather than a vector, and by Datagram.drain, which
// sends each message as one buffer.
func flattenConstBuffers(bufs []iobuf.ConstBuffer) []byte {
	total := 0
	for _, b := range bufs {
		total += len(b.Bytes)
	}
	out := make([]byte, 0, total)
	for _, b := range bufs {
		out = append(out, b.Bytes...)
	}
	return out
}

func (s *Stream) completeHead(err error) {
	if len(s.writeQueue) == 0 {
		return
	}
	e := s.writeQueue[0]
	s.writeQueue = s.writeQueue[1:]
	e.deadline.cancel(time.Now())
	if e.callback != nil {
		e.callback(err)
	}
}

// failAllWrites completes every queued write with cause, without touching
// pending receives or the connection itself; fail calls this as one step
// of tearing down the whole socket.
func (s *Stream) failAllWrites(cause error) {
	for _, e := range s.writeQueue {
		e.deadline.cancel(time.Now())
		if e.callback != nil {
			e.callback(cause)
		}
	}
	s.writeQueue = nil
	s.writeQueueSize = 0
}

// ApplyFlowControl disables the given direction(s), optionally locking
// them against a later Send/Receive call until RelaxFlowControl unlocks.
func (s *Stream) ApplyFlowControl(dir flowctl.Direction, lock bool) {
	s.worker.Strand().Execute(func() {
		if dir == flowctl.Send || dir == flowctl.Both {
			s.sendFlow.Apply(flowctl.Send, lock)
		}
		if dir == flowctl.Receive || dir == flowctl.Both {
			s.recvFlow.Apply(flowctl.Receive, lock)
		}
		s.updateInterest()
	})
}

// RelaxFlowControl re-enables the given direction(s), optionally clearing
// a lock placed by ApplyFlowControl.
func (s *Stream) RelaxFlowControl(dir flowctl.Direction, unlock bool) {
	s.worker.Strand().Execute(func() {
		if dir == flowctl.Send || dir == flowctl.Both {
			s.sendFlow.Relax(flowctl.Send, unlock)
		}
		if dir == flowctl.Receive || dir == flowctl.Both {
			s.recvFlow.Relax(flowctl.Receive, unlock)
		}
		s.updateInterest()
		if len(s.writeQueue) > 0 {
			s.drain()
		}
	})
}

// Receive requests up to MaxSize bytes, completing synchronously if the
// read queue already holds at least MinSize bytes.
func (s *Stream) Receive(opts ReceiveOptions, callback func(iobuf.Data, error)) error {
	if !s.openState.CanReceive() || s.recvFlow.LockedReceive() {
		return errs.New(errs.CategoryGeneric, errs.Invalid, "stream.receive")
	}
	if opts.MinSize <= 0 {
		opts.MinSize = 1
	}
	s.worker.Strand().Execute(func() {
		s.enqueueReceive(opts, callback)
	})
	return nil
}

func (s *Stream) enqueueReceive(opts ReceiveOptions, callback func(iobuf.Data, error)) {
	if s.readQueue.Length() >= opts.MinSize {
		s.satisfyReceive(opts, callback)
		return
	}
	s.nextSeq++
	seq := s.nextSeq
	entry := receiveEntry{seq: seq, opts: opts, callback: callback}
	s.pendingReceive = append(s.pendingReceive, entry)
	if !opts.Deadline.IsZero() {
		s.pendingReceive[len(s.pendingReceive)-1].deadline = armDeadline(s.worker.Chronology(), opts.Deadline, func() {
			s.cancelReceiveSeq(seq, errs.New(errs.CategoryTransport, errs.Cancelled, "stream.receive.deadline"))
		})
	}
	s.updateInterest()
}

func (s *Stream) cancelReceiveSeq(seq uint64, cause error) {
	for i := range s.pendingReceive {
		if s.pendingReceive[i].seq == seq {
			s.cancelReceiveEntry(i, cause)
			return
		}
	}
}

func (s *Stream) cancelReceiveEntry(idx int, cause error) {
	if idx < 0 || idx >= len(s.pendingReceive) {
		return
	}
	e := s.pendingReceive[idx]
	s.pendingReceive = append(s.pendingReceive[:idx], s.pendingReceive[idx+1:]...)
	e.deadline.cancel(time.Now())
	if e.callback != nil {
		e.callback(iobuf.Data{}, cause)
	}
}

func (s *Stream) satisfyReceive(opts ReceiveOptions, callback func(iobuf.Data, error)) {
	n := opts.MaxSize
	if n <= 0 || n > s.readQueue.Length() {
		n = s.readQueue.Length()
	}
	buf := make([]byte, n)
	s.readQueue.Peek(0, buf)
	s.readQueue.Consume(n)
	if low, _ := s.rqWatermark.update(s.readQueue.Length()); low {
		s.opts.Hooks.watermark(ReadQueueLowWatermark)
	}
	if callback != nil {
		callback(iobuf.FromBytes(buf), nil)
	}
}

// fill pulls available network data into the read queue and satisfies any
// pending receives it can, per §4.6's fill algorithm. When an Encryption
// session is configured, bytes come off the wire into scratch space,
// feed the session as ciphertext, and whatever plaintext the session
// yields is what lands in the read queue.
func (s *Stream) fill() {
	if !s.recvFlow.WantReceive() {
		return
	}
	now := time.Now()
	if s.recvGate.check(now, s.worker.Chronology(), func() {
		s.opts.Hooks.watermark(ReadQueueRateLimitRelaxed)
		s.fill()
	}) {
		return
	}
	if s.opts.Encryption != nil {
		s.fillEncrypted(now)
		return
	}
	bufs := s.readQueue.CapacityBuffers(0)
	n, err := s.sock.Receive(bufs)
	if err != nil {
		if errs.Retryable(err) {
			return
		}
		if errs.Is(err, errs.EOF) {
			ctx := s.shutdownState.TryShutdownReceive(s.opts.KeepHalfOpenOnShutdown, flowctl.OriginRemote)
			s.announceShutdown(ctx)
			if ctx.AnnounceComplete {
				s.detach()
			}
			return
		}
		s.fail(err)
		return
	}
	s.readQueue.Commit(n)
	if s.recvGate.limiter != nil {
		s.recvGate.limiter.Submit(float64(n), now)
	}
	if _, high := s.rqWatermark.update(s.readQueue.Length()); high {
		s.opts.Hooks.watermark(ReadQueueHighWatermark)
	}
	s.drainPendingReceives()
	s.updateInterest()
}

func (s *Stream) fillEncrypted(now time.Time) {
	scratch := make([]byte, cipherScratchSize)
	n, err := s.sock.Receive([]iobuf.MutableBuffer{{Bytes: scratch}})
	if err != nil {
		if errs.Retryable(err) {
			return
		}
		if errs.Is(err, errs.EOF) {
			ctx := s.shutdownState.TryShutdownReceive(s.opts.KeepHalfOpenOnShutdown, flowctl.OriginRemote)
			s.announceShutdown(ctx)
			if ctx.AnnounceComplete {
				s.detach()
			}
			return
		}
		s.fail(err)
		return
	}
	if s.recvGate.limiter != nil {
		s.recvGate.limiter.Submit(float64(n), now)
	}
	if err := s.opts.Encryption.PushIncomingCipherText(scratch[:n]); err != nil {
		s.fail(err)
		return
	}
	plain := make([]byte, cipherScratchSize)
	for {
		pn, err := s.opts.Encryption.PopIncomingPlainText(plain)
		if err != nil {
			s.fail(err)
			return
		}
		if pn == 0 {
			break
		}
		remaining := pn
		for _, dst := range s.readQueue.CapacityBuffers(remaining) {
			c := copy(dst.Bytes, plain[pn-remaining:pn])
			remaining -= c
			if remaining <= 0 {
				break
			}
		}
		s.readQueue.Commit(pn)
	}
	if _, high := s.rqWatermark.update(s.readQueue.Length()); high {
		s.opts.Hooks.watermark(ReadQueueHighWatermark)
	}
	s.drainPendingReceives()
	s.updateInterest()
}

func (s *Stream) drainPendingReceives() {
	for len(s.pendingReceive) > 0 {
		head := s.pendingReceive[0]
		if s.readQueue.Length() < head.opts.MinSize {
			return
		}
		s.pendingReceive = s.pendingReceive[1:]
		head.deadline.cancel(time.Now())
		s.satisfyReceive(head.opts, head.callback)
	}
}

// Cancel completes any pending send/receive/connect whose Token matches
// with errs.Cancelled.
func (s *Stream) Cancel(token Token) {
	s.worker.Strand().Execute(func() {
		for i := len(s.writeQueue) - 1; i >= 0; i-- {
			if s.writeQueue[i].opts.Token == token {
				s.cancelWriteEntry(i, errs.New(errs.CategoryTransport, errs.Cancelled, "stream.cancel"))
			}
		}
		for i := len(s.pendingReceive) - 1; i >= 0; i-- {
			if s.pendingReceive[i].opts.Token == token {
				s.cancelReceiveEntry(i, errs.New(errs.CategoryTransport, errs.Cancelled, "stream.cancel"))
			}
		}
		if att := s.connectAttempt; att != nil && att.opts.Token == token {
			s.failConnect(att, errs.New(errs.CategoryTransport, errs.Cancelled, "stream.cancel"))
		}
	})
}

// Shutdown half- or fully closes the socket, per §4.6's shutdown contract.
func (s *Stream) Shutdown(dir sysio.ShutdownDirection) error {
	s.worker.Strand().Execute(func() {
		switch dir {
		case sysio.ShutdownSend:
			ctx := s.shutdownState.TryShutdownSend(s.opts.KeepHalfOpenOnShutdown)
			_ = s.sock.Shutdown(sysio.ShutdownSend)
			s.announceShutdown(ctx)
			if ctx.AnnounceComplete {
				s.detach()
			}
		case sysio.ShutdownReceive:
			ctx := s.shutdownState.TryShutdownReceive(s.opts.KeepHalfOpenOnShutdown, flowctl.OriginSource)
			_ = s.sock.Shutdown(sysio.ShutdownReceive)
			s.announceShutdown(ctx)
			if ctx.AnnounceComplete {
				s.detach()
			}
		default:
			ctx := s.shutdownState.TryShutdownSend(false)
			_ = s.sock.Shutdown(sysio.ShutdownBoth)
			s.announceShutdown(ctx)
			s.detach()
		}
	})
	return nil
}

// announceShutdown emits the Initiated/Send/Receive announcements a
// tryShutdown* transition calls for, each direction at most once per
// socket. ShutdownComplete is announced by detach, after the handle is
// actually released.
func (s *Stream) announceShutdown(ctx flowctl.ShutdownContext) {
	if ctx.AnnounceInitiated {
		s.opts.Hooks.shutdown(ShutdownInitiated)
	}
	if ctx.SendShutdown && !s.announcedSendDown {
		s.announcedSendDown = true
		s.opts.Hooks.shutdown(ShutdownSend)
	}
	if ctx.ReceiveShutdown && !s.announcedRecvDown {
		s.announcedRecvDown = true
		s.opts.Hooks.shutdown(ShutdownReceive)
	}
}

func (s *Stream) fail(cause error) {
	s.failAllWrites(cause)
	for _, e := range s.pendingReceive {
		e.deadline.cancel(time.Now())
		if e.callback != nil {
			e.callback(iobuf.Data{}, cause)
		}
	}
	s.pendingReceive = nil
	if s.opts.Hooks.OnError != nil {
		s.opts.Hooks.OnError(cause)
	}
	s.announceShutdown(s.shutdownState.TryShutdownSend(false))
	s.detach()
}

// detach begins demux teardown, closing the handle and announcing
// ShutdownComplete once the last in-flight event delivery has drained.
func (s *Stream) detach() {
	if s.openState.Load() == flowctl.Closed {
		return
	}
	s.openState.ForceClosed()
	s.zcWait.Cancel(errs.New(errs.CategoryTransport, errs.Cancelled, "stream.detach"))
	s.worker.Demux().Detach(s.entry, func() {
		_ = s.sock.Close()
		s.opts.Hooks.shutdown(ShutdownComplete)
	})
}

// Close forcibly tears down the socket, discarding any pending operations.
func (s *Stream) Close() error {
	s.worker.Strand().Execute(func() {
		s.fail(errs.New(errs.CategoryGeneric, errs.Invalid, "stream.close"))
	})
	return nil
}

func (s *Stream) LocalEndpoint() (endpoint.Endpoint, error)  { return s.sock.LocalEndpoint() }
func (s *Stream) RemoteEndpoint() (endpoint.Endpoint, error) { return s.sock.RemoteEndpoint() }

// SetOption / GetOption forward to the underlying transport socket.
func (s *Stream) SetOption(opt sockopt.Option) error                  { return s.sock.SetOption(opt) }
func (s *Stream) GetOption(name sockopt.Name) (sockopt.Option, error) { return s.sock.GetOption(name) }

// updateInterest recomputes and, if changed, re-arms the demultiplexer
// interest mask: while Connected, readable is wanted whenever receive isn't
// shut down and receive flow control is enabled, and writable whenever the
// write queue is non-empty, send isn't shut down and send flow control is
// enabled; while Connecting or Waiting on a connect attempt, writable is
// wanted.
func (s *Stream) updateInterest() {
	var want demux.Interest
	state := s.openState.Load()
	if state == flowctl.Connecting || state == flowctl.Waiting {
		want |= demux.WantWritable | demux.WantError
	}
	if state == flowctl.Connected {
		if !s.shutdownState.ReceiveDown() && s.recvFlow.WantReceive() {
			want |= demux.WantReadable
		}
		if len(s.writeQueue) > 0 && !s.shutdownState.SendDown() && s.sendFlow.WantSend() {
			want |= demux.WantWritable
		}
		want |= demux.WantError
	}
	if want == s.lastInterest {
		return
	}
	s.lastInterest = want
	_ = s.worker.Demux().Arm(s.entry, want)
}

// sliceConstBuffers returns the ConstBuffers remaining after skipping the
// first offset bytes, splitting the buffer that straddles the boundary.
func sliceConstBuffers(bufs []iobuf.ConstBuffer, offset int) []iobuf.ConstBuffer {
	if offset <= 0 {
		return bufs
	}
	for i, b := range bufs {
		if offset < b.Len() {
			out := make([]iobuf.ConstBuffer, 0, len(bufs)-i)
			out = append(out, iobuf.ConstBuffer{Bytes: b.Bytes[offset:]})
			out = append(out, bufs[i+1:]...)
			return out
		}
		offset -= b.Len()
	}
	return nil
}
