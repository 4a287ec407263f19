package asocket

import (
	"time"

	"github.com/joeycumines/go-asynctransport/demux"
	"github.com/joeycumines/go-asynctransport/endpoint"
	"github.com/joeycumines/go-asynctransport/errs"
	"github.com/joeycumines/go-asynctransport/flowctl"
	"github.com/joeycumines/go-asynctransport/iobuf"
	"github.com/joeycumines/go-asynctransport/ratelimit"
	"github.com/joeycumines/go-asynctransport/sockopt"
	"github.com/joeycumines/go-asynctransport/sysio"
)

// maxDatagramSize bounds the per-message scratch buffer used for receive;
// anything larger is reported via ReceiveContext.Truncation.
const maxDatagramSize = 64 * 1024

// DatagramSendOptions configures one Datagram.Send call.
type DatagramSendOptions struct {
	Destination endpoint.Endpoint
	Deadline    time.Time
	Token       Token
	ZeroCopy    bool
}

// DatagramReceiveOptions configures one Datagram.Receive call.
type DatagramReceiveOptions struct {
	Deadline time.Time
	Token    Token
}

// ReceiveContext reports per-message metadata delivered alongside a
// received datagram, per §4.8.
type ReceiveContext struct {
	Endpoint          endpoint.Endpoint
	ForeignEndpoint   endpoint.Endpoint
	Truncation        bool
	Timestamp         time.Time
	SoftwareTimestamp time.Time
	HardwareTimestamp time.Time
}

// MulticastOptions configures a Datagram socket's multicast membership and
// transmission behavior at construction time.
type MulticastOptions struct {
	JoinGroups        []endpoint.Endpoint
	Interface         string
	MulticastTTL      int
	MulticastLoopback bool
}

// DatagramOptions configures a Datagram at construction time.
type DatagramOptions struct {
	Transport               sysio.Transport
	ReadQueueLowWatermark   int
	ReadQueueHighWatermark  int
	WriteQueueLowWatermark  int
	WriteQueueHighWatermark int
	SendRateLimiter         *ratelimit.RateLimiter
	ReceiveRateLimiter      *ratelimit.RateLimiter
	Multicast               MulticastOptions
	Hooks                   Hooks
}

type datagramWriteEntry struct {
	seq      uint64
	data     iobuf.Data
	dest     endpoint.Endpoint
	opts     DatagramSendOptions
	callback func(error)
	deadline deadlineTimer
}

type datagramReceiveEntry struct {
	seq      uint64
	opts     DatagramReceiveOptions
	callback func(iobuf.Data, ReceiveContext, error)
	deadline deadlineTimer
}

type datagramMessage struct {
	data iobuf.Data
	ctx  ReceiveContext
}

// Datagram is the asynchronous message-oriented socket described by §4.8.
// Unlike Stream, each queue entry is a whole message: partial sends/
// receives don't occur, so there is no byte-level gather/fill loop, only
// a one-message-at-a-time send/receive pump.
type Datagram struct {
	worker Worker
	opts   DatagramOptions
	sock   *sysio.Socket
	entry  *demux.RegistryEntry

	openState flowctl.OpenStateMachine
	sendFlow  flowctl.State
	recvFlow  flowctl.State

	writeQueue     []datagramWriteEntry
	readQueue      []datagramMessage
	pendingReceive []datagramReceiveEntry

	wqWatermark watermarkTracker
	rqWatermark watermarkTracker
	sendGate    rateLimitGate
	recvGate    rateLimitGate

	lastInterest demux.Interest
	nextSeq      uint64
}

// NewDatagram opens a new non-blocking datagram socket and attaches it
// (with no interest yet) to worker's demultiplexer, joining any
// configured multicast groups.
func NewDatagram(worker Worker, opts DatagramOptions) (*Datagram, error) {
	sock, err := sysio.Open(opts.Transport)
	if err != nil {
		return nil, err
	}
	d := &Datagram{
		worker:      worker,
		opts:        opts,
		sock:        sock,
		wqWatermark: newWatermarkTracker(opts.WriteQueueLowWatermark, opts.WriteQueueHighWatermark),
		rqWatermark: newWatermarkTracker(opts.ReadQueueLowWatermark, opts.ReadQueueHighWatermark),
		sendGate:    rateLimitGate{limiter: opts.SendRateLimiter},
		recvGate:    rateLimitGate{limiter: opts.ReceiveRateLimiter},
	}
	d.sendFlow = *flowctl.New()
	d.recvFlow = *flowctl.New()
	d.openState.Store(flowctl.Default)
	if opts.Multicast.MulticastTTL > 0 {
		_ = sock.SetOption(sockopt.WithMulticastTTL(opts.Multicast.MulticastTTL))
	}
	_ = sock.SetOption(sockopt.WithMulticastLoopback(opts.Multicast.MulticastLoopback))
	for _, group := range opts.Multicast.JoinGroups {
		if err := sock.JoinMulticastGroup(opts.Multicast.Interface, group); err != nil {
			_ = sock.Close()
			return nil, err
		}
	}
	entry, err := worker.Demux().Attach(sock.FD(), 0, demux.Level, false, d)
	if err != nil {
		_ = sock.Close()
		return nil, err
	}
	entry.Rearm = datagramRearmer{d}
	d.entry = entry
	d.openState.Store(flowctl.Connected)
	d.updateInterest()
	return d, nil
}

// datagramRearmer mirrors streamRearmer for the datagram socket's two
// flow-control states.
type datagramRearmer struct{ d *Datagram }

func (r datagramRearmer) Rearm() (wantSend, wantReceive bool) {
	wantSend, _ = r.d.sendFlow.Rearm()
	_, wantReceive = r.d.recvFlow.Rearm()
	return wantSend, wantReceive
}

// Bind binds the datagram socket's local endpoint.
func (d *Datagram) Bind(ep endpoint.Endpoint, reuseAddress bool) error {
	return d.sock.Bind(ep, reuseAddress)
}

// Connect fixes the peer endpoint so subsequent Send calls may omit
// DatagramSendOptions.Destination.
func (d *Datagram) Connect(ep endpoint.Endpoint) error {
	return d.sock.Connect(ep)
}

// JoinMulticastGroup and LeaveMulticastGroup adjust multicast membership
// after construction.
func (d *Datagram) JoinMulticastGroup(iface string, group endpoint.Endpoint) error {
	return d.sock.JoinMulticastGroup(iface, group)
}

func (d *Datagram) LeaveMulticastGroup(iface string, group endpoint.Endpoint) error {
	return d.sock.LeaveMulticastGroup(iface, group)
}

// OnEvent implements demux.Socket.
func (d *Datagram) OnEvent(readable, writable bool, err error) {
	d.worker.Strand().Execute(func() {
		if err != nil {
			d.fail(err)
			return
		}
		if writable {
			d.drain()
		}
		if readable {
			d.fill()
		}
	})
}

// Send enqueues one datagram for transmission. A locked send direction
// rejects outright; a disabled-but-unlocked one still enqueues, and the
// message goes out once flow control relaxes.
func (d *Datagram) Send(data iobuf.Data, opts DatagramSendOptions, callback func(error)) error {
	if d.sendFlow.LockedSend() {
		return errs.New(errs.CategoryTransport, errs.WouldFlowControl, "datagram.send")
	}
	d.worker.Strand().Execute(func() {
		d.nextSeq++
		seq := d.nextSeq
		entry := datagramWriteEntry{seq: seq, data: data, dest: opts.Destination, opts: opts, callback: callback}
		d.writeQueue = append(d.writeQueue, entry)
		if !opts.Deadline.IsZero() {
			d.writeQueue[len(d.writeQueue)-1].deadline = armDeadline(d.worker.Chronology(), opts.Deadline, func() {
				d.cancelWriteSeq(seq, errs.New(errs.CategoryTransport, errs.Cancelled, "datagram.send.deadline"))
			})
		}
		if _, high := d.wqWatermark.update(len(d.writeQueue)); high {
			d.opts.Hooks.watermark(WriteQueueHighWatermark)
		}
		d.drain()
	})
	return nil
}

func (d *Datagram) cancelWriteSeq(seq uint64, cause error) {
	for i := range d.writeQueue {
		if d.writeQueue[i].seq == seq {
			d.cancelWriteEntry(i, cause)
			return
		}
	}
}

func (d *Datagram) cancelWriteEntry(idx int, cause error) {
	if idx < 0 || idx >= len(d.writeQueue) {
		return
	}
	e := d.writeQueue[idx]
	d.writeQueue = append(d.writeQueue[:idx], d.writeQueue[idx+1:]...)
	e.deadline.cancel(time.Now())
	if e.callback != nil {
		e.callback(cause)
	}
}

// drain sends whole datagrams off the head of the write queue while the
// socket is writable; each message is atomic, so a partial write is
// treated as a failure of that message rather than being resumed.
func (d *Datagram) drain() {
	if !d.sendFlow.WantSend() {
		return
	}
	now := time.Now()
	for len(d.writeQueue) > 0 {
		if d.sendGate.check(now, d.worker.Chronology(), func() {
			d.opts.Hooks.watermark(WriteQueueRateLimitRelaxed)
			d.drain()
		}) {
			return
		}
		head := d.writeQueue[0]
		buf := flattenConstBuffers(head.data.ConstBuffers())
		var (
			n   int
			err error
		)
		if head.dest.IsDefined() {
			n, err = d.sock.SendTo(buf, head.dest)
		} else {
			n, _, _, err = d.sock.Send([]iobuf.ConstBuffer{{Bytes: buf}}, head.opts.ZeroCopy)
		}
		if err == nil && n < len(buf) {
			err = errs.New(errs.CategoryTransport, errs.Limit, "datagram.send")
		}
		if err != nil {
			if errs.Retryable(err) {
				return
			}
			d.completeWriteHead(err)
			continue
		}
		if d.sendGate.limiter != nil {
			d.sendGate.limiter.Submit(float64(len(buf)), now)
		}
		d.completeWriteHead(nil)
	}
}

func (d *Datagram) completeWriteHead(err error) {
	if len(d.writeQueue) == 0 {
		return
	}
	e := d.writeQueue[0]
	d.writeQueue = d.writeQueue[1:]
	e.deadline.cancel(time.Now())
	if low, _ := d.wqWatermark.update(len(d.writeQueue)); low {
		d.opts.Hooks.watermark(WriteQueueLowWatermark)
	}
	if e.callback != nil {
		e.callback(err)
	}
}

// Receive requests the next datagram, completing synchronously if one is
// already queued.
func (d *Datagram) Receive(opts DatagramReceiveOptions, callback func(iobuf.Data, ReceiveContext, error)) error {
	if d.recvFlow.LockedReceive() {
		return errs.New(errs.CategoryTransport, errs.WouldFlowControl, "datagram.receive")
	}
	d.worker.Strand().Execute(func() {
		if len(d.readQueue) > 0 {
			head := d.readQueue[0]
			d.readQueue = d.readQueue[1:]
			if low, _ := d.rqWatermark.update(len(d.readQueue)); low {
				d.opts.Hooks.watermark(ReadQueueLowWatermark)
			}
			if callback != nil {
				callback(head.data, head.ctx, nil)
			}
			return
		}
		d.nextSeq++
		seq := d.nextSeq
		entry := datagramReceiveEntry{seq: seq, opts: opts, callback: callback}
		d.pendingReceive = append(d.pendingReceive, entry)
		if !opts.Deadline.IsZero() {
			d.pendingReceive[len(d.pendingReceive)-1].deadline = armDeadline(d.worker.Chronology(), opts.Deadline, func() {
				d.cancelReceiveSeq(seq, errs.New(errs.CategoryTransport, errs.Cancelled, "datagram.receive.deadline"))
			})
		}
	})
	return nil
}

func (d *Datagram) cancelReceiveSeq(seq uint64, cause error) {
	for i := range d.pendingReceive {
		if d.pendingReceive[i].seq == seq {
			d.cancelReceiveEntry(i, cause)
			return
		}
	}
}

func (d *Datagram) cancelReceiveEntry(idx int, cause error) {
	if idx < 0 || idx >= len(d.pendingReceive) {
		return
	}
	e := d.pendingReceive[idx]
	d.pendingReceive = append(d.pendingReceive[:idx], d.pendingReceive[idx+1:]...)
	e.deadline.cancel(time.Now())
	if e.callback != nil {
		e.callback(iobuf.Data{}, ReceiveContext{}, cause)
	}
}

// fill reads whatever datagrams are available, queuing each (or handing
// it straight to the oldest pending receive) per §4.8.
func (d *Datagram) fill() {
	if !d.recvFlow.WantReceive() {
		return
	}
	now := time.Now()
	if d.recvGate.check(now, d.worker.Chronology(), func() {
		d.opts.Hooks.watermark(ReadQueueRateLimitRelaxed)
		d.fill()
	}) {
		return
	}
	for {
		scratch := make([]byte, maxDatagramSize)
		n, from, truncated, err := d.sock.ReceiveFrom(scratch)
		if err != nil {
			if errs.Retryable(err) {
				return
			}
			d.fail(err)
			return
		}
		if d.recvGate.limiter != nil {
			d.recvGate.limiter.Submit(float64(n), now)
		}
		msg := iobuf.FromBytes(scratch[:n])
		ctx := ReceiveContext{ForeignEndpoint: from, Truncation: truncated, Timestamp: now}
		if len(d.pendingReceive) > 0 {
			e := d.pendingReceive[0]
			d.pendingReceive = d.pendingReceive[1:]
			e.deadline.cancel(now)
			if e.callback != nil {
				e.callback(msg, ctx, nil)
			}
			continue
		}
		d.readQueue = append(d.readQueue, datagramMessage{data: msg, ctx: ctx})
		if _, high := d.rqWatermark.update(len(d.readQueue)); high {
			d.opts.Hooks.watermark(ReadQueueHighWatermark)
		}
	}
}

// Cancel completes any pending send/receive whose Token matches with
// errs.Cancelled.
func (d *Datagram) Cancel(token Token) {
	d.worker.Strand().Execute(func() {
		for i := len(d.writeQueue) - 1; i >= 0; i-- {
			if d.writeQueue[i].opts.Token == token {
				d.cancelWriteEntry(i, errs.New(errs.CategoryTransport, errs.Cancelled, "datagram.cancel"))
			}
		}
		for i := len(d.pendingReceive) - 1; i >= 0; i-- {
			if d.pendingReceive[i].opts.Token == token {
				d.cancelReceiveEntry(i, errs.New(errs.CategoryTransport, errs.Cancelled, "datagram.cancel"))
			}
		}
	})
}

// ApplyFlowControl / RelaxFlowControl mirror Stream's flow-control toggles.
func (d *Datagram) ApplyFlowControl(dir flowctl.Direction, lock bool) {
	d.worker.Strand().Execute(func() {
		if dir == flowctl.Send || dir == flowctl.Both {
			d.sendFlow.Apply(flowctl.Send, lock)
		}
		if dir == flowctl.Receive || dir == flowctl.Both {
			d.recvFlow.Apply(flowctl.Receive, lock)
		}
		d.updateInterest()
	})
}

func (d *Datagram) RelaxFlowControl(dir flowctl.Direction, unlock bool) {
	d.worker.Strand().Execute(func() {
		if dir == flowctl.Send || dir == flowctl.Both {
			d.sendFlow.Relax(flowctl.Send, unlock)
		}
		if dir == flowctl.Receive || dir == flowctl.Both {
			d.recvFlow.Relax(flowctl.Receive, unlock)
		}
		d.updateInterest()
		if len(d.writeQueue) > 0 {
			d.drain()
		}
	})
}

func (d *Datagram) fail(cause error) {
	for _, e := range d.writeQueue {
		e.deadline.cancel(time.Now())
		if e.callback != nil {
			e.callback(cause)
		}
	}
	d.writeQueue = nil
	for _, e := range d.pendingReceive {
		e.deadline.cancel(time.Now())
		if e.callback != nil {
			e.callback(iobuf.Data{}, ReceiveContext{}, cause)
		}
	}
	d.pendingReceive = nil
	if d.opts.Hooks.OnError != nil {
		d.opts.Hooks.OnError(cause)
	}
	d.detach()
}

func (d *Datagram) detach() {
	if d.openState.Load() == flowctl.Closed {
		return
	}
	d.openState.ForceClosed()
	d.worker.Demux().Detach(d.entry, func() {
		_ = d.sock.Close()
	})
}

// Close forcibly tears down the datagram socket, discarding any pending
// operations.
func (d *Datagram) Close() error {
	d.worker.Strand().Execute(func() {
		d.fail(errs.New(errs.CategoryGeneric, errs.Invalid, "datagram.close"))
	})
	return nil
}

func (d *Datagram) LocalEndpoint() (endpoint.Endpoint, error)  { return d.sock.LocalEndpoint() }
func (d *Datagram) RemoteEndpoint() (endpoint.Endpoint, error) { return d.sock.RemoteEndpoint() }

func (d *Datagram) SetOption(opt sockopt.Option) error { return d.sock.SetOption(opt) }
func (d *Datagram) GetOption(name sockopt.Name) (sockopt.Option, error) {
	return d.sock.GetOption(name)
}

func (d *Datagram) updateInterest() {
	var want demux.Interest
	if d.openState.Load() != flowctl.Connected {
		if want != d.lastInterest {
			d.lastInterest = want
			_ = d.worker.Demux().Arm(d.entry, want)
		}
		return
	}
	if d.recvFlow.WantReceive() {
		want |= demux.WantReadable
	}
	if len(d.writeQueue) > 0 && d.sendFlow.WantSend() {
		want |= demux.WantWritable
	}
	want |= demux.WantError
	if want == d.lastInterest {
		return
	}
	d.lastInterest = want
	_ = d.worker.Demux().Arm(d.entry, want)
}
