// Package sysio is the syscall facade: the only place in this module that
// calls into raw OS socket primitives. It absorbs WouldBlock/Interrupted
// internally where the spec requires (§7 propagation policy) by
// translating EAGAIN/EWOULDBLOCK/EINTR into errs.WouldBlock/errs.Interrupted
// rather than ever returning a bare errno, and leaves the retry decision
// to the caller (the async socket's drain/fill loop).
package sysio

import (
	"time"

	"github.com/joeycumines/go-asynctransport/endpoint"
	"github.com/joeycumines/go-asynctransport/iobuf"
	"github.com/joeycumines/go-asynctransport/sockopt"
)

// Transport selects which socket family/type to open.
type Transport int

const (
	TCP Transport = iota
	UDP
	UnixStream
	UnixDatagram
)

// Handle is the opaque OS descriptor the spec describes: owned by exactly
// one async socket between Open and Close, never duplicated by the core.
// InvalidHandle (-1) is the sentinel "unset" handle; the zero value is
// descriptor 0, which Valid reports as valid.
type Handle int

const InvalidHandle Handle = -1

func (h Handle) Valid() bool { return h >= 0 }

// Socket is the facade's handle to one open OS socket, with the
// blocking/non-blocking BSD-style operations the async layer drives.
type Socket struct {
	fd        Handle
	transport Transport
	zcCounter uint32
}

// FD exposes the raw descriptor for registration with a Demultiplexer.
func (s *Socket) FD() int { return int(s.fd) }

// Open allocates a new non-blocking socket of the given transport.
func Open(transport Transport) (*Socket, error) {
	return open(transport)
}

// Bind binds the socket to endpoint, applying SO_REUSEADDR first when
// reuseAddress is set, per §4.6's bind contract.
func (s *Socket) Bind(ep endpoint.Endpoint, reuseAddress bool) error {
	if reuseAddress {
		_ = s.SetOption(sockopt.WithReuseAddress(true))
	}
	return bind(s, ep)
}

// Listen marks the socket as passive, with the given backlog.
func (s *Socket) Listen(backlog int) error { return listen(s, backlog) }

// Connect issues a non-blocking connect. A WouldBlock-kind error is
// expected and absorbed by the caller's retry/poll loop, not retried
// internally, since a connect's "readiness" is reported by the
// demultiplexer's writable signal, not by this call looping.
func (s *Socket) Connect(ep endpoint.Endpoint) error { return connect(s, ep) }

// Accept accepts one pending connection, returning a new non-blocking
// Socket and the peer's endpoint.
func (s *Socket) Accept() (*Socket, endpoint.Endpoint, error) { return accept(s) }

// Send performs one vectored (writev-style) send of bufs, returning the
// number of bytes actually written. zeroCopy requests kernel zero-copy
// transmission (MSG_ZEROCOPY on Linux) when the transport supports it;
// zeroCopyID is the kernel-assigned correlation id for a zero-copy send,
// valid only when honoredZeroCopy is true.
func (s *Socket) Send(bufs []iobuf.ConstBuffer, zeroCopy bool) (n int, zeroCopyID uint32, honoredZeroCopy bool, err error) {
	return send(s, bufs, zeroCopy)
}

// SendTo is Send's datagram-oriented counterpart: it writes exactly one
// message to the given destination endpoint.
func (s *Socket) SendTo(buf []byte, dst endpoint.Endpoint) (int, error) { return sendTo(s, buf, dst) }

// Receive performs one vectored (readv-style) receive into bufs.
func (s *Socket) Receive(bufs []iobuf.MutableBuffer) (int, error) { return receive(s, bufs) }

// ReceiveFrom is Receive's datagram-oriented counterpart, additionally
// reporting the sender's endpoint and whether the OS indicated the
// datagram was truncated.
func (s *Socket) ReceiveFrom(buf []byte) (n int, from endpoint.Endpoint, truncated bool, err error) {
	return receiveFrom(s, buf)
}

// ReceiveZeroCopyAcknowledgement drains one zero-copy completion
// notification from the socket's error queue, reporting the acknowledged
// id range [from, to]. ok is false when the error queue holds no
// zero-copy notification; a WouldBlock-kind error means the queue is
// empty. Only meaningful on transports where Send can honor zeroCopy.
func (s *Socket) ReceiveZeroCopyAcknowledgement() (from, to uint32, ok bool, err error) {
	return receiveZeroCopyAck(s)
}

// Shutdown half-closes send, receive, or both, per shutdown(2) semantics.
type ShutdownDirection int

const (
	ShutdownSend ShutdownDirection = iota
	ShutdownReceive
	ShutdownBoth
)

func (s *Socket) Shutdown(dir ShutdownDirection) error { return shutdown(s, dir) }

// Close releases the handle. Per §5's scoped-acquisition guarantee, this
// must be reachable from every code path that opened the handle.
func (s *Socket) Close() error { return closeSocket(s) }

// SetOption / GetOption apply or query a typed socket option.
func (s *Socket) SetOption(opt sockopt.Option) error                  { return setOption(s, opt) }
func (s *Socket) GetOption(name sockopt.Name) (sockopt.Option, error) { return getOption(s, name) }

// LocalEndpoint / RemoteEndpoint report the socket's bound/peer address.
func (s *Socket) LocalEndpoint() (endpoint.Endpoint, error)  { return localEndpoint(s) }
func (s *Socket) RemoteEndpoint() (endpoint.Endpoint, error) { return remoteEndpoint(s) }

// PeerCredentials retrieves the connecting process's uid/gid/pid for a
// Unix-domain stream socket (SO_PEERCRED / LOCAL_PEERCRED), per §2 row 3.
type PeerCredentials struct {
	PID int32
	UID uint32
	GID uint32
}

func (s *Socket) PeerCredentials() (PeerCredentials, error) { return peerCredentials(s) }

// JoinMulticastGroup / LeaveMulticastGroup configure a datagram socket's
// multicast membership on the named interface.
func (s *Socket) JoinMulticastGroup(iface string, group endpoint.Endpoint) error {
	return joinMulticastGroup(s, iface, group)
}
func (s *Socket) LeaveMulticastGroup(iface string, group endpoint.Endpoint) error {
	return leaveMulticastGroup(s, iface, group)
}

// deadlineFromNow is a small shared helper for option payloads expressed
// as a duration rather than an absolute time.
func deadlineFromNow(d time.Duration) time.Time { return time.Now().Add(d) }
