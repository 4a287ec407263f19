//go:build windows

package sysio

import (
	"net"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/joeycumines/go-asynctransport/endpoint"
	"github.com/joeycumines/go-asynctransport/errs"
	"github.com/joeycumines/go-asynctransport/iobuf"
	"github.com/joeycumines/go-asynctransport/sockopt"
)

func open(transport Transport) (*Socket, error) {
	domain := windows.AF_INET6
	typ := windows.SOCK_STREAM
	proto := 0
	switch transport {
	case TCP:
		typ = windows.SOCK_STREAM
		proto = windows.IPPROTO_TCP
	case UDP:
		typ = windows.SOCK_DGRAM
		proto = windows.IPPROTO_UDP
	case UnixStream:
		domain = windows.AF_UNIX
		typ = windows.SOCK_STREAM
	case UnixDatagram:
		domain = windows.AF_UNIX
		typ = windows.SOCK_DGRAM
	}
	fd, err := windows.Socket(domain, typ, proto)
	if err != nil {
		if domain == windows.AF_INET6 {
			fd, err = windows.Socket(windows.AF_INET, typ, proto)
		}
		if err != nil {
			return nil, wrapWinErr("open", err)
		}
	}
	if err := setNonblocking(fd); err != nil {
		_ = windows.Closesocket(fd)
		return nil, wrapWinErr("open.nonblock", err)
	}
	return &Socket{fd: Handle(fd), transport: transport}, nil
}

// ioctlsocket/FIONBIO has no wrapper in golang.org/x/sys/windows (it's a
// net-package-internal detail there), so this facade calls ws2_32.dll
// directly, the same way it's done in the handful of low-level Windows
// socket libraries in the wild that need non-blocking mode without the
// rest of package net.
var (
	ws2_32          = windows.NewLazySystemDLL("ws2_32.dll")
	procIoctlSocket = ws2_32.NewProc("ioctlsocket")
)

const fionbio = 0x8004667e

func setNonblocking(fd windows.Handle) error {
	var mode uint32 = 1
	r, _, err := procIoctlSocket.Call(uintptr(fd), uintptr(fionbio), uintptr(unsafe.Pointer(&mode)))
	if r != 0 {
		return err
	}
	return nil
}

func sockaddrOf(ep endpoint.Endpoint) (windows.Sockaddr, error) {
	switch ep.Type() {
	case endpoint.IPv4:
		var sa windows.SockaddrInet4
		copy(sa.Addr[:], ep.IP().To4())
		sa.Port = int(ep.Port())
		return &sa, nil
	case endpoint.IPv6:
		var sa windows.SockaddrInet6
		copy(sa.Addr[:], ep.IP().To16())
		sa.Port = int(ep.Port())
		return &sa, nil
	case endpoint.Local:
		return &windows.SockaddrUnix{Name: ep.Path()}, nil
	default:
		return nil, errs.New(errs.CategoryGeneric, errs.Invalid, "sysio.sockaddr")
	}
}

func endpointOf(sa windows.Sockaddr) (endpoint.Endpoint, error) {
	switch v := sa.(type) {
	case *windows.SockaddrInet4:
		return endpoint.NewIPv4(net.IP(v.Addr[:]), uint16(v.Port)), nil
	case *windows.SockaddrInet6:
		return endpoint.NewIPv6(net.IP(v.Addr[:]), uint16(v.Port), ""), nil
	case *windows.SockaddrUnix:
		return endpoint.NewLocal(v.Name), nil
	default:
		return endpoint.Endpoint{}, errs.New(errs.CategoryGeneric, errs.Invalid, "sysio.endpoint")
	}
}

func bind(s *Socket, ep endpoint.Endpoint) error {
	sa, err := sockaddrOf(ep)
	if err != nil {
		return err
	}
	if err := windows.Bind(windows.Handle(s.fd), sa); err != nil {
		return wrapWinErr("bind", err)
	}
	return nil
}

func listen(s *Socket, backlog int) error {
	if err := windows.Listen(windows.Handle(s.fd), backlog); err != nil {
		return wrapWinErr("listen", err)
	}
	return nil
}

func connect(s *Socket, ep endpoint.Endpoint) error {
	sa, err := sockaddrOf(ep)
	if err != nil {
		return err
	}
	if err := windows.Connect(windows.Handle(s.fd), sa); err != nil {
		return wrapWinErr("connect", err)
	}
	return nil
}

func accept(s *Socket) (*Socket, endpoint.Endpoint, error) {
	fd, sa, err := windows.Accept(windows.Handle(s.fd))
	if err != nil {
		return nil, endpoint.Endpoint{}, wrapWinErr("accept", err)
	}
	if err := setNonblocking(fd); err != nil {
		_ = windows.Closesocket(fd)
		return nil, endpoint.Endpoint{}, wrapWinErr("accept.nonblock", err)
	}
	ep, err := endpointOf(sa)
	if err != nil {
		_ = windows.Closesocket(fd)
		return nil, endpoint.Endpoint{}, err
	}
	return &Socket{fd: Handle(fd), transport: s.transport}, ep, nil
}

// send issues one scatter/gather WSASend. Windows has no MSG_ZEROCOPY
// analogue reachable through golang.org/x/sys/windows; zeroCopy is
// accepted but never honored here, matching the spec's allowance that a
// platform may report honoredZeroCopy=false unconditionally.
func send(s *Socket, bufs []iobuf.ConstBuffer, zeroCopy bool) (int, uint32, bool, error) {
	wsabufs := make([]windows.WSABuf, len(bufs))
	for i, b := range bufs {
		wsabufs[i] = windows.WSABuf{Len: uint32(len(b.Bytes)), Buf: bufPtr(b.Bytes)}
	}
	var sent uint32
	var overlapped windows.Overlapped
	err := windows.WSASend(windows.Handle(s.fd), &wsabufs[0], uint32(len(wsabufs)), &sent, 0, &overlapped, nil)
	if err != nil {
		return 0, 0, false, wrapWinErr("send", err)
	}
	return int(sent), 0, false, nil
}

func sendTo(s *Socket, buf []byte, dst endpoint.Endpoint) (int, error) {
	sa, err := sockaddrOf(dst)
	if err != nil {
		return 0, err
	}
	if err := windows.Sendto(windows.Handle(s.fd), buf, 0, sa); err != nil {
		return 0, wrapWinErr("sendto", err)
	}
	return len(buf), nil
}

func receive(s *Socket, bufs []iobuf.MutableBuffer) (int, error) {
	wsabufs := make([]windows.WSABuf, len(bufs))
	for i, b := range bufs {
		wsabufs[i] = windows.WSABuf{Len: uint32(len(b.Bytes)), Buf: bufPtr(b.Bytes)}
	}
	var received, flags uint32
	var overlapped windows.Overlapped
	err := windows.WSARecv(windows.Handle(s.fd), &wsabufs[0], uint32(len(wsabufs)), &received, &flags, &overlapped, nil)
	if err != nil {
		return 0, wrapWinErr("receive", err)
	}
	if received == 0 {
		return 0, errs.New(errs.CategoryTransport, errs.EOF, "receive")
	}
	return int(received), nil
}

func receiveFrom(s *Socket, buf []byte) (int, endpoint.Endpoint, bool, error) {
	n, sa, err := windows.Recvfrom(windows.Handle(s.fd), buf, 0)
	if err != nil {
		return 0, endpoint.Endpoint{}, false, wrapWinErr("recvfrom", err)
	}
	ep, err := endpointOf(sa)
	if err != nil {
		return 0, endpoint.Endpoint{}, false, err
	}
	return n, ep, false, nil
}

func shutdown(s *Socket, dir ShutdownDirection) error {
	how := windows.SHUT_RDWR
	switch dir {
	case ShutdownSend:
		how = windows.SHUT_WR
	case ShutdownReceive:
		how = windows.SHUT_RD
	}
	if err := windows.Shutdown(windows.Handle(s.fd), how); err != nil {
		return wrapWinErr("shutdown", err)
	}
	return nil
}

func closeSocket(s *Socket) error {
	if !s.fd.Valid() {
		return nil
	}
	err := windows.Closesocket(windows.Handle(s.fd))
	s.fd = InvalidHandle
	if err != nil {
		return wrapWinErr("close", err)
	}
	return nil
}

func localEndpoint(s *Socket) (endpoint.Endpoint, error) {
	sa, err := windows.Getsockname(windows.Handle(s.fd))
	if err != nil {
		return endpoint.Endpoint{}, wrapWinErr("getsockname", err)
	}
	return endpointOf(sa)
}

func remoteEndpoint(s *Socket) (endpoint.Endpoint, error) {
	sa, err := windows.Getpeername(windows.Handle(s.fd))
	if err != nil {
		return endpoint.Endpoint{}, wrapWinErr("getpeername", err)
	}
	return endpointOf(sa)
}

// joinMulticastGroup/leaveMulticastGroup are not implemented on Windows:
// golang.org/x/sys/windows exposes no IP_ADD_MEMBERSHIP wrapper, and the
// spec's multicast row is scoped to POSIX platforms (SPEC_FULL.md §3).
func joinMulticastGroup(*Socket, string, endpoint.Endpoint) error {
	return errs.New(errs.CategoryGeneric, errs.NotImplemented, "sysio.multicast.join")
}

func leaveMulticastGroup(*Socket, string, endpoint.Endpoint) error {
	return errs.New(errs.CategoryGeneric, errs.NotImplemented, "sysio.multicast.leave")
}

func setOption(s *Socket, opt sockopt.Option) error {
	h := windows.Handle(s.fd)
	switch opt.Name() {
	case sockopt.ReuseAddress:
		return setsockoptInt(h, windows.SOL_SOCKET, windows.SO_REUSEADDR, boolInt(opt.Bool()))
	case sockopt.KeepAlive:
		return setsockoptInt(h, windows.SOL_SOCKET, windows.SO_KEEPALIVE, boolInt(opt.Bool()))
	case sockopt.SendBufferSize:
		return setsockoptInt(h, windows.SOL_SOCKET, windows.SO_SNDBUF, opt.Int())
	case sockopt.ReceiveBufferSize:
		return setsockoptInt(h, windows.SOL_SOCKET, windows.SO_RCVBUF, opt.Int())
	case sockopt.Broadcast:
		return setsockoptInt(h, windows.SOL_SOCKET, windows.SO_BROADCAST, boolInt(opt.Bool()))
	case sockopt.Linger:
		lv := opt.LingerValue()
		onoff := uint16(0)
		sec := uint16(0)
		if lv.Enabled {
			onoff = 1
			sec = uint16(lv.Timeout.Seconds())
		}
		linger := windows.Linger{Onoff: onoff, Linger: sec}
		return windows.SetsockoptLinger(h, windows.SOL_SOCKET, windows.SO_LINGER, &linger)
	case sockopt.MulticastTTL:
		return setsockoptInt(h, windows.IPPROTO_IP, windows.IP_MULTICAST_TTL, opt.Int())
	case sockopt.MulticastLoopback:
		return setsockoptInt(h, windows.IPPROTO_IP, windows.IP_MULTICAST_LOOP, boolInt(opt.Bool()))
	default:
		// Cork, DelayAcknowledgement, TcpCongestionControl and ZeroCopy have
		// no stable golang.org/x/sys/windows wrapper; honoring them would
		// require raw WSAIoctl calls outside this facade's grounded scope.
		return errs.New(errs.CategoryGeneric, errs.NotImplemented, "sysio.setoption")
	}
}

func getOption(s *Socket, name sockopt.Name) (sockopt.Option, error) {
	h := windows.Handle(s.fd)
	switch name {
	case sockopt.SendBufferSize:
		v, err := windows.GetsockoptInt(h, windows.SOL_SOCKET, windows.SO_SNDBUF)
		if err != nil {
			return sockopt.Option{}, wrapWinErr("getsockopt", err)
		}
		return sockopt.WithSendBufferSize(v), nil
	case sockopt.ReceiveBufferSize:
		v, err := windows.GetsockoptInt(h, windows.SOL_SOCKET, windows.SO_RCVBUF)
		if err != nil {
			return sockopt.Option{}, wrapWinErr("getsockopt", err)
		}
		return sockopt.WithReceiveBufferSize(v), nil
	case sockopt.KeepAlive:
		v, err := windows.GetsockoptInt(h, windows.SOL_SOCKET, windows.SO_KEEPALIVE)
		if err != nil {
			return sockopt.Option{}, wrapWinErr("getsockopt", err)
		}
		return sockopt.WithKeepAlive(v != 0), nil
	case sockopt.MulticastTTL:
		v, err := windows.GetsockoptInt(h, windows.IPPROTO_IP, windows.IP_MULTICAST_TTL)
		if err != nil {
			return sockopt.Option{}, wrapWinErr("getsockopt", err)
		}
		return sockopt.WithMulticastTTL(v), nil
	case sockopt.MulticastLoopback:
		v, err := windows.GetsockoptInt(h, windows.IPPROTO_IP, windows.IP_MULTICAST_LOOP)
		if err != nil {
			return sockopt.Option{}, wrapWinErr("getsockopt", err)
		}
		return sockopt.WithMulticastLoopback(v != 0), nil
	default:
		return sockopt.Option{}, errs.New(errs.CategoryGeneric, errs.NotImplemented, "sysio.getoption")
	}
}

func peerCredentials(*Socket) (PeerCredentials, error) {
	// Windows has no SO_PEERCRED analogue for AF_UNIX sockets reachable
	// through golang.org/x/sys/windows; per SPEC_FULL.md §3 row 3 this is
	// a POSIX-only capability.
	return PeerCredentials{}, errs.New(errs.CategoryGeneric, errs.NotImplemented, "sysio.peercredentials")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func setsockoptInt(h windows.Handle, level, name, value int) error {
	if err := windows.SetsockoptInt(h, level, name, value); err != nil {
		return wrapWinErr("setsockopt", err)
	}
	return nil
}

func bufPtr(b []byte) *byte {
	if len(b) == 0 {
		return nil
	}
	return (*byte)(unsafe.Pointer(&b[0]))
}

func wrapWinErr(op string, err error) error {
	errno, _ := err.(windows.Errno)
	switch errno {
	case windows.WSAEWOULDBLOCK:
		return errs.WithCode(errs.WouldBlock, op, int(errno), err)
	case windows.WSAEINTR:
		return errs.WithCode(errs.Interrupted, op, int(errno), err)
	case windows.WSAEINPROGRESS:
		return errs.WithCode(errs.WouldBlock, op, int(errno), err)
	case windows.WSAECONNREFUSED:
		return errs.WithCode(errs.ConnectionRefused, op, int(errno), err)
	case windows.WSAECONNRESET:
		return errs.WithCode(errs.ConnectionReset, op, int(errno), err)
	case windows.WSAESHUTDOWN, windows.WSAENOTCONN:
		return errs.WithCode(errs.ConnectionDead, op, int(errno), err)
	case windows.WSAEADDRINUSE:
		return errs.WithCode(errs.AddressInUse, op, int(errno), err)
	case windows.WSAEADDRNOTAVAIL:
		return errs.WithCode(errs.AddressNotAvailable, op, int(errno), err)
	case windows.WSAENOBUFS:
		return errs.WithCode(errs.NoMemory, op, int(errno), err)
	case windows.WSAENETUNREACH, windows.WSAEHOSTUNREACH:
		return errs.WithCode(errs.Unreachable, op, int(errno), err)
	default:
		return errs.WithCode(errs.Unreachable, op, int(errno), err)
	}
}
