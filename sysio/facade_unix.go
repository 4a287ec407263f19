//go:build linux || darwin

package sysio

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-asynctransport/endpoint"
	"github.com/joeycumines/go-asynctransport/errs"
	"github.com/joeycumines/go-asynctransport/iobuf"
	"github.com/joeycumines/go-asynctransport/sockopt"
)

func open(transport Transport) (*Socket, error) {
	domain := unix.AF_INET6
	typ := unix.SOCK_STREAM
	proto := 0
	switch transport {
	case TCP:
		typ = unix.SOCK_STREAM
	case UDP:
		typ = unix.SOCK_DGRAM
	case UnixStream:
		domain = unix.AF_UNIX
		typ = unix.SOCK_STREAM
	case UnixDatagram:
		domain = unix.AF_UNIX
		typ = unix.SOCK_DGRAM
	}
	fd, err := unix.Socket(domain, typ|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, proto)
	if err != nil {
		// Dual-stack v6 sockets aren't always available; fall back to v4.
		if domain == unix.AF_INET6 {
			fd, err = unix.Socket(unix.AF_INET, typ|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, proto)
		}
		if err != nil {
			return nil, wrapErrno("open", err)
		}
	}
	return &Socket{fd: Handle(fd), transport: transport}, nil
}

func sockaddrOf(ep endpoint.Endpoint) (unix.Sockaddr, error) {
	switch ep.Type() {
	case endpoint.IPv4:
		var sa unix.SockaddrInet4
		copy(sa.Addr[:], ep.IP().To4())
		sa.Port = int(ep.Port())
		return &sa, nil
	case endpoint.IPv6:
		var sa unix.SockaddrInet6
		copy(sa.Addr[:], ep.IP().To16())
		sa.Port = int(ep.Port())
		return &sa, nil
	case endpoint.Local:
		return &unix.SockaddrUnix{Name: ep.Path()}, nil
	default:
		return nil, errs.New(errs.CategoryGeneric, errs.Invalid, "sysio.sockaddr")
	}
}

func endpointOf(sa unix.Sockaddr) (endpoint.Endpoint, error) {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return endpoint.NewIPv4(net.IP(v.Addr[:]), uint16(v.Port)), nil
	case *unix.SockaddrInet6:
		return endpoint.NewIPv6(net.IP(v.Addr[:]), uint16(v.Port), ""), nil
	case *unix.SockaddrUnix:
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
	if err := unix.Bind(int(s.fd), sa); err != nil {
		return wrapErrno("bind", err)
	}
	return nil
}

func listen(s *Socket, backlog int) error {
	if err := unix.Listen(int(s.fd), backlog); err != nil {
		return wrapErrno("listen", err)
	}
	return nil
}

func connect(s *Socket, ep endpoint.Endpoint) error {
	sa, err := sockaddrOf(ep)
	if err != nil {
		return err
	}
	if err := unix.Connect(int(s.fd), sa); err != nil {
		return wrapErrno("connect", err)
	}
	return nil
}

func accept(s *Socket) (*Socket, endpoint.Endpoint, error) {
	fd, sa, err := unix.Accept4(int(s.fd), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return nil, endpoint.Endpoint{}, wrapErrno("accept", err)
	}
	ep, err := endpointOf(sa)
	if err != nil {
		_ = unix.Close(fd)
		return nil, endpoint.Endpoint{}, err
	}
	return &Socket{fd: Handle(fd), transport: s.transport}, ep, nil
}

func send(s *Socket, bufs []iobuf.ConstBuffer, zeroCopy bool) (int, uint32, bool, error) {
	iovs := make([][]byte, len(bufs))
	for i, b := range bufs {
		iovs[i] = b.Bytes
	}
	// MSG_ZEROCOPY's completion notification arrives later via a
	// SO_EE_ORIGIN_ZEROCOPY error-queue entry, surfaced to the caller as
	// an error-class poll event and drained with
	// ReceiveZeroCopyAcknowledgement.
	if zeroCopy && unixMsgZeroCopy != 0 && (s.transport == TCP || s.transport == UDP) {
		n, id, err := sendZeroCopy(s, iovs)
		if err != nil {
			return 0, 0, false, err
		}
		return n, id, true, nil
	}
	n, err := unix.Writev(int(s.fd), iovs)
	if err != nil {
		return 0, 0, false, wrapErrno("send", err)
	}
	return n, 0, false, nil
}

func sendTo(s *Socket, buf []byte, dst endpoint.Endpoint) (int, error) {
	sa, err := sockaddrOf(dst)
	if err != nil {
		return 0, err
	}
	if err := unix.Sendto(int(s.fd), buf, 0, sa); err != nil {
		return 0, wrapErrno("sendto", err)
	}
	return len(buf), nil
}

func receive(s *Socket, bufs []iobuf.MutableBuffer) (int, error) {
	iovs := make([][]byte, len(bufs))
	for i, b := range bufs {
		iovs[i] = b.Bytes
	}
	n, err := unix.Readv(int(s.fd), iovs)
	if err != nil {
		return 0, wrapErrno("receive", err)
	}
	if n == 0 {
		return 0, errs.New(errs.CategoryTransport, errs.EOF, "receive")
	}
	return n, nil
}

func receiveFrom(s *Socket, buf []byte) (int, endpoint.Endpoint, bool, error) {
	n, _, oobFlags, sa, err := unix.Recvmsg(int(s.fd), buf, nil, 0)
	if err != nil {
		return 0, endpoint.Endpoint{}, false, wrapErrno("recvfrom", err)
	}
	ep, err := endpointOf(sa)
	if err != nil {
		return 0, endpoint.Endpoint{}, false, err
	}
	truncated := oobFlags&unix.MSG_TRUNC != 0
	return n, ep, truncated, nil
}

func shutdown(s *Socket, dir ShutdownDirection) error {
	how := unix.SHUT_RDWR
	switch dir {
	case ShutdownSend:
		how = unix.SHUT_WR
	case ShutdownReceive:
		how = unix.SHUT_RD
	}
	if err := unix.Shutdown(int(s.fd), how); err != nil {
		return wrapErrno("shutdown", err)
	}
	return nil
}

func closeSocket(s *Socket) error {
	if !s.fd.Valid() {
		return nil
	}
	err := unix.Close(int(s.fd))
	s.fd = InvalidHandle
	if err != nil {
		return wrapErrno("close", err)
	}
	return nil
}

func localEndpoint(s *Socket) (endpoint.Endpoint, error) {
	sa, err := unix.Getsockname(int(s.fd))
	if err != nil {
		return endpoint.Endpoint{}, wrapErrno("getsockname", err)
	}
	return endpointOf(sa)
}

func remoteEndpoint(s *Socket) (endpoint.Endpoint, error) {
	sa, err := unix.Getpeername(int(s.fd))
	if err != nil {
		return endpoint.Endpoint{}, wrapErrno("getpeername", err)
	}
	return endpointOf(sa)
}

func joinMulticastGroup(s *Socket, iface string, group endpoint.Endpoint) error {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return errs.Wrap(errs.CategorySystem, errs.Invalid, "sysio.multicast.iface", err)
	}
	if group.Type() == endpoint.IPv4 {
		mreq := &unix.IPMreq{}
		copy(mreq.Multiaddr[:], group.IP().To4())
		return setsockoptErr(s, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq)
	}
	mreq := &unix.IPv6Mreq{Interface: uint32(ifi.Index)}
	copy(mreq.Multiaddr[:], group.IP().To16())
	return setsockoptErr(s, unix.IPPROTO_IPV6, unix.IPV6_JOIN_GROUP, mreq)
}

func leaveMulticastGroup(s *Socket, iface string, group endpoint.Endpoint) error {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return errs.Wrap(errs.CategorySystem, errs.Invalid, "sysio.multicast.iface", err)
	}
	if group.Type() == endpoint.IPv4 {
		mreq := &unix.IPMreq{}
		copy(mreq.Multiaddr[:], group.IP().To4())
		return setsockoptErr(s, unix.IPPROTO_IP, unix.IP_DROP_MEMBERSHIP, mreq)
	}
	mreq := &unix.IPv6Mreq{Interface: uint32(ifi.Index)}
	copy(mreq.Multiaddr[:], group.IP().To16())
	return setsockoptErr(s, unix.IPPROTO_IPV6, unix.IPV6_LEAVE_GROUP, mreq)
}

func setOption(s *Socket, opt sockopt.Option) error {
	switch opt.Name() {
	case sockopt.ReuseAddress:
		return setsockoptInt(s, unix.SOL_SOCKET, unix.SO_REUSEADDR, boolInt(opt.Bool()))
	case sockopt.KeepAlive:
		return setsockoptInt(s, unix.SOL_SOCKET, unix.SO_KEEPALIVE, boolInt(opt.Bool()))
	case sockopt.SendBufferSize:
		return setsockoptInt(s, unix.SOL_SOCKET, unix.SO_SNDBUF, opt.Int())
	case sockopt.ReceiveBufferSize:
		return setsockoptInt(s, unix.SOL_SOCKET, unix.SO_RCVBUF, opt.Int())
	case sockopt.Debug:
		return setsockoptInt(s, unix.SOL_SOCKET, unix.SO_DEBUG, boolInt(opt.Bool()))
	case sockopt.Broadcast:
		return setsockoptInt(s, unix.SOL_SOCKET, unix.SO_BROADCAST, boolInt(opt.Bool()))
	case sockopt.Linger:
		lv := opt.LingerValue()
		sec := 0
		onoff := 0
		if lv.Enabled {
			onoff = 1
			sec = int(lv.Timeout.Seconds())
		}
		return setsockoptErr(s, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: int32(onoff), Linger: int32(sec)})
	case sockopt.InlineOutOfBandData:
		return setsockoptInt(s, unix.SOL_SOCKET, unix.SO_OOBINLINE, boolInt(opt.Bool()))
	case sockopt.DelayAcknowledgement:
		return setsockoptInt(s, unix.IPPROTO_TCP, tcpQuickAck, boolInt(!opt.Bool()))
	case sockopt.DelayTransmission, sockopt.Cork:
		return setsockoptInt(s, unix.IPPROTO_TCP, tcpCork, boolInt(opt.Bool()))
	case sockopt.BypassRouting:
		return setsockoptInt(s, unix.SOL_SOCKET, unix.SO_DONTROUTE, boolInt(opt.Bool()))
	case sockopt.TcpCongestionControl:
		return setsockoptStr(s, unix.IPPROTO_TCP, tcpCongestion, opt.String())
	case sockopt.ZeroCopy:
		return setsockoptInt(s, unix.SOL_SOCKET, soZeroCopy, boolInt(opt.Bool()))
	case sockopt.RxTimestamping, sockopt.TxTimestamping:
		return setsockoptInt(s, unix.SOL_SOCKET, unix.SO_TIMESTAMPNS, boolInt(opt.Bool()))
	case sockopt.MulticastTTL:
		if err := setsockoptInt(s, unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, opt.Int()); err != nil {
			return err
		}
		return setsockoptInt(s, unix.IPPROTO_IPV6, unix.IPV6_MULTICAST_HOPS, opt.Int())
	case sockopt.MulticastLoopback:
		if err := setsockoptInt(s, unix.IPPROTO_IP, unix.IP_MULTICAST_LOOP, boolInt(opt.Bool())); err != nil {
			return err
		}
		return setsockoptInt(s, unix.IPPROTO_IPV6, unix.IPV6_MULTICAST_LOOP, boolInt(opt.Bool()))
	default:
		return errs.New(errs.CategoryGeneric, errs.NotImplemented, "sysio.setoption")
	}
}

func getOption(s *Socket, name sockopt.Name) (sockopt.Option, error) {
	switch name {
	case sockopt.SendBufferSize:
		v, err := unix.GetsockoptInt(int(s.fd), unix.SOL_SOCKET, unix.SO_SNDBUF)
		if err != nil {
			return sockopt.Option{}, wrapErrno("getsockopt", err)
		}
		return sockopt.WithSendBufferSize(v), nil
	case sockopt.ReceiveBufferSize:
		v, err := unix.GetsockoptInt(int(s.fd), unix.SOL_SOCKET, unix.SO_RCVBUF)
		if err != nil {
			return sockopt.Option{}, wrapErrno("getsockopt", err)
		}
		return sockopt.WithReceiveBufferSize(v), nil
	case sockopt.KeepAlive:
		v, err := unix.GetsockoptInt(int(s.fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE)
		if err != nil {
			return sockopt.Option{}, wrapErrno("getsockopt", err)
		}
		return sockopt.WithKeepAlive(v != 0), nil
	case sockopt.MulticastTTL:
		v, err := unix.GetsockoptInt(int(s.fd), unix.IPPROTO_IP, unix.IP_MULTICAST_TTL)
		if err != nil {
			return sockopt.Option{}, wrapErrno("getsockopt", err)
		}
		return sockopt.WithMulticastTTL(v), nil
	case sockopt.MulticastLoopback:
		v, err := unix.GetsockoptInt(int(s.fd), unix.IPPROTO_IP, unix.IP_MULTICAST_LOOP)
		if err != nil {
			return sockopt.Option{}, wrapErrno("getsockopt", err)
		}
		return sockopt.WithMulticastLoopback(v != 0), nil
	default:
		return sockopt.Option{}, errs.New(errs.CategoryGeneric, errs.NotImplemented, "sysio.getoption")
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func setsockoptInt(s *Socket, level, name, value int) error {
	if err := unix.SetsockoptInt(int(s.fd), level, name, value); err != nil {
		return wrapErrno("setsockopt", err)
	}
	return nil
}

func setsockoptStr(s *Socket, level, name int, value string) error {
	if err := unix.SetsockoptString(int(s.fd), level, name, value); err != nil {
		return wrapErrno("setsockopt", err)
	}
	return nil
}

func setsockoptErr(s *Socket, level, name int, v any) error {
	var err error
	switch val := v.(type) {
	case *unix.Linger:
		err = unix.SetsockoptLinger(int(s.fd), level, name, val)
	case *unix.IPMreq:
		err = unix.SetsockoptIPMreq(int(s.fd), level, name, val)
	case *unix.IPv6Mreq:
		err = unix.SetsockoptIPv6Mreq(int(s.fd), level, name, val)
	default:
		err = errs.New(errs.CategoryGeneric, errs.Invalid, "sysio.setsockopt")
	}
	if err != nil {
		return wrapErrno("setsockopt", err)
	}
	return nil
}

func wrapErrno(op string, err error) error {
	errno, _ := err.(unix.Errno)
	switch errno {
	case unix.EAGAIN:
		return errs.WithCode(errs.WouldBlock, op, int(errno), err)
	case unix.EINTR:
		return errs.WithCode(errs.Interrupted, op, int(errno), err)
	case unix.EINPROGRESS:
		return errs.WithCode(errs.WouldBlock, op, int(errno), err)
	case unix.ECONNREFUSED:
		return errs.WithCode(errs.ConnectionRefused, op, int(errno), err)
	case unix.ECONNRESET:
		return errs.WithCode(errs.ConnectionReset, op, int(errno), err)
	case unix.EPIPE, unix.ENOTCONN:
		return errs.WithCode(errs.ConnectionDead, op, int(errno), err)
	case unix.EADDRINUSE:
		return errs.WithCode(errs.AddressInUse, op, int(errno), err)
	case unix.EADDRNOTAVAIL:
		return errs.WithCode(errs.AddressNotAvailable, op, int(errno), err)
	case unix.ENOMEM, unix.ENOBUFS:
		return errs.WithCode(errs.NoMemory, op, int(errno), err)
	case unix.ENETUNREACH, unix.EHOSTUNREACH:
		return errs.WithCode(errs.Unreachable, op, int(errno), err)
	default:
		return errs.WithCode(errs.Unreachable, op, int(errno), err)
	}
}
