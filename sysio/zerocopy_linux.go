//go:build linux

package sysio

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-asynctransport/errs"
)

// sendZeroCopy issues one MSG_ZEROCOPY sendmsg. The kernel pins the pages
// referenced by iovs and assigns the send an id: a per-socket counter that
// starts at 0 and increments by one for every zero-copy send that makes
// it into the kernel, which is exactly the numbering SO_EE_ORIGIN_ZEROCOPY
// error-queue notifications later report back as [Info, Data] ranges. The
// facade mirrors that counter in s.zcCounter so it can hand the id to the
// caller without a round trip.
func sendZeroCopy(s *Socket, iovs [][]byte) (int, uint32, error) {
	n, err := unix.SendmsgBuffers(int(s.fd), iovs, nil, nil, unix.MSG_ZEROCOPY)
	if err != nil {
		return 0, 0, wrapErrno("send", err)
	}
	id := s.zcCounter
	s.zcCounter++
	return n, id, nil
}

// receiveZeroCopyAck drains one SO_EE_ORIGIN_ZEROCOPY notification from
// the socket's error queue, reporting the acknowledged id range
// [from, to]. ok is false when the queue is empty or the entry at its
// head is not a zero-copy notification.
func receiveZeroCopyAck(s *Socket) (from, to uint32, ok bool, err error) {
	oob := make([]byte, 256)
	_, oobn, _, _, err := unix.Recvmsg(int(s.fd), nil, oob, unix.MSG_ERRQUEUE)
	if err != nil {
		return 0, 0, false, wrapErrno("recvmsg.errqueue", err)
	}
	cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return 0, 0, false, errs.Wrap(errs.CategorySystem, errs.Invalid, "sysio.errqueue", err)
	}
	for _, cmsg := range cmsgs {
		if cmsg.Header.Level != unix.SOL_IP && cmsg.Header.Level != unix.SOL_IPV6 {
			continue
		}
		if cmsg.Header.Type != unix.IP_RECVERR && cmsg.Header.Type != unix.IPV6_RECVERR {
			continue
		}
		if len(cmsg.Data) < int(unsafe.Sizeof(unix.SockExtendedErr{})) {
			continue
		}
		ee := (*unix.SockExtendedErr)(unsafe.Pointer(&cmsg.Data[0]))
		if ee.Origin != unix.SO_EE_ORIGIN_ZEROCOPY {
			continue
		}
		// Info is the low end of the range, Data the high end.
		return ee.Info, ee.Data, true, nil
	}
	return 0, 0, false, nil
}
