//go:build darwin

package sysio

import "golang.org/x/sys/unix"

func peerCredentials(s *Socket) (PeerCredentials, error) {
	xucred, err := unix.GetsockoptXucred(int(s.fd), unix.SOL_LOCAL, unix.LOCAL_PEERCRED)
	if err != nil {
		return PeerCredentials{}, wrapErrno("getsockopt(LOCAL_PEERCRED)", err)
	}
	var gid uint32
	if xucred.Ngroups > 0 {
		gid = xucred.Groups[0]
	}
	// Darwin's LOCAL_PEERCRED reports no pid; LOCAL_PEEREPID is a separate
	// getsockopt the caller can add if it's ever needed.
	return PeerCredentials{PID: 0, UID: xucred.Uid, GID: gid}, nil
}
