//go:build linux

package sysio

import "golang.org/x/sys/unix"

func peerCredentials(s *Socket) (PeerCredentials, error) {
	ucred, err := unix.GetsockoptUcred(int(s.fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		return PeerCredentials{}, wrapErrno("getsockopt(SO_PEERCRED)", err)
	}
	return PeerCredentials{PID: ucred.Pid, UID: ucred.Uid, GID: ucred.Gid}, nil
}
