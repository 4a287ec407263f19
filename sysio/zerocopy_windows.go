//go:build windows

package sysio

import "github.com/joeycumines/go-asynctransport/errs"

// Windows exposes no MSG_ZEROCOPY analogue through WSASend; the facade's
// send always reports honoredZeroCopy false on this platform.
func sendZeroCopy(s *Socket, iovs [][]byte) (int, uint32, error) {
	return 0, 0, errs.New(errs.CategorySystem, errs.NotImplemented, "sysio.zerocopy")
}

func receiveZeroCopyAck(s *Socket) (from, to uint32, ok bool, err error) {
	return 0, 0, false, errs.New(errs.CategorySystem, errs.NotImplemented, "sysio.zerocopy")
}
