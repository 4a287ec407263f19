//go:build darwin

package sysio

import "github.com/joeycumines/go-asynctransport/errs"

// Darwin has no MSG_ZEROCOPY; send never takes the zero-copy path on this
// platform (see facade_unix.go's unixMsgZeroCopy guard), so these exist
// only to satisfy the facade.
func sendZeroCopy(s *Socket, iovs [][]byte) (int, uint32, error) {
	return 0, 0, errs.New(errs.CategorySystem, errs.NotImplemented, "sysio.zerocopy")
}

func receiveZeroCopyAck(s *Socket) (from, to uint32, ok bool, err error) {
	return 0, 0, false, errs.New(errs.CategorySystem, errs.NotImplemented, "sysio.zerocopy")
}
