//go:build linux

package sysio

import "golang.org/x/sys/unix"

const (
	unixMsgZeroCopy = unix.MSG_ZEROCOPY
	tcpCork         = unix.TCP_CORK
	tcpQuickAck     = unix.TCP_QUICKACK
	tcpCongestion   = unix.TCP_CONGESTION
	soZeroCopy      = unix.SO_ZEROCOPY
)
