//go:build darwin

package sysio

import "golang.org/x/sys/unix"

// Darwin lacks MSG_ZEROCOPY, SO_ZEROCOPY, TCP_QUICKACK and TCP_CONGESTION;
// TCP_NOPUSH is the closest analogue to Linux's TCP_CORK. The options that
// have no Darwin equivalent are given sentinel optnames that fail at the
// setsockopt syscall rather than at compile time, which is the correct
// behavior for a platform that genuinely doesn't support the option.
const (
	unixMsgZeroCopy = 0
	tcpCork         = unix.TCP_NOPUSH
	tcpQuickAck     = -1
	tcpCongestion   = -1
	soZeroCopy      = -1
)
