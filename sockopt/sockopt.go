// Package sockopt models the typed socket option union the spec requires:
// a closed set of options, each carrying a typed payload, so callers can't
// pass a mismatched value for a given option kind.
package sockopt

import "time"

// Name identifies a socket option kind.
type Name int

const (
	ReuseAddress Name = iota
	KeepAlive
	Cork
	DelayTransmission
	DelayAcknowledgement
	SendBufferSize
	SendBufferLowWatermark
	ReceiveBufferSize
	ReceiveBufferLowWatermark
	Debug
	Linger
	Broadcast
	BypassRouting
	InlineOutOfBandData
	RxTimestamping
	TxTimestamping
	ZeroCopy
	TcpCongestionControl
	MulticastTTL
	MulticastLoopback
)

// LingerValue models SO_LINGER's payload.
type LingerValue struct {
	Enabled bool
	Timeout time.Duration
}

// Option is a single typed (name, value) pair. Construct via the With*
// constructors below rather than populating the struct directly, so the
// value's type always matches Name.
type Option struct {
	name  Name
	boolV bool
	intV  int
	durV  time.Duration
	strV  string
	ling  LingerValue
}

func (o Option) Name() Name { return o.name }

func WithReuseAddress(v bool) Option      { return Option{name: ReuseAddress, boolV: v} }
func WithKeepAlive(v bool) Option         { return Option{name: KeepAlive, boolV: v} }
func WithCork(v bool) Option              { return Option{name: Cork, boolV: v} }
func WithDelayTransmission(v bool) Option { return Option{name: DelayTransmission, boolV: v} }
func WithDelayAcknowledgement(v bool) Option {
	return Option{name: DelayAcknowledgement, boolV: v}
}
func WithSendBufferSize(n int) Option { return Option{name: SendBufferSize, intV: n} }
func WithSendBufferLowWatermark(n int) Option {
	return Option{name: SendBufferLowWatermark, intV: n}
}
func WithReceiveBufferSize(n int) Option { return Option{name: ReceiveBufferSize, intV: n} }
func WithReceiveBufferLowWatermark(n int) Option {
	return Option{name: ReceiveBufferLowWatermark, intV: n}
}
func WithDebug(v bool) Option               { return Option{name: Debug, boolV: v} }
func WithLinger(v LingerValue) Option       { return Option{name: Linger, ling: v} }
func WithBroadcast(v bool) Option           { return Option{name: Broadcast, boolV: v} }
func WithBypassRouting(v bool) Option       { return Option{name: BypassRouting, boolV: v} }
func WithInlineOutOfBandData(v bool) Option { return Option{name: InlineOutOfBandData, boolV: v} }
func WithRxTimestamping(v bool) Option      { return Option{name: RxTimestamping, boolV: v} }
func WithTxTimestamping(v bool) Option      { return Option{name: TxTimestamping, boolV: v} }
func WithZeroCopy(v bool) Option            { return Option{name: ZeroCopy, boolV: v} }
func WithTcpCongestionControl(name string) Option {
	return Option{name: TcpCongestionControl, strV: name}
}
func WithMulticastTTL(n int) Option       { return Option{name: MulticastTTL, intV: n} }
func WithMulticastLoopback(v bool) Option { return Option{name: MulticastLoopback, boolV: v} }

func (o Option) Bool() bool               { return o.boolV }
func (o Option) Int() int                 { return o.intV }
func (o Option) Duration() time.Duration  { return o.durV }
func (o Option) String() string           { return o.strV }
func (o Option) LingerValue() LingerValue { return o.ling }
