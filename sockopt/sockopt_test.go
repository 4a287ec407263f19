package sockopt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBoolOptionsRoundTripValueAndName(t *testing.T) {
	cases := []struct {
		name string
		opt  Option
		want Name
	}{
		{"ReuseAddress", WithReuseAddress(true), ReuseAddress},
		{"KeepAlive", WithKeepAlive(true), KeepAlive},
		{"Cork", WithCork(true), Cork},
		{"DelayTransmission", WithDelayTransmission(true), DelayTransmission},
		{"DelayAcknowledgement", WithDelayAcknowledgement(true), DelayAcknowledgement},
		{"Debug", WithDebug(true), Debug},
		{"Broadcast", WithBroadcast(true), Broadcast},
		{"BypassRouting", WithBypassRouting(true), BypassRouting},
		{"InlineOutOfBandData", WithInlineOutOfBandData(true), InlineOutOfBandData},
		{"RxTimestamping", WithRxTimestamping(true), RxTimestamping},
		{"TxTimestamping", WithTxTimestamping(true), TxTimestamping},
		{"ZeroCopy", WithZeroCopy(true), ZeroCopy},
		{"MulticastLoopback", WithMulticastLoopback(true), MulticastLoopback},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, c.opt.Name())
			assert.True(t, c.opt.Bool())
		})
	}
}

func TestIntOptions(t *testing.T) {
	assert.Equal(t, 4096, WithSendBufferSize(4096).Int())
	assert.Equal(t, SendBufferSize, WithSendBufferSize(4096).Name())

	assert.Equal(t, 1024, WithSendBufferLowWatermark(1024).Int())
	assert.Equal(t, 8192, WithReceiveBufferSize(8192).Int())
	assert.Equal(t, 512, WithReceiveBufferLowWatermark(512).Int())
	assert.Equal(t, 64, WithMulticastTTL(64).Int())
	assert.Equal(t, MulticastTTL, WithMulticastTTL(64).Name())
}

func TestTcpCongestionControlCarriesStringPayload(t *testing.T) {
	o := WithTcpCongestionControl("bbr")
	assert.Equal(t, TcpCongestionControl, o.Name())
	assert.Equal(t, "bbr", o.String())
}

func TestLingerCarriesStructuredPayload(t *testing.T) {
	lv := LingerValue{Enabled: true, Timeout: 5 * time.Second}
	o := WithLinger(lv)
	assert.Equal(t, Linger, o.Name())
	assert.Equal(t, lv, o.LingerValue())
}

func TestUnpopulatedAccessorsReturnZeroValues(t *testing.T) {
	o := WithReuseAddress(true)
	assert.Equal(t, 0, o.Int())
	assert.Equal(t, time.Duration(0), o.Duration())
	assert.Equal(t, "", o.String())
	assert.Equal(t, LingerValue{}, o.LingerValue())
}
