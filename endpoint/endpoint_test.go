package endpoint

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIPv4PanicsOnNonIPv4(t *testing.T) {
	assert.Panics(t, func() {
		NewIPv4(net.ParseIP("::1"), 80)
	})
}

func TestNewIPv6PanicsOnIPv4Mapped(t *testing.T) {
	assert.Panics(t, func() {
		NewIPv6(net.ParseIP("127.0.0.1"), 80, "")
	})
}

func TestStringFormatsMatchExternalTextForms(t *testing.T) {
	v4 := NewIPv4(net.ParseIP("192.0.2.1"), 443)
	assert.Equal(t, "192.0.2.1:443", v4.String())

	v6 := NewIPv6(net.ParseIP("2001:db8::1"), 8080, "")
	assert.Equal(t, "[2001:db8::1]:8080", v6.String())

	v6z := NewIPv6(net.ParseIP("fe80::1"), 22, "eth0")
	assert.Equal(t, "[fe80::1%eth0]:22", v6z.String())

	local := NewLocal("/var/run/app.sock")
	assert.Equal(t, "/var/run/app.sock", local.String())
}

func TestParseRoundTripsWithString(t *testing.T) {
	cases := []string{
		"192.0.2.1:443",
		"[2001:db8::1]:8080",
		"[fe80::1%eth0]:22",
	}
	for _, text := range cases {
		e, err := Parse(text)
		require.NoError(t, err)
		assert.Equal(t, text, e.String())
	}
}

func TestParseFallsBackToLocalForBarePath(t *testing.T) {
	e, err := Parse("/tmp/app.sock")
	require.NoError(t, err)
	assert.Equal(t, Local, e.Type())
	assert.Equal(t, "/tmp/app.sock", e.Path())
}

func TestParseRejectsInvalidPort(t *testing.T) {
	_, err := Parse("192.0.2.1:notaport")
	assert.Error(t, err)
}

func TestParseRejectsInvalidAddress(t *testing.T) {
	_, err := Parse("not-an-ip:80")
	assert.Error(t, err)
}

func TestNetAddrAndFromNetAddrRoundTrip(t *testing.T) {
	e := NewIPv4(net.ParseIP("10.0.0.1"), 9000)
	a, err := e.NetAddr("tcp")
	require.NoError(t, err)
	tcpAddr, ok := a.(*net.TCPAddr)
	require.True(t, ok)
	assert.Equal(t, 9000, tcpAddr.Port)

	back, err := FromNetAddr(a)
	require.NoError(t, err)
	assert.Equal(t, e, back)
}

func TestNetAddrLocal(t *testing.T) {
	e := NewLocal("/tmp/x.sock")
	a, err := e.NetAddr("unix")
	require.NoError(t, err)
	unixAddr, ok := a.(*net.UnixAddr)
	require.True(t, ok)
	assert.Equal(t, "/tmp/x.sock", unixAddr.Name)

	back, err := FromNetAddr(a)
	require.NoError(t, err)
	assert.Equal(t, e, back)
}

func TestNetAddrUndefinedErrors(t *testing.T) {
	var e Endpoint
	_, err := e.NetAddr("tcp")
	assert.Error(t, err)
	assert.False(t, e.IsDefined())
}

func TestIPAndPathAccessorsAreTypeScoped(t *testing.T) {
	v4 := NewIPv4(net.ParseIP("127.0.0.1"), 1)
	assert.Empty(t, v4.Path())

	local := NewLocal("/tmp/y.sock")
	assert.Nil(t, local.IP())
}

func TestTypeStringKnownAndUnknown(t *testing.T) {
	assert.Equal(t, "ipv4", IPv4.String())
	assert.Equal(t, "ipv6", IPv6.String())
	assert.Equal(t, "local", Local.String())
	assert.Equal(t, "undefined", Undefined.String())
	assert.Equal(t, "undefined", Type(42).String())
}

func TestEtherAddrStringAndParseRoundTrip(t *testing.T) {
	a := EtherAddr{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01}
	text := a.String()
	assert.Equal(t, "de:ad:be:ef:00:01", text)

	parsed, err := ParseEtherAddr(text)
	require.NoError(t, err)
	assert.Equal(t, a, parsed)
}

func TestParseEtherAddrRejectsMalformedInput(t *testing.T) {
	_, err := ParseEtherAddr("not-an-address")
	assert.Error(t, err)

	_, err = ParseEtherAddr("de:ad:be:ef:00:zz")
	assert.Error(t, err)
}
