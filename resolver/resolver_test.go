package resolver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-asynctransport/asocket"
	"github.com/joeycumines/go-asynctransport/chronology"
	"github.com/joeycumines/go-asynctransport/demux"
	"github.com/joeycumines/go-asynctransport/endpoint"
	"github.com/joeycumines/go-asynctransport/strand"
)

// endpointsEqual lets cmp compare Endpoint values (unexported fields) by
// their canonical text form.
var endpointsEqual = cmp.Comparer(func(a, b endpoint.Endpoint) bool { return a.String() == b.String() })

type fakeBackend struct {
	ips           map[string][]net.IPAddr
	ipsErr        error
	blockUntilCtx bool
	ports         map[string]int
	portsErr      error
	names         map[string][]string
	namesErr      error
}

func (b *fakeBackend) LookupIPAddr(ctx context.Context, name string) ([]net.IPAddr, error) {
	if b.blockUntilCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if b.ipsErr != nil {
		return nil, b.ipsErr
	}
	return b.ips[name], nil
}

func (b *fakeBackend) LookupPort(_ context.Context, _, service string) (int, error) {
	if b.portsErr != nil {
		return 0, b.portsErr
	}
	if p, ok := b.ports[service]; ok {
		return p, nil
	}
	return 0, net.UnknownNetworkError("no such service")
}

func (b *fakeBackend) LookupAddr(_ context.Context, addr string) ([]string, error) {
	if b.namesErr != nil {
		return nil, b.namesErr
	}
	return b.names[addr], nil
}

func TestGetIPAddressPrefersOverrideOverBackend(t *testing.T) {
	r := &Resolver{Backend: &fakeBackend{ips: map[string][]net.IPAddr{"host": {{IP: net.IPv4(9, 9, 9, 9)}}}}}
	r.SetNameOverride("host", []endpoint.Endpoint{endpoint.NewIPv4(net.IPv4(1, 2, 3, 4), 0)})

	got, err := r.GetIPAddress(context.Background(), "host", DefaultOptions())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1.2.3.4", got[0].IP().String())
}

func TestGetIPAddressFallsBackToBackendWhenNoOverride(t *testing.T) {
	r := &Resolver{Backend: &fakeBackend{ips: map[string][]net.IPAddr{"host": {{IP: net.IPv4(9, 9, 9, 9)}}}}}
	got, err := r.GetIPAddress(context.Background(), "host", DefaultOptions())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "9.9.9.9", got[0].IP().String())
}

func TestGetIPAddressFamilyFilter(t *testing.T) {
	r := &Resolver{Backend: &fakeBackend{}}
	r.SetNameOverride("host", []endpoint.Endpoint{
		endpoint.NewIPv4(net.IPv4(1, 2, 3, 4), 0),
		endpoint.NewIPv6(net.ParseIP("::1"), 0, ""),
	})
	opts := DefaultOptions()
	opts.AddressType = asocket.IPv6Only
	got, err := r.GetIPAddress(context.Background(), "host", opts)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, endpoint.IPv6, got[0].Type())
}

func TestGetIPAddressFallbackCrossesFamilyWhenRequestedFamilyEmpty(t *testing.T) {
	r := &Resolver{Backend: &fakeBackend{}}
	r.SetNameOverride("host", []endpoint.Endpoint{endpoint.NewIPv4(net.IPv4(1, 2, 3, 4), 0)})
	opts := DefaultOptions()
	opts.AddressType = asocket.IPv6Only
	opts.AddressFallback = true
	got, err := r.GetIPAddress(context.Background(), "host", opts)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, endpoint.IPv4, got[0].Type())
}

func TestGetIPAddressPreservesOverrideOrder(t *testing.T) {
	r := &Resolver{Backend: &fakeBackend{}}
	want := []endpoint.Endpoint{
		endpoint.NewIPv4(net.IPv4(1, 2, 3, 4), 0),
		endpoint.NewIPv4(net.IPv4(5, 6, 7, 8), 0),
		endpoint.NewIPv6(net.ParseIP("2001:db8::1"), 0, ""),
	}
	r.SetNameOverride("host", want)
	got, err := r.GetIPAddress(context.Background(), "host", DefaultOptions())
	require.NoError(t, err)
	if diff := cmp.Diff(want, got, endpointsEqual); diff != "" {
		t.Fatalf("resolved endpoints mismatch (-want +got):\n%s", diff)
	}
}

func TestGetIPAddressNoMatchesReturnsError(t *testing.T) {
	r := &Resolver{Backend: &fakeBackend{}}
	r.SetNameOverride("host", []endpoint.Endpoint{endpoint.NewIPv4(net.IPv4(1, 2, 3, 4), 0)})
	opts := DefaultOptions()
	opts.AddressType = asocket.IPv6Only
	_, err := r.GetIPAddress(context.Background(), "host", opts)
	assert.Error(t, err)
}

func TestSetAndClearNameOverride(t *testing.T) {
	r := &Resolver{Backend: &fakeBackend{}}
	r.SetNameOverride("host", []endpoint.Endpoint{endpoint.NewIPv4(net.IPv4(1, 2, 3, 4), 0)})
	r.ClearNameOverride("host")
	_, err := r.GetIPAddress(context.Background(), "host", DefaultOptions())
	assert.Error(t, err, "cleared override with no backend entry leaves nothing to resolve")
}

func TestGetPortUsesBackendThenPrefersOverride(t *testing.T) {
	r := &Resolver{Backend: &fakeBackend{ports: map[string]int{"http": 80}}}
	got, err := r.GetPort(context.Background(), "http", "tcp", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []int{80}, got)

	r.SetPortOverride("http", []int{8080})
	got, err = r.GetPort(context.Background(), "http", "tcp", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []int{8080}, got)
}

func TestGetPortFallbackTriesTCPWhenTransportLookupFails(t *testing.T) {
	backend := &fakeBackend{portsErr: net.UnknownNetworkError("nope")}
	r := &Resolver{Backend: backend}
	opts := DefaultOptions()
	opts.PortFallback = true
	_, err := r.GetPort(context.Background(), "http", "udp", opts)
	assert.Error(t, err, "both the udp and the tcp fallback lookup fail in this fake, so the error still surfaces")
}

func TestGetPortFilterExcludesResult(t *testing.T) {
	r := &Resolver{Backend: &fakeBackend{ports: map[string]int{"http": 80}}}
	opts := DefaultOptions()
	opts.PortFilter = func(p int) bool { return p != 80 }
	_, err := r.GetPort(context.Background(), "http", "tcp", opts)
	assert.Error(t, err)
}

func TestGetEndpointParsesLiteralWithoutResolving(t *testing.T) {
	r := &Resolver{Backend: &fakeBackend{}}
	ep, err := r.GetEndpoint(context.Background(), "1.2.3.4:9000", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4", ep.IP().String())
	assert.Equal(t, uint16(9000), ep.Port())
}

func TestGetEndpointResolvesNameAndSubstitutesPort(t *testing.T) {
	r := &Resolver{Backend: &fakeBackend{ips: map[string][]net.IPAddr{"host": {{IP: net.IPv4(5, 6, 7, 8)}}}}}
	ep, err := r.GetEndpoint(context.Background(), "host:443", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "5.6.7.8", ep.IP().String())
	assert.Equal(t, uint16(443), ep.Port())
}

func TestGetDomainNameReturnsFirstResult(t *testing.T) {
	r := &Resolver{Backend: &fakeBackend{names: map[string][]string{"1.2.3.4": {"host.example.", "alt.example."}}}}
	name, err := r.GetDomainName(context.Background(), endpoint.NewIPv4(net.IPv4(1, 2, 3, 4), 0))
	require.NoError(t, err)
	assert.Equal(t, "host.example.", name)
}

func TestGetServiceNameConsultsOverridesOnly(t *testing.T) {
	r := &Resolver{Backend: &fakeBackend{}}
	r.SetPortOverride("http", []int{80, 8080})
	name, ok := r.GetServiceName(8080, "tcp")
	assert.True(t, ok)
	assert.Equal(t, "http", name)

	_, ok = r.GetServiceName(9999, "tcp")
	assert.False(t, ok)
}

// fakeWorker provides a real strand (so AsyncResolver's callback actually
// runs) without requiring a live demultiplexer.
type fakeWorker struct {
	strand     *strand.Strand
	chronology *chronology.Chronology
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{
		strand:     strand.New(strand.ExecutorFunc(func(fn func()) { fn() })),
		chronology: chronology.New(),
	}
}

func (w *fakeWorker) Strand() *strand.Strand             { return w.strand }
func (w *fakeWorker) Chronology() *chronology.Chronology { return w.chronology }
func (w *fakeWorker) Demux() demux.Demultiplexer         { return nil }

func TestAsyncResolverDeliversResultOnWorkerStrand(t *testing.T) {
	r := &Resolver{Backend: &fakeBackend{ips: map[string][]net.IPAddr{"host": {{IP: net.IPv4(1, 2, 3, 4)}}}}}
	a := NewAsync(r, newFakeWorker())

	done := make(chan struct{})
	var gotErr error
	var gotAddrs []endpoint.Endpoint
	a.GetIPAddressAsync("host", DefaultOptions(), time.Time{}, 0, func(addrs []endpoint.Endpoint, err error) {
		gotAddrs, gotErr = addrs, err
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never fired")
	}
	require.NoError(t, gotErr)
	require.Len(t, gotAddrs, 1)
	assert.Equal(t, "1.2.3.4", gotAddrs[0].IP().String())
}

func TestAsyncResolverCancelAbortsPendingLookup(t *testing.T) {
	r := &Resolver{Backend: &fakeBackend{blockUntilCtx: true}}
	a := NewAsync(r, newFakeWorker())

	done := make(chan struct{})
	var gotErr error
	const token Token = 1
	a.GetIPAddressAsync("host", DefaultOptions(), time.Time{}, token, func(_ []endpoint.Endpoint, err error) {
		gotErr = err
		close(done)
	})
	a.Cancel(token)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never fired")
	}
	assert.ErrorIs(t, gotErr, context.Canceled)
}
