// Package resolver implements §4.10's name-resolution front end: an
// override store consulted first, falling back to a system backend, with
// filters over the returned address/port sets and both synchronous and
// asynchronous (strand + callback + cancellation/deadline) entry points.
package resolver

import (
	"context"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joeycumines/go-asynctransport/asocket"
	"github.com/joeycumines/go-asynctransport/endpoint"
	"github.com/joeycumines/go-asynctransport/errs"
	"github.com/joeycumines/go-asynctransport/logiface"
)

// Backend is the system name-resolution capability resolver.SystemBackend
// supplies via net.Resolver; swappable so tests can substitute a fake.
type Backend interface {
	LookupIPAddr(ctx context.Context, name string) ([]net.IPAddr, error)
	LookupPort(ctx context.Context, network, service string) (int, error)
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

// SystemBackend adapts the standard library's net.Resolver to Backend,
// the spec's "system backend" contract; DNS wire parsing itself stays out
// of scope, supplied entirely by net.Resolver.
type SystemBackend struct {
	Resolver *net.Resolver
}

func (s SystemBackend) resolver() *net.Resolver {
	if s.Resolver != nil {
		return s.Resolver
	}
	return net.DefaultResolver
}

func (s SystemBackend) LookupIPAddr(ctx context.Context, name string) ([]net.IPAddr, error) {
	return s.resolver().LookupIPAddr(ctx, name)
}

func (s SystemBackend) LookupPort(ctx context.Context, network, service string) (int, error) {
	return s.resolver().LookupPort(ctx, network, service)
}

func (s SystemBackend) LookupAddr(ctx context.Context, addr string) ([]string, error) {
	return s.resolver().LookupAddr(ctx, addr)
}

// IPAddressFilter whitelists specific addresses out of a resolved set;
// nil accepts everything.
type IPAddressFilter func(endpoint.Endpoint) bool

// IPAddressSelector reorders/narrows a filtered address set before it is
// returned, e.g. to prefer addresses matching a previously successful
// connection. nil leaves the system/override order untouched.
type IPAddressSelector func([]endpoint.Endpoint) []endpoint.Endpoint

// PortFilter is getPort's equivalent whitelist hook.
type PortFilter func(int) bool

// Options configures a single resolution call.
type Options struct {
	OverridesEnabled bool
	SystemEnabled    bool
	AddressType      asocket.IPAddressType
	AddressFilter    IPAddressFilter
	AddressSelector  IPAddressSelector
	// AddressFallback: if true and AddressType restricts to one family but
	// nothing of that family resolves, fall back to the other family
	// rather than returning empty/error.
	AddressFallback bool
	PortFilter      PortFilter
	// PortFallback: if true and the requested transport's well-known port
	// lookup fails, retry the lookup with transport "tcp".
	PortFallback bool
	Timeout      time.Duration
}

// DefaultOptions enables both the override store and the system backend,
// with no filtering, matching the spec's described default behavior.
func DefaultOptions() Options {
	return Options{OverridesEnabled: true, SystemEnabled: true}
}

// Resolver is the front end described by §4.10: an override store
// consulted first (when Options.OverridesEnabled), then Backend (when
// Options.SystemEnabled).
type Resolver struct {
	Backend Backend
	Logger  *logiface.Logger[logiface.Event]

	mu            sync.RWMutex
	nameOverrides map[string][]endpoint.Endpoint
	portOverrides map[string][]int
}

// New constructs a Resolver backed by SystemBackend (net.Resolver).
func New() *Resolver {
	return &Resolver{Backend: SystemBackend{}}
}

// SetNameOverride registers the ip list returned for name, ahead of the
// system backend, when Options.OverridesEnabled.
func (r *Resolver) SetNameOverride(name string, ips []endpoint.Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nameOverrides == nil {
		r.nameOverrides = make(map[string][]endpoint.Endpoint)
	}
	r.nameOverrides[name] = append([]endpoint.Endpoint(nil), ips...)
}

// ClearNameOverride removes a previously set name override.
func (r *Resolver) ClearNameOverride(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nameOverrides, name)
}

// SetPortOverride registers the port list returned for service, ahead of
// the system backend, when Options.OverridesEnabled.
func (r *Resolver) SetPortOverride(service string, ports []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.portOverrides == nil {
		r.portOverrides = make(map[string][]int)
	}
	r.portOverrides[service] = append([]int(nil), ports...)
}

// ClearPortOverride removes a previously set port override.
func (r *Resolver) ClearPortOverride(service string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.portOverrides, service)
}

func (r *Resolver) lookupNameOverride(name string) ([]endpoint.Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ips, ok := r.nameOverrides[name]
	return append([]endpoint.Endpoint(nil), ips...), ok
}

func (r *Resolver) lookupPortOverride(service string) ([]int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ports, ok := r.portOverrides[service]
	return append([]int(nil), ports...), ok
}

// GetIPAddress resolves name to a filtered, optionally-selected set of
// endpoints, consulting the override store then the system backend per
// opts.
func (r *Resolver) GetIPAddress(ctx context.Context, name string, opts Options) ([]endpoint.Endpoint, error) {
	var results []endpoint.Endpoint
	if opts.OverridesEnabled {
		if ips, ok := r.lookupNameOverride(name); ok {
			results = ips
		}
	}
	if results == nil && opts.SystemEnabled {
		if opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}
		addrs, err := r.Backend.LookupIPAddr(ctx, name)
		if err != nil {
			if l := r.Logger; l != nil {
				l.Debug().Str("name", name).Err(err).Log("resolver: lookup failed")
			}
			return nil, errs.Wrap(errs.CategoryTransport, errs.DNSNoSuchRecord, "resolver.getipaddress", err)
		}
		results = make([]endpoint.Endpoint, 0, len(addrs))
		for _, a := range addrs {
			if v4 := a.IP.To4(); v4 != nil {
				results = append(results, endpoint.NewIPv4(v4, 0))
			} else {
				results = append(results, endpoint.NewIPv6(a.IP.To16(), 0, a.Zone))
			}
		}
	}
	return filterAndSelect(results, opts)
}

// ResolveIP implements asocket.Resolver: a synchronous shape over
// GetIPAddress with context.Background and the given filter/fallback,
// both store and backend enabled.
func (r *Resolver) ResolveIP(name string, filter asocket.IPAddressType, fallback bool) ([]endpoint.Endpoint, error) {
	opts := DefaultOptions()
	opts.AddressType = filter
	opts.AddressFallback = fallback
	return r.GetIPAddress(context.Background(), name, opts)
}

func filterAndSelect(in []endpoint.Endpoint, opts Options) ([]endpoint.Endpoint, error) {
	filtered := make([]endpoint.Endpoint, 0, len(in))
	for _, e := range in {
		if !matchesFamily(e, opts.AddressType) {
			continue
		}
		if opts.AddressFilter != nil && !opts.AddressFilter(e) {
			continue
		}
		filtered = append(filtered, e)
	}
	if len(filtered) == 0 && opts.AddressFallback && opts.AddressType != asocket.IPAny {
		fallbackType := asocket.IPv6Only
		if opts.AddressType == asocket.IPv6Only {
			fallbackType = asocket.IPv4Only
		}
		for _, e := range in {
			if !matchesFamily(e, fallbackType) {
				continue
			}
			if opts.AddressFilter != nil && !opts.AddressFilter(e) {
				continue
			}
			filtered = append(filtered, e)
		}
	}
	if opts.AddressSelector != nil {
		filtered = opts.AddressSelector(filtered)
	}
	if len(filtered) == 0 {
		return nil, errs.New(errs.CategoryTransport, errs.DNSNoSuchRecord, "resolver.filter")
	}
	return filtered, nil
}

func matchesFamily(e endpoint.Endpoint, want asocket.IPAddressType) bool {
	switch want {
	case asocket.IPv4Only:
		return e.Type() == endpoint.IPv4
	case asocket.IPv6Only:
		return e.Type() == endpoint.IPv6
	default:
		return true
	}
}

// GetPort resolves service to a filtered port list, override store first,
// then the system backend's LookupPort for transport.
func (r *Resolver) GetPort(ctx context.Context, service, transport string, opts Options) ([]int, error) {
	var results []int
	if opts.OverridesEnabled {
		if ports, ok := r.lookupPortOverride(service); ok {
			results = ports
		}
	}
	if results == nil && opts.SystemEnabled {
		if opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}
		port, err := r.Backend.LookupPort(ctx, transport, service)
		if err != nil && opts.PortFallback {
			port, err = r.Backend.LookupPort(ctx, "tcp", service)
		}
		if err != nil {
			return nil, errs.Wrap(errs.CategoryTransport, errs.DNSNoSuchRecord, "resolver.getport", err)
		}
		results = []int{port}
	}
	filtered := results[:0:0]
	for _, p := range results {
		if opts.PortFilter == nil || opts.PortFilter(p) {
			filtered = append(filtered, p)
		}
	}
	if len(filtered) == 0 {
		return nil, errs.New(errs.CategoryTransport, errs.DNSNoSuchRecord, "resolver.getport.filter")
	}
	return filtered, nil
}

// GetEndpoint parses text as "host:port" or a bare path (via
// endpoint.Parse). If the host portion is a literal address or text is a
// path, the parse result is returned as-is; if the host portion is a
// name, it is resolved through GetIPAddress and the first acceptable
// result is returned with text's port substituted in.
func (r *Resolver) GetEndpoint(ctx context.Context, text string, opts Options) (endpoint.Endpoint, error) {
	ep, err := endpoint.Parse(text)
	if err == nil {
		return ep, nil
	}
	host, portStr, splitErr := net.SplitHostPort(text)
	if splitErr != nil {
		return endpoint.Endpoint{}, errs.Wrap(errs.CategoryTransport, errs.Invalid, "resolver.getendpoint", err)
	}
	portNum, portErr := strconv.ParseUint(portStr, 10, 16)
	if portErr != nil {
		return endpoint.Endpoint{}, errs.Wrap(errs.CategoryTransport, errs.Invalid, "resolver.getendpoint", portErr)
	}
	port := uint16(portNum)
	resolved, resolveErr := r.GetIPAddress(ctx, host, opts)
	if resolveErr != nil || len(resolved) == 0 {
		return endpoint.Endpoint{}, errs.Wrap(errs.CategoryTransport, errs.DNSNoSuchRecord, "resolver.getendpoint", resolveErr)
	}
	first := resolved[0]
	if first.Type() == endpoint.IPv4 {
		return endpoint.NewIPv4(first.IP(), port), nil
	}
	return endpoint.NewIPv6(first.IP(), port, first.Zone()), nil
}

// GetDomainName performs a reverse lookup for ip (PTR record), via the
// system backend only; the override store has no reverse-mapping
// equivalent.
func (r *Resolver) GetDomainName(ctx context.Context, ip endpoint.Endpoint) (string, error) {
	names, err := r.Backend.LookupAddr(ctx, ip.IP().String())
	if err != nil || len(names) == 0 {
		return "", errs.Wrap(errs.CategoryTransport, errs.DNSNoSuchRecord, "resolver.getdomainname", err)
	}
	return names[0], nil
}

// GetServiceName resolves port/transport back to a service name by
// scanning /etc/services-style entries already known to the override
// store; since net.Resolver exposes no port-to-name reverse lookup, this
// only consults overrides registered via SetPortOverride.
func (r *Resolver) GetServiceName(port int, transport string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, ports := range r.portOverrides {
		for _, p := range ports {
			if p == port {
				return name, true
			}
		}
	}
	return "", false
}

// GetLocalIPAddress returns this host's non-loopback unicast addresses.
func GetLocalIPAddress() ([]endpoint.Endpoint, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, errs.Wrap(errs.CategorySystem, errs.Unreachable, "resolver.getlocalipaddress", err)
	}
	var out []endpoint.Endpoint
	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok || ipn.IP.IsLoopback() {
			continue
		}
		if v4 := ipn.IP.To4(); v4 != nil {
			out = append(out, endpoint.NewIPv4(v4, 0))
		} else {
			out = append(out, endpoint.NewIPv6(ipn.IP.To16(), 0, ""))
		}
	}
	return out, nil
}

// GetHostname returns the local host's configured hostname.
func GetHostname() (string, error) {
	name, err := os.Hostname()
	if err != nil {
		return "", errs.Wrap(errs.CategorySystem, errs.Unreachable, "resolver.gethostname", err)
	}
	return name, nil
}

// AsyncResolver wraps a Resolver with strand dispatch, per §4.10's
// "asynchronous variants accept a strand + callback and honor
// cancellation tokens and deadlines".
type AsyncResolver struct {
	R      *Resolver
	worker asocket.Worker

	mu      sync.Mutex
	pending map[Token]context.CancelFunc
}

// NewAsync binds r's asynchronous entry points to worker's strand.
func NewAsync(r *Resolver, worker asocket.Worker) *AsyncResolver {
	return &AsyncResolver{R: r, worker: worker, pending: make(map[Token]context.CancelFunc)}
}

// Token is an opaque cancellation handle for a pending async resolution,
// mirroring asocket.Token.
type Token = asocket.Token

// GetIPAddressAsync resolves name on a background goroutine (since
// net.Resolver itself blocks), delivering the result to callback via the
// worker's strand so it observes the same sequencing guarantees as any
// other socket callback. A non-zero deadline cancels the lookup's context
// if it hasn't completed in time; token, if non-zero, allows Cancel to
// abort it early.
func (a *AsyncResolver) GetIPAddressAsync(name string, opts Options, deadline time.Time, token Token, callback func([]endpoint.Endpoint, error)) {
	ctx, cancel := context.WithCancel(context.Background())
	if !deadline.IsZero() {
		ctx, cancel = context.WithDeadline(ctx, deadline)
	}
	a.registerCancel(token, cancel)
	go func() {
		results, err := a.R.GetIPAddress(ctx, name, opts)
		a.worker.Strand().Execute(func() {
			a.unregisterCancel(token)
			callback(results, err)
		})
	}()
}

func (a *AsyncResolver) registerCancel(token Token, cancel context.CancelFunc) {
	if token == 0 {
		return
	}
	a.mu.Lock()
	a.pending[token] = cancel
	a.mu.Unlock()
}

func (a *AsyncResolver) unregisterCancel(token Token) {
	if token == 0 {
		return
	}
	a.mu.Lock()
	delete(a.pending, token)
	a.mu.Unlock()
}

// Cancel aborts the pending async resolution registered under token, if
// any, causing its callback to observe context.Canceled.
func (a *AsyncResolver) Cancel(token Token) {
	a.mu.Lock()
	cancel, ok := a.pending[token]
	delete(a.pending, token)
	a.mu.Unlock()
	if ok {
		cancel()
	}
}
