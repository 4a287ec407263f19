// Package endpoint implements the tagged-union address types used to name
// the two ends of an async socket: IPv4, IPv6 (with optional zone id) and
// local (filesystem/abstract) addresses.
package endpoint

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Type identifies which variant of Endpoint is populated.
type Type int

const (
	Undefined Type = iota
	IPv4
	IPv6
	Local
)

func (t Type) String() string {
	switch t {
	case IPv4:
		return "ipv4"
	case IPv6:
		return "ipv6"
	case Local:
		return "local"
	default:
		return "undefined"
	}
}

// Endpoint is an immutable tagged union over {IPv4 host+port, IPv6
// host+port+scope-id, local path}. The zero value is Undefined.
type Endpoint struct {
	kind Type
	ip   net.IP // IPv4 or IPv6, 4 or 16 bytes
	port uint16
	zone string // IPv6 scope id, e.g. "eth0" or a numeric id
	path string // Local: filesystem path, or abstract name after a leading NUL
}

// NewIPv4 constructs an IPv4 endpoint. ip must be a 4-byte (or 4-in-16)
// address; it panics otherwise, as this is a programmer error, not a
// runtime condition.
func NewIPv4(ip net.IP, port uint16) Endpoint {
	v4 := ip.To4()
	if v4 == nil {
		panic("endpoint: NewIPv4: not an IPv4 address")
	}
	return Endpoint{kind: IPv4, ip: append(net.IP(nil), v4...), port: port}
}

// NewIPv6 constructs an IPv6 endpoint, with an optional zone id.
func NewIPv6(ip net.IP, port uint16, zone string) Endpoint {
	v6 := ip.To16()
	if v6 == nil || ip.To4() != nil {
		panic("endpoint: NewIPv6: not an IPv6 address")
	}
	return Endpoint{kind: IPv6, ip: append(net.IP(nil), v6...), port: port, zone: zone}
}

// NewLocal constructs a local (Unix domain) endpoint from a filesystem
// path. A path beginning with a NUL byte denotes an abstract socket name
// on platforms that support it; it is passed through unchanged.
func NewLocal(path string) Endpoint {
	return Endpoint{kind: Local, path: path}
}

func (e Endpoint) Type() Type      { return e.kind }
func (e Endpoint) IsDefined() bool { return e.kind != Undefined }

// IP returns the address for IPv4/IPv6 endpoints, or nil otherwise.
func (e Endpoint) IP() net.IP {
	if e.kind != IPv4 && e.kind != IPv6 {
		return nil
	}
	return append(net.IP(nil), e.ip...)
}

// Port returns the port for IPv4/IPv6 endpoints.
func (e Endpoint) Port() uint16 { return e.port }

// Zone returns the IPv6 scope id, or "" if not applicable/unset.
func (e Endpoint) Zone() string { return e.zone }

// Path returns the local socket path, or "" otherwise.
func (e Endpoint) Path() string { return e.path }

// String formats the endpoint bit-exactly per the spec's external text
// formats: "a.b.c.d:port" for IPv4, "[addr%zone]:port" for IPv6, and the
// raw path for Local.
func (e Endpoint) String() string {
	switch e.kind {
	case IPv4:
		return fmt.Sprintf("%s:%d", e.ip.String(), e.port)
	case IPv6:
		host := e.ip.String()
		if e.zone != "" {
			host += "%" + e.zone
		}
		return fmt.Sprintf("[%s]:%d", host, e.port)
	case Local:
		return e.path
	default:
		return ""
	}
}

// Parse decodes an endpoint from its external text representation. It
// accepts "host:port" (IPv4 or IPv6, with optional %zone), or a bare path
// (treated as Local) if host:port splitting fails.
func Parse(text string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(text)
	if err != nil {
		// Not a host:port pair; treat as a local path.
		return NewLocal(text), nil
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Endpoint{}, fmt.Errorf("endpoint: invalid port %q: %w", portStr, err)
	}
	zone := ""
	if i := strings.IndexByte(host, '%'); i >= 0 {
		zone = host[i+1:]
		host = host[:i]
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return Endpoint{}, fmt.Errorf("endpoint: invalid address %q", host)
	}
	if v4 := ip.To4(); v4 != nil && zone == "" {
		return NewIPv4(v4, uint16(port)), nil
	}
	return NewIPv6(ip.To16(), uint16(port), zone), nil
}

// NetAddr and FromNetAddr convert to/from the standard library's address
// types, for handing endpoints to the syscall facade.
func (e Endpoint) NetAddr(network string) (net.Addr, error) {
	switch e.kind {
	case IPv4, IPv6:
		switch network {
		case "tcp", "tcp4", "tcp6":
			return &net.TCPAddr{IP: e.ip, Port: int(e.port), Zone: e.zone}, nil
		case "udp", "udp4", "udp6":
			return &net.UDPAddr{IP: e.ip, Port: int(e.port), Zone: e.zone}, nil
		default:
			return nil, fmt.Errorf("endpoint: unsupported network %q", network)
		}
	case Local:
		return &net.UnixAddr{Name: e.path, Net: "unix"}, nil
	default:
		return nil, fmt.Errorf("endpoint: undefined endpoint has no net.Addr")
	}
}

// FromNetAddr converts a net.Addr (as returned by the syscall facade) back
// into an Endpoint.
func FromNetAddr(a net.Addr) (Endpoint, error) {
	switch v := a.(type) {
	case *net.TCPAddr:
		if v4 := v.IP.To4(); v4 != nil {
			return NewIPv4(v4, uint16(v.Port)), nil
		}
		return NewIPv6(v.IP.To16(), uint16(v.Port), v.Zone), nil
	case *net.UDPAddr:
		if v4 := v.IP.To4(); v4 != nil {
			return NewIPv4(v4, uint16(v.Port)), nil
		}
		return NewIPv6(v.IP.To16(), uint16(v.Port), v.Zone), nil
	case *net.UnixAddr:
		return NewLocal(v.Name), nil
	default:
		return Endpoint{}, fmt.Errorf("endpoint: unsupported net.Addr type %T", a)
	}
}

// EtherAddr is a six-byte MAC address, formatted per the spec's external
// format: six lowercase hex bytes separated by ':'.
type EtherAddr [6]byte

func (a EtherAddr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}

// ParseEtherAddr parses the canonical 17-character text form.
func ParseEtherAddr(text string) (EtherAddr, error) {
	var a EtherAddr
	if len(text) != 17 {
		return a, fmt.Errorf("endpoint: invalid ethernet address length %d", len(text))
	}
	parts := strings.Split(text, ":")
	if len(parts) != 6 {
		return a, fmt.Errorf("endpoint: invalid ethernet address %q", text)
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return EtherAddr{}, fmt.Errorf("endpoint: invalid ethernet byte %q: %w", p, err)
		}
		a[i] = byte(v)
	}
	return a, nil
}
