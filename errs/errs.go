// Package errs defines the categorized error value used throughout the
// transport core. Every fallible operation in this module returns one of
// these instead of panicking or relying on sentinel comparison alone.
package errs

import (
	"fmt"
)

// Category groups an Error by where it originated.
type Category int

const (
	// CategoryGeneric covers logical/programmer misuse (e.g. invalid state).
	CategoryGeneric Category = iota
	// CategorySystem wraps an OS-level errno.
	CategorySystem
	// CategoryTransport covers protocol/transport-level failures that are
	// not a raw OS errno (TLS alerts, DNS failures, cancellation, ...).
	CategoryTransport
)

func (c Category) String() string {
	switch c {
	case CategoryGeneric:
		return "generic"
	case CategorySystem:
		return "system"
	case CategoryTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Kind enumerates the abstract error kinds exposed to applications. Kinds
// are totally ordered by declaration order, which is sufficient for the
// hashable/comparable contract required by callers that key maps on them.
type Kind int

const (
	OK Kind = iota
	WouldBlock
	Interrupted
	Invalid
	Unreachable
	AddressInUse
	AddressNotAvailable
	ConnectionRefused
	ConnectionReset
	ConnectionDead
	EOF
	Cancelled
	Limit
	NoMemory
	NotImplemented
	WouldFlowControl
	Pending
	TLSHandshake
	TLSAlert
	DNSNoSuchRecord
	DNSTimeout
	Unknown
)

var kindNames = [...]string{
	OK:                  "ok",
	WouldBlock:          "would-block",
	Interrupted:         "interrupted",
	Invalid:             "invalid",
	Unreachable:         "unreachable",
	AddressInUse:        "address-in-use",
	AddressNotAvailable: "address-not-available",
	ConnectionRefused:   "connection-refused",
	ConnectionReset:     "connection-reset",
	ConnectionDead:      "connection-dead",
	EOF:                 "eof",
	Cancelled:           "cancelled",
	Limit:               "limit",
	NoMemory:            "no-memory",
	NotImplemented:      "not-implemented",
	WouldFlowControl:    "would-flow-control",
	Pending:             "pending",
	TLSHandshake:        "tls-handshake",
	TLSAlert:            "tls-alert",
	DNSNoSuchRecord:     "dns-no-such-record",
	DNSTimeout:          "dns-timeout",
	Unknown:             "unknown",
}

func (k Kind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return "unknown"
}

// Error is the single categorized error type returned by this module.
//
// It is comparable only via Is/Kind checks, not ==, since it carries an
// OS code that callers should not be forced to compare.
type Error struct {
	Category Category
	Kind     Kind
	// Code is the raw OS error number, when Category == CategorySystem.
	// It is 0 otherwise.
	Code int
	// Op names the operation that failed, e.g. "connect", "send".
	Op string
	// Err is the underlying cause, if any (e.g. a syscall.Errno).
	Err error
}

// New constructs an Error with no underlying cause.
func New(category Category, kind Kind, op string) *Error {
	return &Error{Category: category, Kind: kind, Op: op}
}

// Wrap constructs an Error, preserving the underlying cause for %w-style
// unwrapping and diagnostics.
func Wrap(category Category, kind Kind, op string, cause error) *Error {
	return &Error{Category: category, Kind: kind, Op: op, Err: cause}
}

// WithCode is a convenience for constructing a CategorySystem error.
func WithCode(kind Kind, op string, code int, cause error) *Error {
	return &Error{Category: CategorySystem, Kind: kind, Code: code, Op: op, Err: cause}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		if e.Code != 0 {
			return fmt.Sprintf("%s: %s (errno %d): %v", e.Op, e.Kind, e.Code, e.Err)
		}
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether err carries the given Kind, matching *Error values
// by Kind (not by pointer identity), as required by the spec's "totally
// ordered; hashable" contract.
func Is(err error, kind Kind) bool {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind == kind
	}
	return false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Retryable reports whether the error is one the syscall facade should
// absorb internally (WouldBlock/Interrupted), per the propagation policy:
// these never surface to application callbacks.
func Retryable(err error) bool {
	return Is(err, WouldBlock) || Is(err, Interrupted)
}

// Fatal reports whether err should transition a socket to shutdown, i.e.
// it is neither retryable nor a logical-misuse error returned synchronously.
func Fatal(err error) bool {
	if err == nil {
		return false
	}
	if Retryable(err) || Is(err, Invalid) || Is(err, Cancelled) || Is(err, Pending) {
		return false
	}
	return true
}
