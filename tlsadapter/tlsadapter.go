// Package tlsadapter implements §4.11's encryption adapter: the core never
// implements TLS itself, it only drives an opaque asocket.Encryption
// session obtained from an external driver. Driver here is the concrete,
// swappable implementation backed by the standard library's crypto/tls —
// not a new wire protocol, just crypto/tls.Conn-shaped glue over the
// push/pop byte interface the stream socket expects.
package tlsadapter

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"sync"
	"time"

	"github.com/joeycumines/go-asynctransport/asocket"
	"github.com/joeycumines/go-asynctransport/errs"
	"github.com/joeycumines/go-asynctransport/logiface"
)

// Driver constructs encryption sessions, one per accepted/connected
// stream; it is the seam package plugin registers named implementations
// against.
type Driver interface {
	NewClientSession(cfg *tls.Config) asocket.Encryption
	NewServerSession(cfg *tls.Config) asocket.Encryption
}

// StdlibDriver is the Driver backed by crypto/tls. The zero value is
// usable; Logger is optional.
type StdlibDriver struct {
	Logger *logiface.Logger[logiface.Event]
}

func (d StdlibDriver) NewClientSession(cfg *tls.Config) asocket.Encryption {
	return newSession(cfg, true, d.Logger)
}

func (d StdlibDriver) NewServerSession(cfg *tls.Config) asocket.Encryption {
	return newSession(cfg, false, d.Logger)
}

// pipeConn is the net.Conn crypto/tls.Conn is built on: its Write appends
// to an outbound ciphertext queue PopOutgoingCipherText drains, and its
// Read blocks on an inbound ciphertext queue PushIncomingCipherText fills.
// Deadlines are no-ops; the session's own goroutines are the only callers.
type pipeConn struct {
	mu       sync.Mutex
	cond     *sync.Cond
	inbound  bytes.Buffer
	outbound bytes.Buffer
	closed   bool
}

func newPipeConn() *pipeConn {
	c := &pipeConn{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *pipeConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.inbound.Len() == 0 && !c.closed {
		c.cond.Wait()
	}
	if c.inbound.Len() == 0 {
		return 0, io.EOF
	}
	return c.inbound.Read(p)
}

func (c *pipeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, net.ErrClosed
	}
	c.outbound.Write(p)
	c.cond.Broadcast()
	c.mu.Unlock()
	return len(p), nil
}

func (c *pipeConn) pushIncoming(b []byte) {
	c.mu.Lock()
	c.inbound.Write(b)
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *pipeConn) popOutgoing(buf []byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, _ := c.outbound.Read(buf)
	return n
}

func (c *pipeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()
	return nil
}

func (c *pipeConn) LocalAddr() net.Addr              { return pipeAddr{} }
func (c *pipeConn) RemoteAddr() net.Addr             { return pipeAddr{} }
func (c *pipeConn) SetDeadline(time.Time) error      { return nil }
func (c *pipeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *pipeConn) SetWriteDeadline(time.Time) error { return nil }

type pipeAddr struct{}

func (pipeAddr) Network() string { return "tlsadapter" }
func (pipeAddr) String() string  { return "tlsadapter-pipe" }

// session is the asocket.Encryption implementation driving one tls.Conn
// over a pipeConn. crypto/tls's API is blocking, so a background goroutine
// runs the handshake and subsequent Read/Write calls; the push/pop methods
// only ever touch in-memory queues, so they never block the caller.
type session struct {
	raw     *pipeConn
	tlsConn *tls.Conn
	logger  *logiface.Logger[logiface.Event]

	startOnce sync.Once

	outMu    sync.Mutex
	outCond  *sync.Cond
	outQueue [][]byte
	shutdown bool

	inMu  sync.Mutex
	inBuf bytes.Buffer
	inErr error

	cbMu sync.Mutex
	cb   func(ok bool, peerCertificate any, err error)
}

func newSession(cfg *tls.Config, client bool, logger *logiface.Logger[logiface.Event]) *session {
	raw := newPipeConn()
	s := &session{raw: raw, logger: logger}
	s.outCond = sync.NewCond(&s.outMu)
	if client {
		s.tlsConn = tls.Client(raw, cfg)
	} else {
		s.tlsConn = tls.Server(raw, cfg)
	}
	return s
}

func (s *session) PushIncomingCipherText(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	cp := append([]byte(nil), buf...)
	s.raw.pushIncoming(cp)
	return nil
}

func (s *session) PopIncomingPlainText(buf []byte) (int, error) {
	s.inMu.Lock()
	defer s.inMu.Unlock()
	if s.inBuf.Len() > 0 {
		n, _ := s.inBuf.Read(buf)
		return n, nil
	}
	if s.inErr != nil {
		if s.inErr == io.EOF {
			return 0, errs.New(errs.CategoryTransport, errs.EOF, "tlsadapter.popincomingplaintext")
		}
		return 0, errs.Wrap(errs.CategoryTransport, errs.TLSHandshake, "tlsadapter.popincomingplaintext", s.inErr)
	}
	return 0, nil
}

func (s *session) PushOutgoingPlainText(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	cp := append([]byte(nil), buf...)
	s.outMu.Lock()
	if s.shutdown {
		s.outMu.Unlock()
		return errs.New(errs.CategoryTransport, errs.Invalid, "tlsadapter.pushoutgoingplaintext")
	}
	s.outQueue = append(s.outQueue, cp)
	s.outCond.Broadcast()
	s.outMu.Unlock()
	return nil
}

func (s *session) PopOutgoingCipherText(buf []byte) (int, error) {
	return s.raw.popOutgoing(buf), nil
}

// InitiateHandshake starts the session's background pump on first call;
// subsequent calls only replace the callback, matching "starts (or
// continues) the handshake" for a caller that re-arms interest before the
// first completion fires.
func (s *session) InitiateHandshake(callback func(ok bool, peerCertificate any, err error)) {
	s.cbMu.Lock()
	s.cb = callback
	s.cbMu.Unlock()
	s.startOnce.Do(func() { go s.pump() })
}

// Shutdown enqueues a close marker; the write loop sends close_notify
// after any already-queued plaintext has been encrypted and emitted.
func (s *session) Shutdown() {
	s.outMu.Lock()
	s.shutdown = true
	s.outCond.Broadcast()
	s.outMu.Unlock()
}

func (s *session) pump() {
	err := s.tlsConn.Handshake()
	var peer any
	if err == nil {
		if cs := s.tlsConn.ConnectionState(); len(cs.PeerCertificates) > 0 {
			peer = cs.PeerCertificates[0]
		}
	}
	s.deliverHandshake(err == nil, peer, err)
	if err != nil {
		if l := s.logger; l != nil {
			l.Debug().Err(err).Log("tlsadapter: handshake failed")
		}
		return
	}
	go s.readLoop()
	s.writeLoop()
}

func (s *session) deliverHandshake(ok bool, peer any, err error) {
	s.cbMu.Lock()
	cb := s.cb
	s.cbMu.Unlock()
	if cb != nil {
		if err != nil {
			err = errs.Wrap(errs.CategoryTransport, errs.TLSHandshake, "tlsadapter.handshake", err)
		}
		cb(ok, peer, err)
	}
}

func (s *session) readLoop() {
	scratch := make([]byte, 16*1024)
	for {
		n, err := s.tlsConn.Read(scratch)
		if n > 0 {
			s.inMu.Lock()
			s.inBuf.Write(scratch[:n])
			s.inMu.Unlock()
		}
		if err != nil {
			s.inMu.Lock()
			s.inErr = err
			s.inMu.Unlock()
			return
		}
	}
}

func (s *session) writeLoop() {
	for {
		s.outMu.Lock()
		for len(s.outQueue) == 0 && !s.shutdown {
			s.outCond.Wait()
		}
		var next []byte
		if len(s.outQueue) > 0 {
			next = s.outQueue[0]
			s.outQueue = s.outQueue[1:]
		}
		done := s.shutdown && len(s.outQueue) == 0 && next == nil
		s.outMu.Unlock()

		if next != nil {
			if _, err := s.tlsConn.Write(next); err != nil {
				if l := s.logger; l != nil {
					l.Debug().Err(err).Log("tlsadapter: write failed")
				}
				return
			}
			continue
		}
		if done {
			_ = s.tlsConn.Close()
			return
		}
	}
}

// LoadX509KeyPair is a thin re-export of tls.LoadX509KeyPair, kept here so
// callers configuring a server Driver need only import tlsadapter.
func LoadX509KeyPair(certFile, keyFile string) (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, errs.Wrap(errs.CategoryTransport, errs.Invalid, "tlsadapter.loadx509keypair", err)
	}
	return cert, nil
}

// NewCertPool is a convenience constructor mirroring x509.NewCertPool,
// reducing the import surface for server Driver configuration callers.
func NewCertPool() *x509.CertPool { return x509.NewCertPool() }
