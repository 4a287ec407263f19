package asocket

// Encryption is the opaque session the stream socket pumps bytes through
// when configured with an encrypted transport, per §4.11: the core never
// implements TLS itself, only drives a session obtained from an external
// driver (package tlsadapter, or any plugin-registered equivalent).
type Encryption interface {
	// PushIncomingCipherText feeds network-received ciphertext into the
	// session.
	PushIncomingCipherText(buf []byte) error
	// PopIncomingPlainText drains decrypted application data into buf,
	// returning the number of bytes written.
	PopIncomingPlainText(buf []byte) (int, error)
	// PushOutgoingPlainText feeds application data to be encrypted.
	PushOutgoingPlainText(buf []byte) error
	// PopOutgoingCipherText drains ciphertext ready to send on the wire.
	PopOutgoingCipherText(buf []byte) (int, error)
	// InitiateHandshake starts (or continues) the handshake; ciphertext it
	// produces is drained via PopOutgoingCipherText as usual. callback
	// fires exactly once, reporting success/failure and the peer
	// certificate (driver-defined type) on success.
	InitiateHandshake(callback func(ok bool, peerCertificate any, err error))
	// Shutdown emits a graceful close-notify alert, drained via
	// PopOutgoingCipherText.
	Shutdown()
}
