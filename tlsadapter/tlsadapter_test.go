package tlsadapter

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "tlsadapter-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

// pumpCipherText shuttles ciphertext between two sessions in the
// background, simulating the wire a real asocket.Stream pair would
// provide, until stop is closed.
func pumpCipherText(t *testing.T, a, b *session, stop <-chan struct{}) {
	t.Helper()
	go func() {
		buf := make([]byte, 4096)
		for {
			select {
			case <-stop:
				return
			default:
			}
			moved := false
			if n, _ := a.PopOutgoingCipherText(buf); n > 0 {
				_ = b.PushIncomingCipherText(buf[:n])
				moved = true
			}
			if n, _ := b.PopOutgoingCipherText(buf); n > 0 {
				_ = a.PushIncomingCipherText(buf[:n])
				moved = true
			}
			if !moved {
				time.Sleep(time.Millisecond)
			}
		}
	}()
}

func TestHandshakeCompletesOverShuttledCipherText(t *testing.T) {
	cert := selfSignedCert(t)
	serverCfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	clientCfg := &tls.Config{InsecureSkipVerify: true}

	driver := StdlibDriver{}
	clientEnc := driver.NewClientSession(clientCfg)
	serverEnc := driver.NewServerSession(serverCfg)
	client := clientEnc.(*session)
	server := serverEnc.(*session)

	clientDone := make(chan error, 1)
	serverDone := make(chan error, 1)
	client.InitiateHandshake(func(_ bool, _ any, err error) { clientDone <- err })
	server.InitiateHandshake(func(_ bool, _ any, err error) { serverDone <- err })

	stop := make(chan struct{})
	pumpCipherText(t, client, server, stop)
	defer close(stop)

	require.NoError(t, waitOrTimeout(t, clientDone))
	require.NoError(t, waitOrTimeout(t, serverDone))
}

func waitOrTimeout(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("handshake never completed")
		return nil
	}
}

func TestApplicationDataFlowsBothWaysAfterHandshake(t *testing.T) {
	cert := selfSignedCert(t)
	driver := StdlibDriver{}
	client := driver.NewClientSession(&tls.Config{InsecureSkipVerify: true}).(*session)
	server := driver.NewServerSession(&tls.Config{Certificates: []tls.Certificate{cert}}).(*session)

	clientDone := make(chan struct{})
	serverDone := make(chan struct{})
	client.InitiateHandshake(func(ok bool, _ any, err error) {
		require.True(t, ok, err)
		close(clientDone)
	})
	server.InitiateHandshake(func(ok bool, _ any, err error) {
		require.True(t, ok, err)
		close(serverDone)
	})

	stop := make(chan struct{})
	pumpCipherText(t, client, server, stop)
	defer close(stop)

	<-clientDone
	<-serverDone

	require.NoError(t, client.PushOutgoingPlainText([]byte("hello server")))
	require.NoError(t, server.PushOutgoingPlainText([]byte("hello client")))

	assertEventuallyReads(t, server, "hello server")
	assertEventuallyReads(t, client, "hello client")
}

func assertEventuallyReads(t *testing.T, s *session, want string) {
	t.Helper()
	buf := make([]byte, 256)
	deadline := time.Now().Add(5 * time.Second)
	var got []byte
	for time.Now().Before(deadline) && len(got) < len(want) {
		n, err := s.PopIncomingPlainText(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
		if n == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	assert.Equal(t, want, string(got))
}
