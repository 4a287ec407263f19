package asocket_test

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/joeycumines/go-asynctransport/asocket"
	"github.com/joeycumines/go-asynctransport/endpoint"
	"github.com/joeycumines/go-asynctransport/engine"
	"github.com/joeycumines/go-asynctransport/iobuf"
	"github.com/joeycumines/go-asynctransport/sysio"
	"github.com/stretchr/testify/require"
)

// TestStreamEchoOverLoopbackTCP exercises engine, demux, sysio and
// asocket together end to end: a listener and stream both owned by one
// real worker (real epoll-backed demultiplexer), a loopback TCP
// connection carried through Connect/Accept, and an echo round trip
// through Send/Receive.
func TestStreamEchoOverLoopbackTCP(t *testing.T) {
	in, err := engine.New(engine.Config{NumWorkers: 1})
	require.NoError(t, err)
	require.NoError(t, in.Start())
	t.Cleanup(func() { require.NoError(t, in.Shutdown()) })

	worker := in.Workers()[0]

	listener, err := asocket.NewListener(worker, asocket.ListenerOptions{Transport: sysio.TCP, Backlog: 16})
	require.NoError(t, err)
	require.NoError(t, listener.Bind(endpoint.NewIPv4(net.IPv4(127, 0, 0, 1).To4(), 0), true))
	require.NoError(t, listener.Listen())
	local, err := listener.LocalEndpoint()
	require.NoError(t, err)

	accepted := make(chan *asocket.Stream, 1)
	require.NoError(t, listener.Accept(asocket.AcceptOptions{}, func(s *asocket.Stream, err error) {
		require.NoError(t, err)
		accepted <- s
	}))

	client, err := asocket.NewStream(worker, asocket.StreamOptions{Transport: sysio.TCP})
	require.NoError(t, err)

	connected := make(chan asocket.ConnectEvent, 1)
	require.NoError(t, client.Connect(asocket.EndpointTarget(local), asocket.ConnectOptions{}, func(ev asocket.ConnectEvent) {
		connected <- ev
	}))

	var server *asocket.Stream
	select {
	case server = <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("listener never accepted the connection")
	}

	select {
	case ev := <-connected:
		require.Equal(t, asocket.ConnectComplete, ev.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("client never finished connecting")
	}

	// The server side echoes whatever it reads straight back, one receive
	// at a time, for as long as the test runs.
	var echo func()
	echo = func() {
		_ = server.Receive(asocket.ReceiveOptions{MinSize: 1, MaxSize: 4096}, func(data iobuf.Data, err error) {
			if err != nil {
				return
			}
			_ = server.Send(data, asocket.SendOptions{}, func(error) {})
			echo()
		})
	}
	echo()

	sent := make(chan error, 1)
	require.NoError(t, client.Send(iobuf.FromBytes([]byte("ping")), asocket.SendOptions{}, func(err error) {
		sent <- err
	}))
	select {
	case err := <-sent:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("client send never completed")
	}

	received := make(chan iobuf.Data, 1)
	require.NoError(t, client.Receive(asocket.ReceiveOptions{MinSize: 4, MaxSize: 4096}, func(data iobuf.Data, err error) {
		require.NoError(t, err)
		received <- data
	}))

	select {
	case data := <-received:
		var buf bytes.Buffer
		_, err := data.WriteTo(&buf)
		require.NoError(t, err)
		require.Equal(t, "ping", buf.String())
	case <-time.After(5 * time.Second):
		t.Fatal("client never received the echoed reply")
	}
}
