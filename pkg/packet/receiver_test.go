package packet_test

import (
	"context"
	"net"
	"testing"
	"time"

	"nanoping/pkg/packet"
	"nanoping/pkg/packet/packettest"
	"nanoping/pkg/socket"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestTryReceiveEmpty(t *testing.T) {
	e := packet.NewEchoChannel(&packettest.Endpoint{}, true)
	_, ok, err := e.TryReceive()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTryReceiveTimestamps(t *testing.T) {
	ep := &packettest.Endpoint{Data: []packettest.Datagram{{
		Payload: []byte("HELLO"),
		OOB:     packettest.Timestamping(packettest.TS(9, 9), packettest.TS(100, 1_500_000)),
		From:    peer,
	}}}
	e := packet.NewEchoChannel(ep, true)

	echo, ok, err := e.TryReceive()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("HELLO"), echo.Payload)
	assert.Equal(t, peer, echo.From)
	assert.Equal(t, packettest.TS(100, 1_500_000), echo.Record.Hardware)
	assert.Equal(t, packettest.TS(9, 9), echo.Record.Software)
	assert.Equal(t, 5, echo.Record.PayloadLen)
}

func TestTryReceiveWithoutTimestamps(t *testing.T) {
	ep := &packettest.Endpoint{Data: []packettest.Datagram{{
		Payload: []byte("HELLO"),
		OOB:     packettest.Timestamping(packettest.TS(9, 9), packettest.TS(1, 1)),
	}}}
	e := packet.NewEchoChannel(ep, false)

	echo, ok, err := e.TryReceive()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, echo.Record.Empty())
}

func TestTryReceiveSoftwareOnly(t *testing.T) {
	ep := &packettest.Endpoint{Data: []packettest.Datagram{{
		Payload: []byte("HELLO"),
		OOB:     packettest.Timestamping(packettest.TS(9, 9), packet.Timestamp{}),
	}}}
	echo, ok, err := packet.NewEchoChannel(ep, true).TryReceive()
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, echo.Record.HasHardware())
	assert.True(t, echo.Record.HasSoftware())
}

func TestTryReceiveError(t *testing.T) {
	ep := &packettest.Endpoint{Data: []packettest.Datagram{{Err: unix.ECONNREFUSED}}}
	_, _, err := packet.NewEchoChannel(ep, true).TryReceive()
	var te *packet.TransportError
	require.ErrorAs(t, err, &te)
}

func TestReceiveTimeout(t *testing.T) {
	e := packet.NewEchoChannel(&packettest.Endpoint{}, true)
	_, err := e.Receive(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, packet.ErrTimeout)
}

func TestReceiveSpurious(t *testing.T) {
	ep := &packettest.Endpoint{
		Wakes: []packettest.Wake{{Result: socket.Ready, Revents: unix.POLLPRI}},
		Data:  []packettest.Datagram{{Payload: []byte("HELLO")}},
	}
	e := packet.NewEchoChannel(ep, true)
	echo, err := e.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("HELLO"), echo.Payload)
	assert.Equal(t, 1, e.Stats().Spurious)
}

func TestReceiveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := packet.NewEchoChannel(&packettest.Endpoint{}, true).Receive(ctx, time.Second)
	assert.ErrorIs(t, err, packet.ErrCancelled)
}

// Exercises the real socket path over the loopback interface with software
// timestamps, which every kernel provides.
func TestLoopbackSoftwareTimestamps(t *testing.T) {
	rx, err := socket.Open(socket.Options{
		Bind:         &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)},
		Timestamping: packet.RxTimestamping,
	})
	if err != nil {
		t.Skipf("cannot open socket: %v", err)
	}
	defer rx.Close()
	local, err := rx.LocalAddr()
	require.NoError(t, err)

	tx, err := socket.Open(socket.Options{
		Timestamping:   packet.TxTimestamping,
		SelectErrQueue: true,
	})
	if err != nil {
		t.Skipf("cannot open socket: %v", err)
	}
	defer tx.Close()

	probe := packet.NewProbeChannel(tx, local)
	echo := packet.NewEchoChannel(rx, true)

	payload := packet.NewBeacon(1).Append(nil)
	_, err = probe.Send(payload)
	require.NoError(t, err)

	got, err := echo.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, payload, got.Payload)
	if got.Record.Empty() {
		t.Skip("kernel attached no receive timestamp")
	}

	rec, ok, err := probe.FetchCompletion(context.Background(), time.Second)
	if err != nil || !ok {
		t.Skipf("no tx completion on loopback: %v", err)
	}
	txTs, _ := rec.Preferred()
	rxTs, _ := got.Record.Preferred()
	assert.GreaterOrEqual(t, rxTs.Sub(txTs), time.Duration(0))
}
