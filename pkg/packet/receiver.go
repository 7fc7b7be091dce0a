package packet

import (
	"context"
	"slices"
	"time"

	"nanoping/pkg/socket"

	"golang.org/x/sys/unix"
)

const maxPayload = 1500

// Echo is one datagram taken off the data path together with its receive
// timestamps.
type Echo struct {
	Payload []byte
	From    unix.Sockaddr
	Record  Record
}

// EchoChannel receives inbound probes and reports when they arrived.
type EchoChannel struct {
	ep         Endpoint
	timestamps bool
	buf        []byte
	ctlBuf     []byte
	stats      ChannelStats
}

// NewEchoChannel reads from ep; with timestamps set the control messages of
// each datagram are decoded for receive timestamps.
func NewEchoChannel(ep Endpoint, timestamps bool) *EchoChannel {
	return &EchoChannel{
		ep:         ep,
		timestamps: timestamps,
		buf:        make([]byte, maxPayload),
		ctlBuf:     make([]byte, ctlBufSize),
	}
}

func (e *EchoChannel) Stats() ChannelStats {
	return e.stats
}

// TryReceive performs one non-blocking receive. ok is false when nothing was
// queued.
func (e *EchoChannel) TryReceive() (echo Echo, ok bool, err error) {
	n, ctlN, from, err := e.ep.Recv(e.buf, e.ctlBuf, 0)
	if err != nil {
		if socket.IsWouldBlock(err) {
			return Echo{}, false, nil
		}
		return Echo{}, false, &TransportError{"recvmsg", err}
	}

	echo = Echo{
		Payload: slices.Clone(e.buf[:n]),
		From:    from,
	}
	if e.timestamps {
		decoded := Decode(e.ctlBuf[:ctlN], false)
		e.stats.Skipped += decoded.Skipped
		if rec, found := decoded.Last(); found {
			echo.Record = rec
		}
	}
	echo.Record.PayloadLen = n
	return echo, true, nil
}

// Receive waits up to timeout for one datagram.
func (e *EchoChannel) Receive(ctx context.Context, timeout time.Duration) (Echo, error) {
	deadline := time.Now().Add(timeout)

	for first := true; ; first = false {
		if !first && !time.Now().Before(deadline) {
			return Echo{}, ErrTimeout
		}
		res, revents, err := e.ep.Wait(ctx, unix.POLLIN, max(time.Until(deadline), 0))
		if err != nil {
			return Echo{}, &TransportError{"wait echo", err}
		}
		switch res {
		case socket.Cancelled:
			return Echo{}, ErrCancelled
		case socket.TimedOut:
			return Echo{}, ErrTimeout
		}
		if revents&unix.POLLNVAL != 0 {
			return Echo{}, &TransportError{"wait echo", unix.EBADF}
		}
		if revents&(unix.POLLIN|unix.POLLERR) == 0 {
			e.stats.Spurious++
			continue
		}

		// with POLLERR the receive surfaces the pending socket error
		echo, ok, err := e.TryReceive()
		if err != nil {
			return Echo{}, err
		}
		if ok {
			return echo, nil
		}
	}
}
