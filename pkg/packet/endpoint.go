package packet

import (
	"context"
	"time"

	"nanoping/pkg/socket"

	"golang.org/x/sys/unix"
)

// Endpoint is the socket surface the channels need; *socket.Conn implements it.
type Endpoint interface {
	Send(b []byte, to unix.Sockaddr) error
	Recv(p, oob []byte, flags int) (n, oobn int, from unix.Sockaddr, err error)
	Wait(ctx context.Context, events int16, timeout time.Duration) (socket.WaitResult, int16, error)
}

var _ Endpoint = (*socket.Conn)(nil)
