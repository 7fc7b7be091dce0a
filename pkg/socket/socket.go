package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

func Addr(x *net.UDPAddr) unix.Sockaddr {
	res := &unix.SockaddrInet4{
		Port: x.Port,
	}
	copy(res.Addr[:], x.IP.To4())
	return res
}

func AddrToString(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(v.Addr[:])
		return fmt.Sprintf("%s:%d", ip, v.Port)
	case *unix.SockaddrInet6:
		ip := net.IP(v.Addr[:])
		return fmt.Sprintf("[%s]:%d", ip, v.Port)
	case *unix.SockaddrUnix:
		return v.Name
	case nil:
		return "<nil>"
	default:
		return fmt.Sprintf("<%T>", v)
	}
}

// WithPort returns a copy of sa with the port replaced; other address types
// are returned unchanged.
func WithPort(sa unix.Sockaddr, port int) unix.Sockaddr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		res := *v
		res.Port = port
		return &res
	case *unix.SockaddrInet6:
		res := *v
		res.Port = port
		return &res
	default:
		return sa
	}
}

// SetupError is a failure creating or configuring a socket.
type SetupError struct {
	Op  string
	Err error
}

func (e *SetupError) Error() string {
	return "socket setup: " + e.Op + ": " + e.Err.Error()
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

type Options struct {
	// Interface binds the socket to a device (SO_BINDTODEVICE); empty skips it.
	Interface string
	// Bind is the local address; nil leaves the socket unbound until the
	// first send.
	Bind *net.UDPAddr
	// Timestamping is the SO_TIMESTAMPING flag set; zero leaves it off.
	Timestamping int
	// SelectErrQueue makes error-queue data signal POLLPRI.
	SelectErrQueue bool
}

// Conn is a non-blocking IPv4 datagram socket with a cancellable wait.
type Conn struct {
	fd     int
	waiter *Waiter
}

func Open(opts Options) (*Conn, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, &SetupError{"socket", err}
	}
	c := &Conn{fd: fd}
	if err := c.setup(opts); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if c.waiter, err = NewWaiter(); err != nil {
		unix.Close(fd)
		return nil, &SetupError{"eventfd", err}
	}
	return c, nil
}

func (c *Conn) setup(opts Options) error {
	if opts.Interface != "" {
		if err := unix.BindToDevice(c.fd, opts.Interface); err != nil {
			return &SetupError{"SO_BINDTODEVICE " + opts.Interface, err}
		}
	}
	if opts.Bind != nil {
		if err := unix.SetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return &SetupError{"SO_REUSEADDR", err}
		}
		if err := unix.Bind(c.fd, Addr(opts.Bind)); err != nil {
			return &SetupError{"bind " + opts.Bind.String(), err}
		}
	}
	if opts.Timestamping != 0 {
		if err := unix.SetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_TIMESTAMPING, opts.Timestamping); err != nil {
			return &SetupError{"SO_TIMESTAMPING", err}
		}
	}
	if opts.SelectErrQueue {
		if err := unix.SetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_SELECT_ERR_QUEUE, 1); err != nil {
			return &SetupError{"SO_SELECT_ERR_QUEUE", err}
		}
	}
	return nil
}

func (c *Conn) Send(b []byte, to unix.Sockaddr) error {
	if err := unix.Sendto(c.fd, b, 0, to); err != nil {
		return fmt.Errorf("sendto: %w", err)
	}
	return nil
}

// Recv never blocks: MSG_DONTWAIT is always added to flags. An empty queue
// is reported as unix.EAGAIN.
func (c *Conn) Recv(p, oob []byte, flags int) (n, oobn int, from unix.Sockaddr, err error) {
	for {
		n, oobn, _, from, err = unix.Recvmsg(c.fd, p, oob, flags|unix.MSG_DONTWAIT)
		if err == unix.EINTR {
			continue
		}
		return
	}
}

func (c *Conn) Wait(ctx context.Context, events int16, timeout time.Duration) (WaitResult, int16, error) {
	return c.waiter.Wait(ctx, c.fd, events, timeout)
}

func (c *Conn) LocalAddr() (unix.Sockaddr, error) {
	return unix.Getsockname(c.fd)
}

func (c *Conn) Close() error {
	return errors.Join(c.waiter.Close(), unix.Close(c.fd))
}

// IsWouldBlock reports whether err means "nothing queued yet".
func IsWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
