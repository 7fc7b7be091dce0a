package socket

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

type WaitResult int

const (
	Ready WaitResult = iota
	TimedOut
	Cancelled
)

func (r WaitResult) String() string {
	switch r {
	case Ready:
		return "ready"
	case TimedOut:
		return "timed out"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("WaitResult(%d)", int(r))
	}
}

// Waiter polls one descriptor with a deadline. Cancelling the context passed
// to Wait writes to an eventfd that is polled alongside, so the wait returns
// promptly instead of running out its timeout.
type Waiter struct {
	efd int
}

func NewWaiter() (*Waiter, error) {
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Waiter{efd: efd}, nil
}

func (w *Waiter) wake() {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	unix.Write(w.efd, one[:])
}

func (w *Waiter) drain() {
	var buf [8]byte
	for {
		if _, err := unix.Read(w.efd, buf[:]); err != unix.EINTR {
			return
		}
	}
}

// Wait blocks until fd reports one of events (or an error condition), the
// timeout elapses, or ctx is cancelled. The returned revents are only
// meaningful with Ready. A zero timeout polls once.
func (w *Waiter) Wait(ctx context.Context, fd int, events int16, timeout time.Duration) (WaitResult, int16, error) {
	w.drain()
	if ctx.Err() != nil {
		return Cancelled, 0, nil
	}

	stop := context.AfterFunc(ctx, w.wake)
	defer stop()

	deadline := time.Now().Add(timeout)
	fds := []unix.PollFd{
		{Fd: int32(fd), Events: events},
		{Fd: int32(w.efd), Events: unix.POLLIN},
	}
	for {
		remaining := max(time.Until(deadline), 0)
		ts := unix.NsecToTimespec(remaining.Nanoseconds())
		n, err := unix.Ppoll(fds, &ts, nil)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return 0, 0, fmt.Errorf("ppoll: %w", err)
		}
		if fds[1].Revents != 0 {
			w.drain()
			return Cancelled, 0, nil
		}
		if n < 1 || fds[0].Revents == 0 {
			return TimedOut, 0, nil
		}
		return Ready, fds[0].Revents, nil
	}
}

func (w *Waiter) Close() error {
	return unix.Close(w.efd)
}
