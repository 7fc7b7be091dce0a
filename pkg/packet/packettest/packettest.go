// Package packettest provides a scripted packet.Endpoint and builders for the
// control messages the kernel attaches to timestamped datagrams.
package packettest

import (
	"context"
	"encoding/binary"
	"slices"
	"time"
	"unsafe"

	"nanoping/pkg/packet"
	"nanoping/pkg/socket"

	"golang.org/x/sys/unix"
)

// Wake is a scripted result for one Wait call.
type Wake struct {
	Result  socket.WaitResult
	Revents int16
	Err     error
}

type Datagram struct {
	Payload []byte
	OOB     []byte
	From    unix.Sockaddr
	Err     error
}

type Sent struct {
	Payload []byte
	To      unix.Sockaddr
}

// Endpoint replays scripted wakes and queued datagrams. Once Wakes is
// exhausted, Wait reports Ready when a queue matching the requested events
// holds data and TimedOut otherwise, without sleeping.
type Endpoint struct {
	Wakes    []Wake
	ErrQueue []Datagram
	Data     []Datagram
	Sent     []Sent
	SendErr  error
	// OnSend runs after every successful send.
	OnSend func(payload []byte, to unix.Sockaddr)

	Waits    int
	Timeouts []time.Duration
}

func (e *Endpoint) Send(b []byte, to unix.Sockaddr) error {
	if e.SendErr != nil {
		return e.SendErr
	}
	e.Sent = append(e.Sent, Sent{slices.Clone(b), to})
	if e.OnSend != nil {
		e.OnSend(b, to)
	}
	return nil
}

func (e *Endpoint) Recv(p, oob []byte, flags int) (n, oobn int, from unix.Sockaddr, err error) {
	q := &e.Data
	if flags&unix.MSG_ERRQUEUE != 0 {
		q = &e.ErrQueue
	}
	if len(*q) == 0 {
		return 0, 0, nil, unix.EAGAIN
	}
	d := (*q)[0]
	*q = (*q)[1:]
	if d.Err != nil {
		return 0, 0, nil, d.Err
	}
	return copy(p, d.Payload), copy(oob, d.OOB), d.From, nil
}

func (e *Endpoint) Wait(ctx context.Context, events int16, timeout time.Duration) (socket.WaitResult, int16, error) {
	e.Waits++
	e.Timeouts = append(e.Timeouts, timeout)
	if ctx.Err() != nil {
		return socket.Cancelled, 0, nil
	}
	if len(e.Wakes) > 0 {
		w := e.Wakes[0]
		e.Wakes = e.Wakes[1:]
		return w.Result, w.Revents, w.Err
	}
	if events&unix.POLLPRI != 0 && len(e.ErrQueue) > 0 {
		return socket.Ready, unix.POLLPRI | unix.POLLERR, nil
	}
	if events&unix.POLLIN != 0 && len(e.Data) > 0 {
		return socket.Ready, unix.POLLIN, nil
	}
	return socket.TimedOut, 0, nil
}

// Cmsg encodes one control message the way the kernel lays it out.
func Cmsg(level, typ int, data []byte) []byte {
	b := make([]byte, unix.CmsgSpace(len(data)))
	h := (*unix.Cmsghdr)(unsafe.Pointer(&b[0]))
	h.Level = int32(level)
	h.Type = int32(typ)
	h.SetLen(unix.CmsgLen(len(data)))
	copy(b[unix.CmsgLen(0):], data)
	return b
}

func timespec(t packet.Timestamp) unix.Timespec {
	return unix.NsecToTimespec(int64(t.Sec)*1e9 + int64(t.Nsec))
}

// Timestamping builds an SCM_TIMESTAMPING message; a zero Timestamp leaves
// its slot empty.
func Timestamping(sw, hw packet.Timestamp) []byte {
	scm := unix.ScmTimestamping{}
	if !sw.IsZero() {
		scm.Ts[0] = timespec(sw)
	}
	if !hw.IsZero() {
		scm.Ts[2] = timespec(hw)
	}
	data, err := binary.Append(nil, binary.NativeEndian, &scm)
	if err != nil {
		panic(err)
	}
	return Cmsg(unix.SOL_SOCKET, unix.SCM_TIMESTAMPING, data)
}

// ExtendedErr builds an IP_RECVERR message.
func ExtendedErr(origin uint8, tag uint32) []byte {
	ee := unix.SockExtendedErr{
		Errno:  uint32(unix.ENOMSG),
		Origin: origin,
		Data:   tag,
	}
	data, err := binary.Append(nil, binary.NativeEndian, &ee)
	if err != nil {
		panic(err)
	}
	// the kernel appends the offender address
	data = append(data, make([]byte, unix.SizeofSockaddrInet4)...)
	return Cmsg(unix.SOL_IP, unix.IP_RECVERR, data)
}

// Completion is what one error-queue read carries for a hardware TX stamp.
func Completion(hw packet.Timestamp, tag uint32) []byte {
	return slices.Concat(
		Timestamping(packet.Timestamp{}, hw),
		ExtendedErr(unix.SO_EE_ORIGIN_TIMESTAMPING, tag),
	)
}

func TS(sec uint64, nsec uint32) packet.Timestamp {
	return packet.Timestamp{Sec: sec, Nsec: nsec}
}

func Addr(ip [4]byte, port int) unix.Sockaddr {
	return &unix.SockaddrInet4{Addr: ip, Port: port}
}
