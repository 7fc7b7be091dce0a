package packet

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

const nsPerSec = 1_000_000_000

// Timestamp is a seconds+nanoseconds pair as reported by the kernel. Nsec is
// always in [0, 1e9). The zero value means "absent", matching how the kernel
// fills timestamp slots it has no value for.
type Timestamp struct {
	Sec  uint64
	Nsec uint32
}

// TimestampFromTimespec normalizes ts; it returns false when ts is zero or
// negative after normalization.
func TimestampFromTimespec(ts unix.Timespec) (Timestamp, bool) {
	sec, nsec := int64(ts.Sec), int64(ts.Nsec)
	sec += nsec / nsPerSec
	nsec %= nsPerSec
	if nsec < 0 {
		sec--
		nsec += nsPerSec
	}
	if sec < 0 || (sec == 0 && nsec == 0) {
		return Timestamp{}, false
	}
	return Timestamp{Sec: uint64(sec), Nsec: uint32(nsec)}, true
}

func (t Timestamp) IsZero() bool {
	return t.Sec == 0 && t.Nsec == 0
}

// Sub returns t-o. Seconds and nanoseconds are subtracted independently and a
// negative nanosecond difference borrows one second.
func (t Timestamp) Sub(o Timestamp) time.Duration {
	sec := int64(t.Sec - o.Sec)
	nsec := int64(t.Nsec) - int64(o.Nsec)
	if nsec < 0 {
		sec--
		nsec += nsPerSec
	}
	return time.Duration(sec*nsPerSec + nsec)
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%09d", t.Sec, t.Nsec)
}

// Clock identifies which timestamp slot a value came from.
type Clock uint8

const (
	ClockNone Clock = iota
	ClockSoftware
	ClockHardware
)

func (c Clock) String() string {
	switch c {
	case ClockSoftware:
		return "sw"
	case ClockHardware:
		return "hw"
	default:
		return "none"
	}
}

// Record holds what one timestamp notification carried.
type Record struct {
	Hardware Timestamp
	Software Timestamp
	// Tag is the SOF_TIMESTAMPING_OPT_ID key of the completion; only valid
	// when Tagged is set.
	Tag        uint32
	Tagged     bool
	PayloadLen int
}

func (r Record) HasHardware() bool { return !r.Hardware.IsZero() }
func (r Record) HasSoftware() bool { return !r.Software.IsZero() }

func (r Record) Empty() bool {
	return !r.HasHardware() && !r.HasSoftware()
}

// Preferred returns the raw hardware timestamp, falling back to the software
// one only when the hardware slot is absent.
func (r Record) Preferred() (Timestamp, Clock) {
	switch {
	case r.HasHardware():
		return r.Hardware, ClockHardware
	case r.HasSoftware():
		return r.Software, ClockSoftware
	default:
		return Timestamp{}, ClockNone
	}
}

var (
	ErrTimeout   = errors.New("timed out waiting for timestamp")
	ErrCancelled = errors.New("wait cancelled")
)

// TransportError is a send or receive failure other than "no data yet".
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

const (
	ctlBufSize = 512 // room for a few ScmTimestamping + SockExtendedErr pairs (64 + 48 bytes each on x86_64)

	// TxTimestamping is requested on probe sockets: hardware completion
	// stamps (software as a fallback), keyed with OPT_ID and without the
	// looped-back payload.
	TxTimestamping = unix.SOF_TIMESTAMPING_TX_HARDWARE |
		unix.SOF_TIMESTAMPING_RAW_HARDWARE |
		unix.SOF_TIMESTAMPING_TX_SOFTWARE |
		unix.SOF_TIMESTAMPING_SOFTWARE |
		unix.SOF_TIMESTAMPING_OPT_ID |
		unix.SOF_TIMESTAMPING_OPT_TSONLY

	// RxTimestamping is requested on echo sockets.
	RxTimestamping = unix.SOF_TIMESTAMPING_RX_HARDWARE |
		unix.SOF_TIMESTAMPING_RAW_HARDWARE |
		unix.SOF_TIMESTAMPING_RX_SOFTWARE |
		unix.SOF_TIMESTAMPING_SOFTWARE
)
