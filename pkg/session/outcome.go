package session

import (
	"fmt"
	"time"

	"nanoping/pkg/packet"
	"nanoping/pkg/socket"

	"golang.org/x/sys/unix"
)

type State int

const (
	Idle State = iota
	Sending
	AwaitingSendCompletion
	AwaitingEcho
	Computed
	Lost
	Aborted
)

var stateNames = [...]string{
	Idle:                   "idle",
	Sending:                "sending",
	AwaitingSendCompletion: "awaiting-send-completion",
	AwaitingEcho:           "awaiting-echo",
	Computed:               "computed",
	Lost:                   "lost",
	Aborted:                "aborted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Domain names the clock a sample endpoint was read from.
type Domain uint8

const (
	TxHardware Domain = iota
	TxSoftware
	RxHardware
	RxSoftware
)

func (d Domain) String() string {
	switch d {
	case TxHardware:
		return "tx-hw"
	case TxSoftware:
		return "tx-sw"
	case RxHardware:
		return "rx-hw"
	case RxSoftware:
		return "rx-sw"
	default:
		return fmt.Sprintf("Domain(%d)", int(d))
	}
}

// Sample is one computed latency: End minus Start.
type Sample struct {
	Seq   uint64
	Delta time.Duration
	Start Domain
	End   Domain
}

type Kind int

const (
	KindSample Kind = iota
	KindLost
	// KindBaseline is the first timestamp of an interval measurement.
	KindBaseline
	// KindEchoed is a probe answered in Pong mode.
	KindEchoed
)

const (
	ReasonNoTxTimestamp   = "no tx timestamp"
	ReasonNoRxTimestamp   = "no rx timestamp"
	ReasonNoHardwareTx    = "no hardware tx timestamp"
	ReasonNoHardwareRx    = "no hardware rx timestamp"
	ReasonNoEcho          = "no echo"
	ReasonNoProbe         = "no probe"
	ReasonInterrupted     = "interrupted"
	reasonIntervalGap     = "interval spans lost probes"
	reasonClockDomainSwap = "clock domain changed"
)

// Outcome is reported once per completed, lost or echoed probe.
type Outcome struct {
	Mode   Mode
	Seq    uint64
	Kind   Kind
	Reason string
	Sample Sample
	Peer   unix.Sockaddr
}

func (o Outcome) String() string {
	switch o.Kind {
	case KindSample:
		label := "rtt"
		if o.Mode != Loopback && o.Mode != Ping {
			label = "interval"
		}
		return fmt.Sprintf("seq=%d %s=%v (%d ns) %v -> %v", o.Seq, label, o.Sample.Delta, o.Sample.Delta.Nanoseconds(), o.Sample.Start, o.Sample.End)
	case KindLost:
		return fmt.Sprintf("seq=%d lost: %s", o.Seq, o.Reason)
	case KindBaseline:
		if o.Reason != "" {
			return fmt.Sprintf("seq=%d baseline (%s)", o.Seq, o.Reason)
		}
		return fmt.Sprintf("seq=%d baseline", o.Seq)
	case KindEchoed:
		return fmt.Sprintf("seq=%d echoed to %s", o.Seq, socket.AddrToString(o.Peer))
	default:
		return fmt.Sprintf("seq=%d kind=%d", o.Seq, int(o.Kind))
	}
}

// Reporter receives every outcome; it must not block for long.
type Reporter interface {
	Report(Outcome)
}

type ReporterFunc func(Outcome)

func (f ReporterFunc) Report(o Outcome) { f(o) }

type side int

const (
	sideTx side = iota
	sideRx
)

func (sd side) domain(c packet.Clock) Domain {
	switch {
	case sd == sideTx && c == packet.ClockHardware:
		return TxHardware
	case sd == sideTx:
		return TxSoftware
	case c == packet.ClockHardware:
		return RxHardware
	default:
		return RxSoftware
	}
}
