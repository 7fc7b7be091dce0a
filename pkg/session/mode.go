package session

import (
	"fmt"
	"strings"

	"nanoping/pkg/hwtstamp"
)

// Mode is fixed for the lifetime of a session.
type Mode int

const (
	// Loopback sends probes to an echo socket on the same host.
	Loopback Mode = iota
	// Ping sends probes to a peer running Pong and times the reply.
	Ping
	// Pong echoes every probe back to its sender.
	Pong
	// TxOnly times the interval between consecutive transmit completions.
	TxOnly
	// RxOnly times the interval between consecutive received probes.
	RxOnly
	// TxAndRx runs TxOnly and RxOnly side by side.
	TxAndRx
)

var modeNames = [...]string{
	Loopback: "loopback",
	Ping:     "ping",
	Pong:     "pong",
	TxOnly:   "tx-only",
	RxOnly:   "rx-only",
	TxAndRx:  "tx-and-rx",
}

func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if strings.EqualFold(s, name) {
			return Mode(m), nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q (want one of %s)", s, strings.Join(modeNames[:], ", "))
}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

func (m Mode) UsesProbe() bool {
	return m != RxOnly
}

func (m Mode) UsesEcho() bool {
	return m != TxOnly
}

// NeedsPeer reports whether the mode originates probes towards a remote host.
func (m Mode) NeedsPeer() bool {
	return m == Ping || m == TxOnly || m == TxAndRx
}

// Hardware returns what the NIC has to timestamp for this mode.
func (m Mode) Hardware() (tx bool, rx hwtstamp.RxFilter) {
	switch m {
	case TxOnly:
		return true, hwtstamp.RxNone
	case RxOnly:
		return false, hwtstamp.RxAll
	default:
		return true, hwtstamp.RxAll
	}
}

// paced modes originate probes and wait the inter-probe delay between them.
func (m Mode) paced() bool {
	return m != Pong && m != RxOnly
}
