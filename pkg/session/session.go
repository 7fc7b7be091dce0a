// Package session drives the probe/completion/echo loop for one measurement
// session and turns timestamp pairs into latency samples.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nanoping/pkg/packet"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

// Prober is implemented by *packet.ProbeChannel.
type Prober interface {
	Send(payload []byte) (uint32, error)
	SendTo(payload []byte, to unix.Sockaddr) (uint32, error)
	FetchCompletion(ctx context.Context, timeout time.Duration) (packet.Record, bool, error)
}

// Echoer is implemented by *packet.EchoChannel.
type Echoer interface {
	Receive(ctx context.Context, timeout time.Duration) (packet.Echo, error)
}

var (
	_ Prober = (*packet.ProbeChannel)(nil)
	_ Echoer = (*packet.EchoChannel)(nil)
)

type Config struct {
	Mode Mode
	// Interval is the delay between probes.
	Interval time.Duration
	// TxTimeout bounds the wait for a transmit completion.
	TxTimeout time.Duration
	// EchoTimeout bounds the wait for an echo or inbound probe.
	EchoTimeout time.Duration
	// Count stops the session after that many probes; zero runs until
	// cancelled.
	Count uint64
	// RequireHardware discards timestamps that did not come from the NIC.
	RequireHardware bool
	// ReplyPort overrides the destination port of Pong replies.
	ReplyPort int
}

// Probe is the state of one outstanding probe.
type Probe struct {
	Seq      uint64
	Payload  []byte
	Tag      uint32
	SendTime packet.Record
}

type stepFunc func(ctx context.Context, seq uint64) ([]Outcome, error)

type Session struct {
	cfg    Config
	probe  Prober
	echo   Echoer
	report Reporter
	state  State
	step   stepFunc
	logger *log.Entry
	// stray throttles logging of echoes that match no probe
	stray rate.Sometimes
}

// New checks that the channels the mode needs are present. probe or echo may
// be nil when the mode does not use them.
func New(cfg Config, probe Prober, echo Echoer, report Reporter) (*Session, error) {
	if cfg.Mode.UsesProbe() && probe == nil {
		return nil, fmt.Errorf("mode %s needs a probe channel", cfg.Mode)
	}
	if cfg.Mode.UsesEcho() && echo == nil {
		return nil, fmt.Errorf("mode %s needs an echo channel", cfg.Mode)
	}
	if report == nil {
		report = ReporterFunc(func(Outcome) {})
	}

	s := &Session{
		cfg:    cfg,
		probe:  probe,
		echo:   echo,
		report: report,
		logger: log.WithField("mode", cfg.Mode),
		stray:  rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
	switch cfg.Mode {
	case Loopback, Ping:
		s.step = s.roundTrip()
	case Pong:
		s.step = s.pong()
	case TxOnly, RxOnly, TxAndRx:
		s.step = s.interval()
	default:
		return nil, fmt.Errorf("unsupported mode %s", cfg.Mode)
	}
	return s, nil
}

func (s *Session) State() State {
	return s.state
}

func (s *Session) enter(st State) {
	s.state = st
	s.logger.WithField("state", st).Trace("state")
}

// Run loops until ctx is cancelled or Count iterations produced outcomes. Only
// a transport error is returned; the session is then Aborted.
func (s *Session) Run(ctx context.Context) error {
	var produced uint64
	more := func() bool { return s.cfg.Count == 0 || produced < s.cfg.Count }
	for more() {
		if ctx.Err() != nil {
			return nil
		}

		s.enter(Idle)
		outcomes, err := s.step(ctx, produced+1)
		for _, o := range outcomes {
			s.report.Report(o)
		}
		if len(outcomes) > 0 {
			produced++
		}
		if err != nil {
			s.enter(Aborted)
			return err
		}
		if s.cfg.Mode.paced() && more() && !s.pause(ctx) {
			return nil
		}
	}
	return nil
}

// pause waits the inter-probe delay, counted from the end of the previous
// iteration. It reports false when ctx ended first.
func (s *Session) pause(ctx context.Context) bool {
	if s.cfg.Interval <= 0 {
		return true
	}
	t := time.NewTimer(s.cfg.Interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *Session) lost(seq uint64, reason string) Outcome {
	s.enter(Lost)
	return Outcome{Mode: s.cfg.Mode, Seq: seq, Kind: KindLost, Reason: reason}
}

// waitFailed turns a bounded-wait failure into a lost outcome; anything but a
// timeout or cancellation is returned as fatal.
func (s *Session) waitFailed(seq uint64, err error, reason string) ([]Outcome, error) {
	switch {
	case errors.Is(err, packet.ErrTimeout):
		return []Outcome{s.lost(seq, reason)}, nil
	case errors.Is(err, packet.ErrCancelled):
		return []Outcome{s.lost(seq, ReasonInterrupted)}, nil
	default:
		return nil, err
	}
}

// pick selects the timestamp of one side of a measurement.
func (s *Session) pick(rec packet.Record, sd side) (packet.Timestamp, Domain, string) {
	if s.cfg.RequireHardware {
		if !rec.HasHardware() {
			if sd == sideTx {
				return packet.Timestamp{}, 0, ReasonNoHardwareTx
			}
			return packet.Timestamp{}, 0, ReasonNoHardwareRx
		}
		return rec.Hardware, sd.domain(packet.ClockHardware), ""
	}
	ts, clk := rec.Preferred()
	if clk == packet.ClockNone {
		if sd == sideTx {
			return ts, 0, ReasonNoTxTimestamp
		}
		return ts, 0, ReasonNoRxTimestamp
	}
	return ts, sd.domain(clk), ""
}

func (s *Session) sample(seq uint64, start, end packet.Timestamp, startDom, endDom Domain) Outcome {
	s.enter(Computed)
	return Outcome{
		Mode: s.cfg.Mode,
		Seq:  seq,
		Kind: KindSample,
		Sample: Sample{
			Seq:   seq,
			Delta: end.Sub(start),
			Start: startDom,
			End:   endDom,
		},
	}
}
