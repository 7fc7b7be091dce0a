package session

import (
	"context"
	"errors"
	"time"

	"nanoping/pkg/packet"

	"github.com/ddirect/container/ttlmap"
)

type probeState struct {
	Probe
	Processed bool
}

func trackTTL(echoTimeout time.Duration) time.Duration {
	return max(10*echoTimeout, time.Second)
}

// roundTrip times a probe from its transmit completion to the arrival of its
// echo, either on the local echo socket (Loopback) or from a Pong peer (Ping).
func (s *Session) roundTrip() stepFunc {
	ttl := trackTTL(s.cfg.EchoTimeout)
	inflight, expired := ttlmap.New[uint64, probeState](ttl, ttl/10)

	drainExpired := func() {
		for {
			select {
			case seq := <-expired:
				for p := range seq {
					if !p.Value.Processed {
						s.logger.WithField("seq", p.Key()).Debug("probe expired without echo")
					}
				}
			default:
				return
			}
		}
	}

	// awaitEcho returns the echo of seq, skipping echoes of earlier probes.
	awaitEcho := func(ctx context.Context, seq uint64) (packet.Echo, error) {
		deadline := time.Now().Add(s.cfg.EchoTimeout)
		for {
			echo, err := s.echo.Receive(ctx, max(time.Until(deadline), 0))
			if err != nil {
				return echo, err
			}
			b, tagged := packet.ParseBeacon(echo.Payload)
			if !tagged || b.Seq == seq {
				return echo, nil
			}
			l := s.logger.WithField("seq", b.Seq)
			if p := inflight.Get(b.Seq); p.Present() && !p.Value.Processed {
				p.Value.Processed = true
				rx, _ := echo.Record.Preferred()
				l.WithField("rx", rx).Info("late echo")
			} else {
				s.stray.Do(func() { l.Debug("discarding stray echo") })
			}
		}
	}

	return func(ctx context.Context, seq uint64) ([]Outcome, error) {
		drainExpired()

		probe := Probe{Seq: seq, Payload: packet.NewBeacon(seq).Append(nil)}
		s.enter(Sending)
		tag, err := s.probe.Send(probe.Payload)
		if err != nil {
			return nil, err
		}
		probe.Tag = tag

		s.enter(AwaitingSendCompletion)
		rec, ok, err := s.probe.FetchCompletion(ctx, s.cfg.TxTimeout)
		if err != nil {
			return s.waitFailed(seq, err, ReasonNoTxTimestamp)
		}
		if !ok {
			return []Outcome{s.lost(seq, ReasonNoTxTimestamp)}, nil
		}
		probe.SendTime = rec
		txTs, txDom, reason := s.pick(rec, sideTx)
		inflight.Set(seq, probeState{Probe: probe})
		if reason != "" {
			// consume the echo so it is not taken for the next probe's
			if _, err := awaitEcho(ctx, seq); errors.Is(err, packet.ErrCancelled) {
				return []Outcome{s.lost(seq, ReasonInterrupted)}, nil
			} else if err != nil && !errors.Is(err, packet.ErrTimeout) {
				return nil, err
			}
			if p := inflight.Get(seq); p.Present() {
				p.Value.Processed = true
			}
			return []Outcome{s.lost(seq, reason)}, nil
		}

		s.enter(AwaitingEcho)
		echo, err := awaitEcho(ctx, seq)
		if err != nil {
			return s.waitFailed(seq, err, ReasonNoEcho)
		}
		if p := inflight.Get(seq); p.Present() {
			p.Value.Processed = true
		}
		rxTs, rxDom, reason := s.pick(echo.Record, sideRx)
		if reason != "" {
			return []Outcome{s.lost(seq, reason)}, nil
		}
		return []Outcome{s.sample(seq, txTs, rxTs, txDom, rxDom)}, nil
	}
}
