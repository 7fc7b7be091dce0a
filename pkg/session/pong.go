package session

import (
	"context"
	"errors"
	"time"

	"nanoping/pkg/packet"
	"nanoping/pkg/socket"

	"github.com/ddirect/container/ttlmap"
)

type peerState struct {
	Probes   uint64
	LastSeen packet.Timestamp
}

// pong echoes every inbound probe back to its sender. It produces one Echoed
// outcome per reply and nothing while idle.
func (s *Session) pong() stepFunc {
	peers, expired := ttlmap.New[string, peerState](time.Minute, time.Second)

	return func(ctx context.Context, seq uint64) ([]Outcome, error) {
		select {
		case gone := <-expired:
			for p := range gone {
				s.logger.WithField("peer", p.Key()).WithField("probes", p.Value.Probes).Info("peer expired")
			}
		default:
		}

		s.enter(AwaitingEcho)
		in, err := s.echo.Receive(ctx, s.cfg.EchoTimeout)
		if errors.Is(err, packet.ErrTimeout) || errors.Is(err, packet.ErrCancelled) {
			s.enter(Idle)
			return nil, nil
		} else if err != nil {
			return nil, err
		}

		from := socket.AddrToString(in.From)
		peer, found := peers.GetOrCreate(from)
		if !found {
			s.logger.WithField("peer", peer.Key()).Info("new peer")
		}
		rxTs, rxClk := in.Record.Preferred()
		peer.Value = peerState{Probes: peer.Value.Probes + 1, LastSeen: rxTs}

		if b, ok := packet.ParseBeacon(in.Payload); ok {
			seq = b.Seq
		}
		to := in.From
		if s.cfg.ReplyPort != 0 {
			to = socket.WithPort(to, s.cfg.ReplyPort)
		}

		s.enter(Sending)
		if _, err := s.probe.SendTo(in.Payload, to); err != nil {
			return nil, err
		}

		s.enter(AwaitingSendCompletion)
		l := s.logger.WithField("seq", seq).WithField("peer", from)
		rec, ok, err := s.probe.FetchCompletion(ctx, s.cfg.TxTimeout)
		switch {
		case errors.Is(err, packet.ErrTimeout), err == nil && !ok:
			l.Debug("no completion for reply")
		case errors.Is(err, packet.ErrCancelled):
		case err != nil:
			return nil, err
		default:
			txTs, txClk := rec.Preferred()
			if rxClk == txClk && rxClk != packet.ClockNone {
				l.WithField("clock", txClk).Debugf("turnaround %v", txTs.Sub(rxTs))
			}
		}

		s.enter(Computed)
		return []Outcome{{Mode: s.cfg.Mode, Seq: seq, Kind: KindEchoed, Peer: to}}, nil
	}
}
