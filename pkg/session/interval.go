package session

import (
	"context"

	"nanoping/pkg/packet"
)

// mark is the previous timestamp of an interval measurement.
type mark struct {
	valid  bool
	ts     packet.Timestamp
	dom    Domain
	seq    uint64
	tagged bool
}

// advance moves prev to cur and returns the interval between them, or a
// baseline when the two cannot be compared.
func (s *Session) advance(prev *mark, cur mark, seq uint64) Outcome {
	last := *prev
	*prev = cur
	baseline := func(reason string) Outcome {
		s.enter(Computed)
		return Outcome{Mode: s.cfg.Mode, Seq: seq, Kind: KindBaseline, Reason: reason}
	}
	switch {
	case !last.valid:
		return baseline("")
	case last.dom != cur.dom:
		return baseline(reasonClockDomainSwap)
	case last.tagged && cur.tagged && cur.seq != last.seq+1:
		return baseline(reasonIntervalGap)
	}
	return s.sample(seq, last.ts, cur.ts, last.dom, cur.dom)
}

// interval times consecutive departures (TxOnly), consecutive arrivals
// (RxOnly), or both.
func (s *Session) interval() stepFunc {
	var prevTx, prevRx mark

	tx := func(ctx context.Context, seq uint64) (Outcome, error) {
		s.enter(Sending)
		if _, err := s.probe.Send(packet.NewBeacon(seq).Append(nil)); err != nil {
			return Outcome{}, err
		}
		s.enter(AwaitingSendCompletion)
		rec, ok, err := s.probe.FetchCompletion(ctx, s.cfg.TxTimeout)
		if err != nil {
			prevTx = mark{}
			o, err := s.waitFailed(seq, err, ReasonNoTxTimestamp)
			if err != nil {
				return Outcome{}, err
			}
			return o[0], nil
		}
		if !ok {
			prevTx = mark{}
			return s.lost(seq, ReasonNoTxTimestamp), nil
		}
		ts, dom, reason := s.pick(rec, sideTx)
		if reason != "" {
			prevTx = mark{}
			return s.lost(seq, reason), nil
		}
		return s.advance(&prevTx, mark{valid: true, ts: ts, dom: dom, seq: seq, tagged: true}, seq), nil
	}

	rx := func(ctx context.Context, seq uint64) (Outcome, error) {
		s.enter(AwaitingEcho)
		in, err := s.echo.Receive(ctx, s.cfg.EchoTimeout)
		if err != nil {
			prevRx = mark{}
			o, err := s.waitFailed(seq, err, ReasonNoProbe)
			if err != nil {
				return Outcome{}, err
			}
			return o[0], nil
		}
		ts, dom, reason := s.pick(in.Record, sideRx)
		if reason != "" {
			prevRx = mark{}
			return s.lost(seq, reason), nil
		}
		cur := mark{valid: true, ts: ts, dom: dom}
		if b, ok := packet.ParseBeacon(in.Payload); ok {
			cur.seq, cur.tagged = b.Seq, true
		}
		return s.advance(&prevRx, cur, seq), nil
	}

	return func(ctx context.Context, seq uint64) ([]Outcome, error) {
		var res []Outcome
		if s.cfg.Mode != RxOnly {
			o, err := tx(ctx, seq)
			if err != nil {
				return res, err
			}
			res = append(res, o)
			if o.Reason == ReasonInterrupted {
				return res, nil
			}
		}
		if s.cfg.Mode != TxOnly {
			o, err := rx(ctx, seq)
			if err != nil {
				return res, err
			}
			res = append(res, o)
		}
		return res, nil
	}
}
