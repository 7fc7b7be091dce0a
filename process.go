package main

import (
	"fmt"
	"io"
	"time"

	"nanoping/pkg/metrics"
	"nanoping/pkg/packet"
	"nanoping/pkg/session"
	"nanoping/pkg/stats"

	log "github.com/sirupsen/logrus"
)

func b2s(b bool) string {
	if b {
		return "*"
	}
	return "-"
}

type channel interface {
	Stats() packet.ChannelStats
}

// reporter prints one line per outcome and keeps the running and final
// statistics.
type reporter struct {
	out      io.Writer
	mode     string
	window   *stats.Window[time.Duration]
	all      stats.Recorder
	metrics  *metrics.Metrics
	channels []channel
	seen     packet.ChannelStats
}

func newReporter(out io.Writer, conf Config, m *metrics.Metrics) *reporter {
	return &reporter{
		out:     out,
		mode:    conf.mode.String(),
		window:  stats.NewWindow[time.Duration](conf.MaxSamples, conf.MaxSpread),
		metrics: m,
	}
}

func (r *reporter) watch(c channel) {
	r.channels = append(r.channels, c)
}

func (r *reporter) Report(o session.Outcome) {
	switch o.Kind {
	case session.KindSample:
		d := o.Sample.Delta
		valid := r.window.Add(d)
		r.all.Add(d)
		if r.metrics != nil {
			r.metrics.ObserveSample(r.mode, d)
		}
		fmt.Fprintf(r.out, "%s %s %5d sampl %15v mean %15v sd\n", o, b2s(valid), r.window.Len(), r.window.Mean(), r.window.StdDev())
	case session.KindLost:
		if o.Reason != session.ReasonInterrupted {
			r.all.AddLost()
			if r.metrics != nil {
				r.metrics.ObserveLost(r.mode, o.Reason)
			}
		}
		fmt.Fprintln(r.out, o)
	default:
		fmt.Fprintln(r.out, o)
	}
	r.sync()
}

// sync forwards channel counter increments to the metrics.
func (r *reporter) sync() {
	var cur packet.ChannelStats
	for _, c := range r.channels {
		s := c.Stats()
		cur.Spurious += s.Spurious
		cur.Skipped += s.Skipped
		cur.Stale += s.Stale
	}
	if r.metrics != nil {
		r.metrics.Spurious.Add(float64(cur.Spurious - r.seen.Spurious))
		r.metrics.Skipped.Add(float64(cur.Skipped - r.seen.Skipped))
	}
	r.seen = cur
}

func (r *reporter) finish() {
	r.sync()
	s, err := r.all.Summary()
	if err != nil {
		log.WithError(err).Warn("cannot summarize samples")
		return
	}
	fmt.Fprintf(r.out, "--- %s statistics ---\n%s\n", r.mode, s)
	if r.window.Rejected() > 0 || r.seen != (packet.ChannelStats{}) {
		lo, hi := r.window.Bounds()
		log.WithFields(log.Fields{
			"outliers": r.window.Rejected(),
			"accept":   fmt.Sprintf("%v..%v", lo, hi),
			"spurious": r.seen.Spurious,
			"skipped":  r.seen.Skipped,
			"stale":    r.seen.Stale,
		}).Info("session counters")
	}
}
