// Package metrics exports session outcomes as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const namespace = "nanoping"

type Metrics struct {
	Samples  *prometheus.CounterVec
	Lost     *prometheus.CounterVec
	Latency  *prometheus.HistogramVec
	Spurious prometheus.Counter
	Skipped  prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Latency samples computed.",
		}, []string{"mode"}),
		Lost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lost_total",
			Help:      "Probes declared lost, by reason.",
		}, []string{"mode", "reason"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "latency_seconds",
			Help:      "Measured latency or interval.",
			// 100ns .. ~100ms
			Buckets: prometheus.ExponentialBuckets(100e-9, 2, 21),
		}, []string{"mode"}),
		Spurious: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spurious_wakes_total",
			Help:      "Waits woken by something other than the expected notification.",
		}),
		Skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_records_total",
			Help:      "Control messages rejected while decoding timestamps.",
		}),
	}
	reg.MustRegister(m.Samples, m.Lost, m.Latency, m.Spurious, m.Skipped)
	return m
}

func (m *Metrics) ObserveSample(mode string, d time.Duration) {
	m.Samples.WithLabelValues(mode).Inc()
	m.Latency.WithLabelValues(mode).Observe(d.Seconds())
}

func (m *Metrics) ObserveLost(mode, reason string) {
	m.Lost.WithLabelValues(mode, reason).Inc()
}

// Serve exposes g on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server")
		}
	}()
	log.Infof("serving metrics on http://%s/metrics", ln.Addr())
	return nil
}
