// Package metrics exposes the substrate's Prometheus collectors: tick
// counts, barrier latency, and dropped-frame counters for the broker and
// module runtime. Grounded on the Registry + CounterVec/HistogramVec/
// GaugeVec shape used throughout the proxy-* metrics packages, scaled
// down to the handful of signals this core actually emits.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the substrate registers.
type Metrics struct {
	registry *prometheus.Registry

	TicksTotal       *prometheus.CounterVec
	BarrierDuration  *prometheus.HistogramVec
	FramesDropped    *prometheus.CounterVec
	FramesDispatched prometheus.Counter
	NetMode          *prometheus.GaugeVec

	server *http.Server
}

// New registers the substrate's collectors under namespace into a fresh
// registry.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Number of ticks completed, by module ID.",
		}, []string{"module_id"}),
		BarrierDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "barrier_duration_seconds",
			Help:      "Time from first frame of a tick to broker dispatch.",
			Buckets:   prometheus.DefBuckets,
		}, []string{}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames dropped by the broker, by reason (unknown_edge, no_connection).",
		}, []string{"reason"}),
		FramesDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dispatched_total",
			Help:      "Frames the broker has fanned out across all ticks.",
		}),
		NetMode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "module_net_mode",
			Help:      "Current net mode rank (none=0..full=3) per module.",
		}, []string{"module_id"}),
	}

	reg.MustRegister(m.TicksTotal, m.BarrierDuration, m.FramesDropped, m.FramesDispatched, m.NetMode)
	return m
}

// Serve starts an HTTP server exposing /metrics on addr until ctx is
// cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	m.server = &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.server.Shutdown(shutdownCtx)
	}()

	if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
