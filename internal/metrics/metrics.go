// Package metrics exposes stream and cache activity as Prometheus series.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"membersonly-live/internal/logging"
)

const namespace = "membersonly_live"

// Metrics is safe to use through a nil pointer; every recorder is then a
// no-op.
type Metrics struct {
	registry          *prometheus.Registry
	eventsReceived    *prometheus.CounterVec
	eventsDropped     *prometheus.CounterVec
	invalidations     *prometheus.CounterVec
	reauthAttempts    *prometheus.CounterVec
	connectionsOpened prometheus.Counter
	abandoned         prometheus.Counter
	connectionState   *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_received_total",
			Help: "Stream events received, by event name.",
		}, []string{"event"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_dropped_total",
			Help: "Stream events dropped before routing, by cause.",
		}, []string{"cause"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_invalidations_total",
			Help: "Cache category invalidations issued.",
		}, []string{"category"}),
		reauthAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reauth_attempts_total",
			Help: "Token refreshes attempted after stream errors, by outcome.",
		}, []string{"outcome"}),
		connectionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_opened_total",
			Help: "Stream connections that reached the open state.",
		}),
		abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_abandoned_total",
			Help: "Times stream recovery was abandoned after the reauth budget ran out.",
		}),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connection_state",
			Help: "1 for the current stream connection state, 0 otherwise.",
		}, []string{"state"}),
	}
	m.registry.MustRegister(
		m.eventsReceived,
		m.eventsDropped,
		m.invalidations,
		m.reauthAttempts,
		m.connectionsOpened,
		m.abandoned,
		m.connectionState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) EventReceived(name string) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(name).Inc()
}

func (m *Metrics) EventDropped(cause string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(cause).Inc()
}

func (m *Metrics) Invalidated(category string) {
	if m == nil {
		return
	}
	m.invalidations.WithLabelValues(category).Inc()
}

func (m *Metrics) ReauthAttempt(outcome string) {
	if m == nil {
		return
	}
	m.reauthAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsOpened.Inc()
}

func (m *Metrics) Abandoned() {
	if m == nil {
		return
	}
	m.abandoned.Inc()
}

// SetConnectionState flags state as current and clears every other known
// state.
func (m *Metrics) SetConnectionState(state string, known []string) {
	if m == nil {
		return
	}
	for _, s := range known {
		value := 0.0
		if s == state {
			value = 1
		}
		m.connectionState.WithLabelValues(s).Set(value)
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errs := make(chan error, 1)
	go func() {
		logger.Info("metrics endpoint listening", logging.Field("addr", addr))
		errs <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
