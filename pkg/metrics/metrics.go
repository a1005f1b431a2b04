package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "honeymirror"

// Metrics holds the collectors for one server. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	factory        promauto.Factory
	sessionsTotal  prometheus.Counter
	activeSessions prometheus.Gauge
	evictionsTotal prometheus.Counter
	authAttempts   *prometheus.CounterVec
	broadcastBytes prometheus.Counter
	broadcastDrops prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of accepted connections",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of connections currently open",
		}),
		evictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_evictions_total",
			Help:      "Channel handles evicted from the registry to make room",
		}),
		authAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_attempts_total",
			Help:      "Authentication attempts by method and result",
		}, []string{"method", "result"}),
		broadcastBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_bytes_total",
			Help:      "Bytes delivered to peers through broadcast fan-out",
		}),
		broadcastDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_drops_total",
			Help:      "Broadcast writes skipped because the recipient could not take them",
		}),
	}
	m.factory = factory
	return m
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsTotal.Inc()
	m.activeSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// ObserveRegistry reports size() as the registry entry count on every scrape.
// Call it at most once per Metrics.
func (m *Metrics) ObserveRegistry(size func() int) {
	if m == nil {
		return
	}
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "registry_entries",
		Help:      "Number of channel handles in the broadcast registry",
	}, func() float64 {
		return float64(size())
	})
}

func (m *Metrics) Evicted() {
	if m == nil {
		return
	}
	m.evictionsTotal.Inc()
}

func (m *Metrics) AuthAttempt(method string, accepted bool) {
	if m == nil {
		return
	}
	result := "reject"
	if accepted {
		result = "accept"
	}
	m.authAttempts.WithLabelValues(method, result).Inc()
}

func (m *Metrics) Delivered(bytes int) {
	if m == nil {
		return
	}
	m.broadcastBytes.Add(float64(bytes))
}

func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.broadcastDrops.Inc()
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes g on addr under /metrics until ctx is cancelled.
func Serve(ctx context.Context, log *slog.Logger, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics listening", "addr", listener.Addr().String())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
