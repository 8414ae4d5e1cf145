// Copyright 2025 Aura Project
//
// Package metrics defines github.com/prometheus/client_golang collectors for
// the guard chain, journal coupler, ceremony tracker, and anti-entropy
// synchronizer. Only the guard-decision and coupler-attempt observers are
// called outside tests (by pkg/intent's interpreter); the ceremony tracker
// and synchronizer record nothing here. The teacher's go.mod lists client_golang but no teacher
// package actually registers a collector with it; this package is where
// Aura puts that dependency to real use.

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every collector one aura-node process exposes under
// /metrics. A nil *Registry is safe to call methods on: every method
// no-ops, so call sites never need a liveness check before recording.
type Registry struct {
	registry *prometheus.Registry

	GuardDecisions   *prometheus.CounterVec
	GuardLatency     prometheus.Histogram
	CouplerAttempts  *prometheus.CounterVec
	CouplerBackoff   prometheus.Histogram
	CeremonyStates   *prometheus.CounterVec
	CeremonyActive   prometheus.Gauge
	SyncSessions     prometheus.Gauge
	SyncReliability  *prometheus.GaugeVec
	SyncBytesXfer    *prometheus.CounterVec
}

// New constructs a Registry backed by a fresh prometheus.Registry rather
// than the global default, so multiple aura-node instances in one test
// binary never collide on collector names.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
		GuardDecisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "aura",
			Subsystem: "guard",
			Name:      "decisions_total",
			Help:      "Guard chain outcomes by gate and verdict.",
		}, []string{"gate", "verdict"}),
		GuardLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "aura",
			Subsystem: "guard",
			Name:      "evaluation_seconds",
			Help:      "Latency of one full guard chain evaluation.",
			Buckets:   prometheus.DefBuckets,
		}),
		CouplerAttempts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "aura",
			Subsystem: "coupler",
			Name:      "commit_attempts_total",
			Help:      "Journal coupler commit attempts by outcome.",
		}, []string{"outcome"}),
		CouplerBackoff: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "aura",
			Subsystem: "coupler",
			Name:      "backoff_seconds",
			Help:      "Backoff duration slept between retry attempts.",
			Buckets:   []float64{.01, .05, .1, .2, .4, .8, 1.6},
		}),
		CeremonyStates: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "aura",
			Subsystem: "ceremony",
			Name:      "state_transitions_total",
			Help:      "Ceremony tracker state transitions by kind and resulting state.",
		}, []string{"kind", "state"}),
		CeremonyActive: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "aura",
			Subsystem: "ceremony",
			Name:      "active",
			Help:      "Number of ceremonies not yet committed, failed, or timed out.",
		}),
		SyncSessions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "aura",
			Subsystem: "sync",
			Name:      "peer_sessions",
			Help:      "Number of concurrently open anti-entropy peer sessions.",
		}),
		SyncReliability: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "aura",
			Subsystem: "sync",
			Name:      "peer_reliability_ema",
			Help:      "Exponential moving average of peer sync reliability, by peer.",
		}, []string{"peer"}),
		SyncBytesXfer: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "aura",
			Subsystem: "sync",
			Name:      "bytes_total",
			Help:      "Bytes exchanged during anti-entropy sync, by direction.",
		}, []string{"direction"}),
	}
	return r
}

// Handler returns the http.Handler serving this registry's collectors in
// the Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Registry) ObserveGuardDecision(gate, verdict string) {
	if r == nil {
		return
	}
	r.GuardDecisions.WithLabelValues(gate, verdict).Inc()
}

func (r *Registry) ObserveCouplerAttempt(outcome string) {
	if r == nil {
		return
	}
	r.CouplerAttempts.WithLabelValues(outcome).Inc()
}

func (r *Registry) ObserveCeremonyTransition(kind, state string) {
	if r == nil {
		return
	}
	r.CeremonyStates.WithLabelValues(kind, state).Inc()
}

func (r *Registry) SetActiveCeremonies(n int) {
	if r == nil {
		return
	}
	r.CeremonyActive.Set(float64(n))
}

func (r *Registry) SetPeerReliability(peer string, ema float64) {
	if r == nil {
		return
	}
	r.SyncReliability.WithLabelValues(peer).Set(ema)
}

func (r *Registry) ObserveSyncBytes(direction string, n int) {
	if r == nil {
		return
	}
	r.SyncBytesXfer.WithLabelValues(direction).Add(float64(n))
}
