package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for fetches. A nil *Metrics
// records nothing.
type Metrics struct {
	fetches      *prometheus.CounterVec
	fetchLatency *prometheus.HistogramVec
	guardTrips   *prometheus.CounterVec
	wallets      prometheus.Gauge
}

// NewMetrics creates the fetch collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_exchange_fetches_total",
				Help: "Fetches by key kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		fetchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "core_exchange_fetch_duration_seconds",
				Help:    "Collaborator call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		guardTrips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_exchange_rate_guard_rejections_total",
				Help: "Spot-rate snapshots rejected by the rate guard",
			},
			[]string{"fallback"},
		),
		wallets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "core_exchange_wallet_connected",
				Help: "1 while a wallet session is active",
			},
		),
	}

	reg.MustRegister(
		m.fetches,
		m.fetchLatency,
		m.guardTrips,
		m.wallets,
	)
	return m
}

func (m *Metrics) observe(kind string, outcome Outcome) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(kind, outcome.String()).Inc()
}

func (m *Metrics) observeDuration(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.fetchLatency.WithLabelValues(kind).Observe(d.Seconds())
}

// guardRejected counts a rejected snapshot; fallback tells whether the last
// good snapshot was served instead.
func (m *Metrics) guardRejected(fallback bool) {
	if m == nil {
		return
	}
	label := "none"
	if fallback {
		label = "last_good"
	}
	m.guardTrips.WithLabelValues(label).Inc()
}

func (m *Metrics) walletConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.wallets.Set(1)
	} else {
		m.wallets.Set(0)
	}
}
