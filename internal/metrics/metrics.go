// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "metamarket"

// Metrics holds every collector, registered on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	tradesTotal        *prometheus.CounterVec
	tradeFlow          *prometheus.CounterVec
	settlementFailures prometheus.Counter
	settlementLatency  prometheus.Histogram
	persistFailures    prometheus.Counter
	snapshotQueueDepth prometheus.Gauge
	marketsTotal       prometheus.Gauge
}

// New builds and registers the collectors, plus the Go runtime and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		tradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Executed trades.",
		}, []string{"outcome", "side"}),
		tradeFlow: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trade_flow_total",
			Help:      "Ledger tokens exchanged by executed trades.",
		}, []string{"side"}),
		settlementFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_failures_total",
			Help:      "Trades aborted because settlement failed.",
		}),
		settlementLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settlement_duration_seconds",
			Help:      "Settlement provider round trip.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_write_failures_total",
			Help:      "Snapshot saves that failed.",
		}),
		snapshotQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_queue_depth",
			Help:      "Snapshot saves waiting for the writer.",
		}),
		marketsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "markets",
			Help:      "Markets held by the ledger.",
		}),
	}
	reg.MustRegister(
		m.tradesTotal,
		m.tradeFlow,
		m.settlementFailures,
		m.settlementLatency,
		m.persistFailures,
		m.snapshotQueueDepth,
		m.marketsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) TradeExecuted(outcome string, isBuy bool, flow float64) {
	side := "sell"
	if isBuy {
		side = "buy"
	}
	m.tradesTotal.WithLabelValues(outcome, side).Inc()
	m.tradeFlow.WithLabelValues(side).Add(flow)
}

func (m *Metrics) SettlementObserved(d time.Duration, ok bool) {
	m.settlementLatency.Observe(d.Seconds())
	if !ok {
		m.settlementFailures.Inc()
	}
}

func (m *Metrics) PersistFailed() { m.persistFailures.Inc() }

func (m *Metrics) SetSnapshotQueueDepth(depth int) { m.snapshotQueueDepth.Set(float64(depth)) }

func (m *Metrics) SetMarkets(n int) { m.marketsTotal.Set(float64(n)) }
