package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type SettlementMetrics struct {
	submissions    *prometheus.CounterVec
	confirmWait    prometheus.Histogram
	gasTopUps      prometheus.Counter
	historyScans   prometheus.Histogram
	cacheLookups   *prometheus.CounterVec
	walletRegistry prometheus.Counter
}

var (
	settlementOnce     sync.Once
	settlementRegistry *SettlementMetrics
)

func Settlement() *SettlementMetrics {
	settlementOnce.Do(func() {
		settlementRegistry = &SettlementMetrics{
			submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "settlement_submissions_total",
				Help: "Count of signed transaction submissions by contract, method and outcome.",
			}, []string{"contract", "method", "outcome"}),
			confirmWait: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "settlement_confirmation_seconds",
				Help:    "Time spent waiting for a submitted transaction to be mined.",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
			}),
			gasTopUps: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "settlement_gas_topups_total",
				Help: "Count of native balance top-ups issued ahead of token operations.",
			}),
			historyScans: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "settlement_history_scan_seconds",
				Help:    "Duration of full transaction history projections.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			}),
			cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "settlement_cache_lookups_total",
				Help: "Cache lookups by namespace and result.",
			}, []string{"namespace", "result"}),
			walletRegistry: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "settlement_wallet_registrations_total",
				Help: "Count of wallet registrations written on-chain.",
			}),
		}
		prometheus.MustRegister(
			settlementRegistry.submissions,
			settlementRegistry.confirmWait,
			settlementRegistry.gasTopUps,
			settlementRegistry.historyScans,
			settlementRegistry.cacheLookups,
			settlementRegistry.walletRegistry,
		)
	})
	return settlementRegistry
}

func (m *SettlementMetrics) ObserveSubmission(contract, method, outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.submissions.WithLabelValues(contract, method, outcome).Inc()
}

func (m *SettlementMetrics) ObserveConfirmationWait(seconds float64) {
	if m == nil {
		return
	}
	m.confirmWait.Observe(seconds)
}

func (m *SettlementMetrics) ObserveGasTopUp() {
	if m == nil {
		return
	}
	m.gasTopUps.Inc()
}

func (m *SettlementMetrics) ObserveHistoryScan(seconds float64) {
	if m == nil {
		return
	}
	m.historyScans.Observe(seconds)
}

func (m *SettlementMetrics) ObserveCacheLookup(namespace string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(namespace, result).Inc()
}

func (m *SettlementMetrics) ObserveWalletRegistration() {
	if m == nil {
		return
	}
	m.walletRegistry.Inc()
}
