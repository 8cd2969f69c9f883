package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the panel's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	guardBlocks       *prometheus.CounterVec
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	historyFetches    *prometheus.CounterVec
	balanceFailures   prometheus.Counter
	notices           *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		guardBlocks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenpanel_guard_blocks_total",
			Help: "Operations blocked before execution, by failing check",
		}, []string{"check"}),

		operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenpanel_operations_total",
			Help: "Operations run, by name and outcome",
		}, []string{"operation", "outcome"}),

		operationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tokenpanel_operation_duration_seconds",
			Help:    "Wall time of operations including ledger round-trips",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"operation"}),

		historyFetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenpanel_history_fetches_total",
			Help: "Transfer history fetches, by result (fresh, stale, error)",
		}, []string{"result"}),

		balanceFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "tokenpanel_balance_failures_total",
			Help: "Per-account balance queries that failed during aggregation",
		}),

		notices: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenpanel_notices_total",
			Help: "Notices delivered to chats, by severity and result",
		}, []string{"severity", "result"}),
	}
}

func (m *Metrics) GuardBlocked(check string) {
	if m == nil {
		return
	}
	m.guardBlocks.WithLabelValues(check).Inc()
}

func (m *Metrics) OperationDone(op string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.operationDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) HistoryFetched(result string) {
	if m == nil {
		return
	}
	m.historyFetches.WithLabelValues(result).Inc()
}

func (m *Metrics) BalanceFailed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.balanceFailures.Add(float64(n))
}

func (m *Metrics) NoticeSent(severity string, err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "error"
	}
	m.notices.WithLabelValues(severity, result).Inc()
}
