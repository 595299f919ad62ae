package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Metrics wraps the ledger's Prometheus collectors.
type Metrics struct {
	distributionRuns  *prometheus.CounterVec
	rentPayments      *prometheus.CounterVec
	rentDistributed   prometheus.Counter
	interestDeducted  prometheus.Counter
	loansOpened       *prometheus.CounterVec
	repayments        *prometheus.CounterVec
	mirrorCalls       *prometheus.CounterVec
	distributionInUse prometheus.Gauge
}

// New registers the collectors on reg. A nil registerer leaves them
// unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		distributionRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "distribution_runs_total",
			Help:      "Distribution runs by final status.",
		}, []string{"status"}),
		rentPayments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "rent_payments_total",
			Help:      "Rent payments processed by outcome.",
		}, []string{"outcome"}),
		rentDistributed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "rent_distributed_net_total",
			Help:      "Net rent credited to vaults, in currency units.",
		}),
		interestDeducted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "rent_interest_deducted_total",
			Help:      "Interest collected out of rent, in currency units.",
		}),
		loansOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "loans_opened_total",
			Help:      "Borrow positions opened by disbursement method.",
		}, []string{"disbursement"}),
		repayments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "repayments_total",
			Help:      "Repayments by kind (full or partial).",
		}, []string{"kind"}),
		mirrorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "mirror_calls_total",
			Help:      "On-chain mirror calls by operation and result.",
		}, []string{"operation", "result"}),
		distributionInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ledger",
			Name:      "distribution_running",
			Help:      "1 while a distribution run is in progress.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.distributionRuns,
			m.rentPayments,
			m.rentDistributed,
			m.interestDeducted,
			m.loansOpened,
			m.repayments,
			m.mirrorCalls,
			m.distributionInUse,
		)
	}
	return m
}

func (m *Metrics) RecordRun(status string) {
	if m == nil {
		return
	}
	m.distributionRuns.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordRentPayment(outcome string, net, interest decimal.Decimal) {
	if m == nil {
		return
	}
	m.rentPayments.WithLabelValues(outcome).Inc()
	m.rentDistributed.Add(net.InexactFloat64())
	m.interestDeducted.Add(interest.InexactFloat64())
}

func (m *Metrics) RecordLoanOpened(disbursement string) {
	if m == nil {
		return
	}
	m.loansOpened.WithLabelValues(disbursement).Inc()
}

func (m *Metrics) RecordRepayment(full bool) {
	if m == nil {
		return
	}
	kind := "partial"
	if full {
		kind = "full"
	}
	m.repayments.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordMirrorCall(operation string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.mirrorCalls.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) SetDistributionRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.distributionInUse.Set(1)
		return
	}
	m.distributionInUse.Set(0)
}
