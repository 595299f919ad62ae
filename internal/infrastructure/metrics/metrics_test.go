package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordRun("COMPLETED")
	m.RecordRun("COMPLETED")
	m.RecordRun("PARTIAL")
	m.RecordRentPayment("completed", decimal.NewFromInt(470), decimal.NewFromInt(30))
	m.RecordRepayment(true)
	m.RecordMirrorCall("ISSUE_LOAN", errors.New("rpc down"))

	assert.Equal(t, float64(2), testutil.ToFloat64(m.distributionRuns.WithLabelValues("COMPLETED")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.distributionRuns.WithLabelValues("PARTIAL")))
	assert.Equal(t, float64(470), testutil.ToFloat64(m.rentDistributed))
	assert.Equal(t, float64(30), testutil.ToFloat64(m.interestDeducted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.repayments.WithLabelValues("full")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.mirrorCalls.WithLabelValues("ISSUE_LOAN", "error")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRun("FAILED")
		m.RecordLoanOpened("VAULT")
		m.SetDistributionRunning(true)
	})
}
