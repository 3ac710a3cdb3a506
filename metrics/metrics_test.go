package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoOp(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Command("renew", nil)
		m.Payment("badminton", "cash")
		m.HoursConsumed("badminton", "base", decimal.NewFromInt(1))
		m.ConsumeRejected("insufficient_balance")
		m.CashFlow("expense", errors.New("x"))
		m.JobRun("expire-packages", nil)
	})
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Command("renew", nil)
	m.Command("renew", errors.New("denied"))
	m.Command("renew", nil)
	m.HoursConsumed("badminton", "monthly", decimal.RequireFromString("1.5"))
	m.HoursConsumed("badminton", "monthly", decimal.NewFromInt(2))
	m.JobRun("sweep-freezes", nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.commands.WithLabelValues("renew", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("renew", "error")))
	assert.Equal(t, 3.5, testutil.ToFloat64(m.hoursConsumed.WithLabelValues("badminton", "monthly")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("sweep-freezes", "ok")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
