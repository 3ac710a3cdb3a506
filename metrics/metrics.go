// Package metrics holds the Prometheus collectors of the engine.
// Every method is safe on a nil *Metrics so engines can run without metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

type Metrics struct {
	commands        *prometheus.CounterVec
	payments        *prometheus.CounterVec
	hoursConsumed   *prometheus.CounterVec
	consumeRejected *prometheus.CounterVec
	cashFlow        *prometheus.CounterVec
	jobRuns         *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "membership_subscription_commands_total",
			Help: "Subscription commands by command and result.",
		}, []string{"command", "result"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "membership_payments_recorded_total",
			Help: "Payments appended to the ledger.",
		}, []string{"vertical", "method"}),
		hoursConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "membership_hours_consumed_total",
			Help: "Hours drawn from balance channels.",
		}, []string{"vertical", "channel_kind"}),
		consumeRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "membership_consume_rejected_total",
			Help: "Consumption requests rejected, by reason.",
		}, []string{"reason"}),
		cashFlow: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "membership_cashflow_entries_total",
			Help: "Cash-flow entries recorded or rejected.",
		}, []string{"direction", "result"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "membership_scheduler_job_runs_total",
			Help: "Scheduled job runs by job and result.",
		}, []string{"job", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.commands, m.payments, m.hoursConsumed, m.consumeRejected, m.cashFlow, m.jobRuns)
	}
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) Command(name string, err error) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(name, result(err)).Inc()
}

func (m *Metrics) Payment(vertical, method string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(vertical, method).Inc()
}

func (m *Metrics) HoursConsumed(vertical, channelKind string, hours decimal.Decimal) {
	if m == nil {
		return
	}
	f, _ := hours.Float64()
	m.hoursConsumed.WithLabelValues(vertical, channelKind).Add(f)
}

func (m *Metrics) ConsumeRejected(reason string) {
	if m == nil {
		return
	}
	m.consumeRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) CashFlow(direction string, err error) {
	if m == nil {
		return
	}
	m.cashFlow.WithLabelValues(direction, result(err)).Inc()
}

func (m *Metrics) JobRun(job string, err error) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, result(err)).Inc()
}
