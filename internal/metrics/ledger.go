package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		debitConflictsTotal,
		debitExhaustedTotal,
		refundClampedTotal,
	)
}

var (
	debitConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clinic_credit_debit_version_conflicts_total",
			Help: "Optimistic-lock conflicts observed while debiting or refunding.",
		},
	)

	debitExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clinic_credit_debit_retries_exhausted_total",
			Help: "Balance updates that gave up after the retry bound.",
		},
	)

	refundClampedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clinic_credit_refund_clamped_total",
			Help: "Refunds reduced to stay within the plan's total credits.",
		},
	)
)

func IncDebitConflict()  { debitConflictsTotal.Inc() }
func IncDebitExhausted() { debitExhaustedTotal.Inc() }
func IncRefundClamped()  { refundClampedTotal.Inc() }
