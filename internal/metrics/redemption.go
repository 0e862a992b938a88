package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		tokensGeneratedTotal,
		generationRefusedTotal,
		redemptionsTotal,
		redemptionDuration,
		cancellationsTotal,
		pendingExpiredTotal,
	)
}

var (
	tokensGeneratedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinic_credit_tokens_generated_total",
			Help: "Redemption tokens issued, by token type.",
		},
		[]string{"token_type"},
	)

	generationRefusedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinic_credit_token_generation_refused_total",
			Help: "Token generation requests refused, by error code.",
		},
		[]string{"code"},
	)

	redemptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinic_credit_redemptions_total",
			Help: "Redemption attempts by outcome code (OK for success).",
		},
		[]string{"code"},
	)

	redemptionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clinic_credit_redemption_duration_seconds",
			Help:    "End-to-end redemption latency.",
			Buckets: prometheus.DefBuckets,
		},
	)

	cancellationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinic_credit_cancellations_total",
			Help: "Transactions cancelled, by whether credits were refunded.",
		},
		[]string{"refunded"},
	)

	pendingExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clinic_credit_pending_expired_total",
			Help: "Pending transactions moved to Expired by the sweeper.",
		},
	)
)

func IncTokensGenerated(tokenType string) {
	tokensGeneratedTotal.WithLabelValues(tokenType).Inc()
}

func IncGenerationRefused(code string) {
	generationRefusedTotal.WithLabelValues(code).Inc()
}

// ObserveRedemption records one redemption outcome; an empty code means success.
func ObserveRedemption(code string, d time.Duration) {
	if code == "" {
		code = "OK"
	}
	redemptionsTotal.WithLabelValues(code).Inc()
	redemptionDuration.Observe(d.Seconds())
}

func IncCancellation(refunded bool) {
	if refunded {
		cancellationsTotal.WithLabelValues("true").Inc()
		return
	}
	cancellationsTotal.WithLabelValues("false").Inc()
}

func AddPendingExpired(n int) {
	pendingExpiredTotal.Add(float64(n))
}
