// Package metrics exposes the service's prometheus instrumentation.
package metrics

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ClaimsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rcm",
		Name:      "claims_submitted_total",
		Help:      "Claims accepted by the ledger.",
	})

	ClaimsDecided = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rcm",
		Name:      "claims_decided_total",
		Help:      "Claim decisions by outcome.",
	}, []string{"outcome"})

	RescoreTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rcm",
		Name:      "rescore_timeouts_total",
		Help:      "Risk-scoring calls that exceeded their budget.",
	})

	StaleRescoresDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rcm",
		Name:      "stale_rescores_dropped_total",
		Help:      "Rescore results discarded by version fencing.",
	})

	PaymentsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rcm",
		Name:      "payments_applied_total",
		Help:      "Payments successfully applied to invoices.",
	})

	OverpaymentsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rcm",
		Name:      "overpayments_rejected_total",
		Help:      "Payments rejected for exceeding an invoice total.",
	})

	VerificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rcm",
		Name:      "gateway_verification_failures_total",
		Help:      "Gateway payment verifications that failed the signature check.",
	})

	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rcm",
		Name:      "risk_sync_runs_total",
		Help:      "Risk-sync reconciliation runs by result.",
	}, []string{"result"}) // ok, error, skipped

	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rcm",
		Name:      "risk_sync_duration_seconds",
		Help:      "Duration of risk-sync reconciliation runs.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Handler returns the /metrics endpoint handler.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}
