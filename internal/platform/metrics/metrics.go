package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	VerdictsTotal         *prometheus.CounterVec
	RuleFailuresTotal     *prometheus.CounterVec
	ExceptionsRaisedTotal prometheus.Counter
	IPEBlockedTotal       prometheus.Counter
	AuditWriteFailures    prometheus.Counter
	RecommendationMisses  prometheus.Counter
	ChangeRunDuration     prometheus.Histogram
	VerdictCacheHits      prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		VerdictsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "changegate_verdicts_total",
			Help: "Verdicts computed, by overall status",
		}, []string{"status"}),
		RuleFailuresTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "changegate_rule_failures_total",
			Help: "Failing rule outcomes, by rule and reason code",
		}, []string{"rule", "reason"}),
		ExceptionsRaisedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "changegate_exceptions_raised_total",
			Help: "Exceptions opened by the exception handler",
		}),
		IPEBlockedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "changegate_ipe_blocked_total",
			Help: "Changes blocked by the IPE pre-check",
		}),
		AuditWriteFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "changegate_audit_write_failures_total",
			Help: "Audit trail append failures (fatal to the triggering operation)",
		}),
		RecommendationMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "changegate_recommendation_misses_total",
			Help: "Exceptions raised without an AI recommendation attached",
		}),
		ChangeRunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "changegate_change_run_duration_seconds",
			Help:    "Wall-clock duration of one change's pipeline run",
			Buckets: prometheus.DefBuckets,
		}),
		VerdictCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "changegate_verdict_cache_hits_total",
			Help: "Verdicts served from the snapshot-keyed cache",
		}),
	}
}
