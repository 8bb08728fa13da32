// Package metrics holds the Prometheus collectors of the query pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// questionsTotal counts answered questions.
	// Labels: scope, intent, source (database, general_knowledge, meta)
	questionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nlq",
		Subsystem: "pipeline",
		Name:      "questions_total",
		Help:      "Answered questions by scope, intent and answer source",
	}, []string{"scope", "intent", "source"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nlq",
		Subsystem: "pipeline",
		Name:      "retries_total",
		Help:      "Retry planner invocations by intent",
	}, []string{"intent"})

	// guardRejectionsTotal counts statements refused before execution.
	// Labels: reason (empty, multiple_statements, not_select, forbidden_keyword, comment)
	guardRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nlq",
		Subsystem: "guard",
		Name:      "rejections_total",
		Help:      "Statements rejected by the SQL guard by reason",
	}, []string{"reason"})

	statementSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nlq",
		Subsystem: "db",
		Name:      "statement_seconds",
		Help:      "Statement execution latency by outcome",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"outcome"})

	// failuresTotal counts requests that ended in an error.
	// Labels: kind (connection, planner, exhausted, synthesis)
	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nlq",
		Subsystem: "pipeline",
		Name:      "failures_total",
		Help:      "Failed questions by failure kind",
	}, []string{"kind"})
)

// RecordQuestion records one answered question.
func RecordQuestion(scope, intent, source string) {
	questionsTotal.WithLabelValues(scope, intent, source).Inc()
}

// RecordRetry records one retry planner invocation.
func RecordRetry(intent string) {
	retriesTotal.WithLabelValues(intent).Inc()
}

// RecordGuardRejection records a guard refusal.
func RecordGuardRejection(reason string) {
	guardRejectionsTotal.WithLabelValues(reason).Inc()
}

// ObserveStatement records how long one statement took and whether it
// succeeded.
func ObserveStatement(d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	statementSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordFailure records a failed question.
func RecordFailure(kind string) {
	failuresTotal.WithLabelValues(kind).Inc()
}
