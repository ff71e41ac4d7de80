package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_http_requests_total",
			Help: "Total number of HTTP requests served by the metrics listener.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askdb_http_request_duration_seconds",
			Help:    "Metrics listener request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_questions_total",
			Help: "Total number of answered questions by terminal status.",
		},
		[]string{"status"},
	)
	questionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_question_duration_seconds",
			Help:    "End-to-end latency of answer_question.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)
	repairAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_repair_attempts",
			Help:    "Number of generate/validate rounds used per question.",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		},
	)
	generationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_generation_errors_total",
			Help: "Completion service failures seen by the generator, by error kind.",
		},
		[]string{"kind"},
	)
	violationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_violations_total",
			Help: "Validation violations reported, by kind.",
		},
		[]string{"kind"},
	)
	sandboxExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_sandbox_executions_total",
			Help: "Sandbox executions by outcome.",
		},
		[]string{"outcome"},
	)
	sandboxDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_sandbox_duration_seconds",
			Help:    "Sandbox execution latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	sandboxTruncatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_sandbox_truncated_total",
			Help: "Sandbox executions whose result was capped at max rows.",
		},
	)
	catalogRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_catalog_refresh_total",
			Help: "Schema catalog builds by status.",
		},
		[]string{"status"},
	)
	auditRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_audit_records_total",
			Help: "Audit records handed to a sink, by sink and result.",
		},
		[]string{"sink", "result"},
	)
	clarificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_clarifications_total",
			Help: "Ambiguities detected in questions, by kind.",
		},
		[]string{"kind"},
	)
	joinTemplateMatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_join_template_matches_total",
			Help: "Questions matched to a join template, by best template and complexity.",
		},
		[]string{"template", "complexity"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		questionsTotal,
		questionDurationSeconds,
		repairAttempts,
		generationErrorsTotal,
		violationsTotal,
		sandboxExecutionsTotal,
		sandboxDurationSeconds,
		sandboxTruncatedTotal,
		catalogRefreshTotal,
		auditRecordsTotal,
		clarificationsTotal,
		joinTemplateMatchesTotal,
	)
}

func ObserveQuestion(status string, attempts int, elapsed time.Duration) {
	questionsTotal.WithLabelValues(status).Inc()
	questionDurationSeconds.Observe(elapsed.Seconds())
	if attempts > 0 {
		repairAttempts.Observe(float64(attempts))
	}
}

func IncrementGenerationError(kind string) {
	generationErrorsTotal.WithLabelValues(kind).Inc()
}

func IncrementViolation(kind string) {
	violationsTotal.WithLabelValues(kind).Inc()
}

func ObserveSandbox(outcome string, truncated bool, elapsed time.Duration) {
	sandboxExecutionsTotal.WithLabelValues(outcome).Inc()
	sandboxDurationSeconds.Observe(elapsed.Seconds())
	if truncated {
		sandboxTruncatedTotal.Inc()
	}
}

func IncrementCatalogRefresh(status string) {
	catalogRefreshTotal.WithLabelValues(status).Inc()
}

func IncrementAuditRecord(sink, result string) {
	auditRecordsTotal.WithLabelValues(sink, result).Inc()
}

func IncrementClarification(kind string) {
	clarificationsTotal.WithLabelValues(kind).Inc()
}

func IncrementJoinTemplateMatch(template, complexity string) {
	joinTemplateMatchesTotal.WithLabelValues(template, complexity).Inc()
}
