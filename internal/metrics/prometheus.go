// Package metrics provides Prometheus metrics collection for riskgate services
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskgate",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskgate",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method", "path"},
	)

	httpRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "riskgate",
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
		[]string{"service"},
	)
)

// Assessment metrics
var (
	assessmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskgate",
			Name:      "assessments_total",
			Help:      "Total number of risk assessments by resulting level",
		},
		[]string{"service", "risk_level"},
	)

	assessmentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskgate",
			Name:      "assessment_duration_seconds",
			Help:      "End-to-end risk assessment latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"service"},
	)

	riskScoreHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskgate",
			Name:      "risk_score",
			Help:      "Risk score distribution for assessed events",
			Buckets:   []float64{0, 10, 25, 50, 75, 90, 100}, // 0-100 scale
		},
		[]string{"service", "scheme"}, // scheme: weighted_average, additive_severity
	)

	threatMatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskgate",
			Name:      "threat_matches_total",
			Help:      "Total number of threat indicator matches",
		},
		[]string{"threat_type", "severity"},
	)

	anomaliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskgate",
			Name:      "behavioral_anomalies_total",
			Help:      "Total number of detected behavioral anomalies",
		},
		[]string{"anomaly_type", "severity"},
	)

	actionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskgate",
			Name:      "auth_actions_total",
			Help:      "Total number of required authentication actions emitted",
		},
		[]string{"action"},
	)
)

// Oracle and storage metrics
var (
	oracleLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskgate",
			Name:      "oracle_lookups_total",
			Help:      "Total number of enrichment oracle lookups",
		},
		[]string{"oracle", "outcome"}, // outcome: ok, error, timeout
	)

	cacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskgate",
			Name:      "cache_operations_total",
			Help:      "Total number of cache operations",
		},
		[]string{"service", "operation", "outcome"}, // operation: get, set, delete; outcome: hit, miss, error
	)

	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskgate",
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"service", "operation", "table"},
	)
)

// Privileged session metrics
var (
	// ActivePrivilegedSessions tracks open privileged sessions.
	ActivePrivilegedSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "riskgate",
			Name:      "active_privileged_sessions",
			Help:      "Number of open privileged sessions being tracked",
		},
		[]string{"service"},
	)

	sessionReviewsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskgate",
			Name:      "session_reviews_total",
			Help:      "Total number of closed privileged sessions by review outcome",
		},
		[]string{"requires_review"}, // "true" or "false"
	)
)

// Middleware returns a Gin middleware that records HTTP metrics.
// serviceName is used as the "service" label on all metrics.
func Middleware(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}

		// Skip metrics endpoint itself to avoid recursion
		if path == "/metrics" {
			c.Next()
			return
		}

		httpRequestsInFlight.WithLabelValues(serviceName).Inc()
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method

		httpRequestsTotal.WithLabelValues(serviceName, method, path, status).Inc()
		httpRequestDuration.WithLabelValues(serviceName, method, path).Observe(duration)
		httpRequestsInFlight.WithLabelValues(serviceName).Dec()
	}
}

// Handler returns a gin.HandlerFunc that serves Prometheus metrics.
// Register this on the "/metrics" route.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordAssessment records a completed risk assessment
func RecordAssessment(service, riskLevel string, duration time.Duration) {
	assessmentsTotal.WithLabelValues(service, riskLevel).Inc()
	assessmentDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordRiskScore records a risk score under the named aggregation scheme
func RecordRiskScore(service, scheme string, score float64) {
	riskScoreHistogram.WithLabelValues(service, scheme).Observe(score)
}

// RecordThreatMatch records a threat indicator match
func RecordThreatMatch(threatType, severity string) {
	threatMatchesTotal.WithLabelValues(threatType, severity).Inc()
}

// RecordAnomaly records a detected behavioral anomaly
func RecordAnomaly(anomalyType, severity string) {
	anomaliesTotal.WithLabelValues(anomalyType, severity).Inc()
}

// RecordAction records an emitted authentication action
func RecordAction(action string) {
	actionsTotal.WithLabelValues(action).Inc()
}

// RecordOracleLookup records an enrichment oracle lookup outcome
func RecordOracleLookup(oracle, outcome string) {
	oracleLookupsTotal.WithLabelValues(oracle, outcome).Inc()
}

// RecordCacheOperation records a cache operation
func RecordCacheOperation(service, operation, outcome string) {
	cacheOperationsTotal.WithLabelValues(service, operation, outcome).Inc()
}

// RecordDBQuery records a database query duration
func RecordDBQuery(service, operation, table string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(service, operation, table).Observe(duration.Seconds())
}

// RecordSessionReview records a closed privileged session review outcome
func RecordSessionReview(requiresReview bool) {
	sessionReviewsTotal.WithLabelValues(strconv.FormatBool(requiresReview)).Inc()
}

// IncActivePrivilegedSessions increments the open privileged session gauge
func IncActivePrivilegedSessions(service string) {
	ActivePrivilegedSessions.WithLabelValues(service).Inc()
}

// DecActivePrivilegedSessions decrements the open privileged session gauge
func DecActivePrivilegedSessions(service string) {
	ActivePrivilegedSessions.WithLabelValues(service).Dec()
}
