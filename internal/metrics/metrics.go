package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prediction metrics
var (
	// PredictionsTotal counts predict calls per subsystem and outcome
	// (normal, anomaly, missing_payload, missing_field, invalid_usage,
	// invalid_timestamp, inference_error, internal_error)
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Total number of predict calls by subsystem and outcome",
		},
		[]string{"subsystem", "outcome"},
	)

	// PredictionDuration tracks time spent in the feature-to-verdict pipeline
	PredictionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prediction_duration_seconds",
			Help:    "Duration of predict calls in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"subsystem"},
	)

	// HTTPRequestsTotal counts every HTTP request served
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by route, method and status",
		},
		[]string{"route", "method", "status"},
	)
)

// Classifier metrics
var (
	ClassifierInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "classifier_info",
			Help: "Loaded classifier per subsystem (always 1)",
		},
		[]string{"subsystem", "kind", "source"},
	)

	ClassifierLoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "classifier_load_duration_seconds",
			Help:    "Time to fetch and decode a classifier artifact",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subsystem", "source"},
	)
)

// Database metrics
var (
	// DBQueriesTotal tracks the total number of database queries
	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_queries_total",
			Help: "Total number of database queries executed",
		},
		[]string{"query_type", "table", "status"},
	)

	// DBQueryDuration tracks the duration of database queries
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Duration of database queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query_type", "table"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_open",
			Help: "Number of established connections both in use and idle",
		},
	)

	DBConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_in_use",
			Help: "Number of connections currently in use",
		},
	)

	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_idle",
			Help: "Number of idle connections",
		},
	)

	// AppStartTime records when the application started
	AppStartTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "facilitywatch_app_start_time_seconds",
			Help: "Unix timestamp of when the application started",
		},
	)
)

func init() {
	AppStartTime.SetToCurrentTime()
}

// RecordPrediction records one predict call
func RecordPrediction(subsystem, outcome string, duration time.Duration) {
	PredictionsTotal.WithLabelValues(subsystem, outcome).Inc()
	PredictionDuration.WithLabelValues(subsystem).Observe(duration.Seconds())
}

// RecordHTTPRequest records one served HTTP request
func RecordHTTPRequest(route, method string, status int) {
	HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}

// RecordClassifierLoad records a successful classifier load
func RecordClassifierLoad(subsystem, kind, source string, duration time.Duration) {
	ClassifierInfo.WithLabelValues(subsystem, kind, source).Set(1)
	ClassifierLoadDuration.WithLabelValues(subsystem, source).Observe(duration.Seconds())
}

// RecordDBQuery records a database query execution
func RecordDBQuery(queryType, table string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DBQueriesTotal.WithLabelValues(queryType, table, status).Inc()
	DBQueryDuration.WithLabelValues(queryType, table).Observe(duration.Seconds())
}

// UpdateDBConnectionStats updates database connection pool statistics
func UpdateDBConnectionStats(open, inUse, idle int) {
	DBConnectionsOpen.Set(float64(open))
	DBConnectionsInUse.Set(float64(inUse))
	DBConnectionsIdle.Set(float64(idle))
}
