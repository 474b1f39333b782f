// Package metrics provides Prometheus metrics for the fuel price scraper.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fuelscraper"

// Cache lookup results.
const (
	CacheHit     = "hit"
	CacheMiss    = "miss"
	CacheCorrupt = "corrupt"
)

// Date outcomes of a backfill run.
const (
	OutcomeCompleted = "completed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
	OutcomeCanceled  = "canceled"
)

// Metrics holds all Prometheus metrics for the scraper.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// API request metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration prometheus.Histogram

	// Cache metrics
	CacheLookupsTotal *prometheus.CounterVec

	// Database metrics
	DBOperationsTotal  *prometheus.CounterVec
	DBBusyRetriesTotal *prometheus.CounterVec

	// Ingest metrics
	DatesTotal                *prometheus.CounterVec
	RecordsRejectedTotal      prometheus.Counter
	LastIngestedDateTimestamp prometheus.Gauge

	mu           sync.Mutex
	lastIngested time.Time
}

// New creates Prometheus metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of upstream API requests by status",
			},
			[]string{"status"},
		),
		APIRequestDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "Upstream API request duration in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
			},
		),
		CacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Total number of response cache lookups by result",
			},
			[]string{"result"},
		),
		DBOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_operations_total",
				Help:      "Total number of database operations by type and status",
			},
			[]string{"operation", "status"},
		),
		DBBusyRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_busy_retries_total",
				Help:      "Total number of write transactions retried because the store was busy",
			},
			[]string{"operation"},
		),
		DatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dates_total",
				Help:      "Total number of dates processed by outcome",
			},
			[]string{"outcome"},
		),
		RecordsRejectedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_rejected_total",
				Help:      "Total number of station records rejected by the normalizer",
			},
		),
		LastIngestedDateTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_ingested_date_timestamp",
				Help:      "Unix timestamp of the most recent date stored",
			},
		),
	}
}

// RecordAPIRequest records an upstream API request.
func (m *Metrics) RecordAPIRequest(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.APIRequestsTotal.WithLabelValues(status).Inc()
	m.APIRequestDuration.Observe(duration.Seconds())
}

// RecordCacheLookup records a response cache lookup.
func (m *Metrics) RecordCacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordDBOperation records a database operation metric.
func (m *Metrics) RecordDBOperation(operation, status string) {
	if m == nil {
		return
	}
	m.DBOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordBusyRetry records a retried write transaction.
func (m *Metrics) RecordBusyRetry(operation string) {
	if m == nil {
		return
	}
	m.DBBusyRetriesTotal.WithLabelValues(operation).Inc()
}

// RecordDate records the outcome of one date.
func (m *Metrics) RecordDate(outcome string) {
	if m == nil {
		return
	}
	m.DatesTotal.WithLabelValues(outcome).Inc()
}

// RecordRejectedRecords records station records rejected by the normalizer.
func (m *Metrics) RecordRejectedRecords(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsRejectedTotal.Add(float64(n))
}

// RecordIngestedDate moves the last ingested date gauge forward.
// Dates finish out of order, so older dates never move it back.
func (m *Metrics) RecordIngestedDate(date time.Time) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if date.After(m.lastIngested) {
		m.lastIngested = date
		m.LastIngestedDateTimestamp.Set(float64(date.Unix()))
	}
}
