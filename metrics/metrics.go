package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "estate_crawler"

// Metrics holds the crawl and ETL collectors. All methods are safe on a
// nil receiver so callers never need to check whether metrics are enabled.
type Metrics struct {
	gatherer prometheus.Gatherer

	fetchRequests   *prometheus.CounterVec
	fetchBlocked    prometheus.Counter
	fetchRetries    prometheus.Counter
	cardsExtracted  prometheus.Counter
	stagingInserted prometheus.Counter
	etlRows         *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	lastSuccess     *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg uses a fresh private registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		gatherer: reg,
		fetchRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_requests_total",
				Help:      "Completed fetches by final HTTP status (\"error\" when no response).",
			},
			[]string{"status"},
		),
		fetchBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_blocked_total",
			Help:      "Fetches skipped because robots.txt disallows the URL.",
		}),
		fetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Retry sleeps taken by the backoff loop.",
		}),
		cardsExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cards_extracted_total",
			Help:      "Listing cards extracted from index pages.",
		}),
		stagingInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "staging_inserted_total",
			Help:      "New rows inserted into the staging table.",
		}),
		etlRows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "etl_rows_total",
				Help:      "Rows seen by the cleaning stage, by stage (in, out, dropped).",
			},
			[]string{"stage"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time of crawl and etl runs.",
				Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
			},
			[]string{"job"},
		),
		lastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful run, by job.",
			},
			[]string{"job"},
		),
	}

	reg.MustRegister(
		m.fetchRequests,
		m.fetchBlocked,
		m.fetchRetries,
		m.cardsExtracted,
		m.stagingInserted,
		m.etlRows,
		m.runDuration,
		m.lastSuccess,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveFetch(status int) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.fetchRequests.WithLabelValues(label).Inc()
}

func (m *Metrics) IncBlocked() {
	if m == nil {
		return
	}
	m.fetchBlocked.Inc()
}

func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.fetchRetries.Inc()
}

func (m *Metrics) AddCards(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cardsExtracted.Add(float64(n))
}

func (m *Metrics) AddInserted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.stagingInserted.Add(float64(n))
}

// ObserveETL records one cleaning run's row counts.
func (m *Metrics) ObserveETL(in, out int) {
	if m == nil {
		return
	}
	m.etlRows.WithLabelValues("in").Add(float64(in))
	m.etlRows.WithLabelValues("out").Add(float64(out))
	if in > out {
		m.etlRows.WithLabelValues("dropped").Add(float64(in - out))
	}
}

// ObserveRun records a finished job. Only successful runs move the
// last-success gauge.
func (m *Metrics) ObserveRun(job string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(job).Observe(time.Since(started).Seconds())
	if err == nil {
		m.lastSuccess.WithLabelValues(job).SetToCurrentTime()
	}
}
