// Package metrics exposes Prometheus collectors for the scrape and process stages.
package metrics

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Fetch attempt outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Row outcomes recorded by the process stage.
const (
	RowUpdated      = "updated"
	RowMissingPage  = "missing_page"
	RowReadError    = "read_error"
	RowNoPrice      = "no_price"
	RowExtractError = "extract_error"
	RowWriteError   = "write_error"
)

// Metrics holds the collectors for one run. All methods are nil-safe so
// components can run without metrics in tests.
type Metrics struct {
	registry       *prometheus.Registry
	fetchAttempts  *prometheus.CounterVec
	fetchExhausted *prometheus.CounterVec
	pagesArchived  prometheus.Counter
	archiveErrors  prometheus.Counter
	rows           *prometheus.CounterVec
	extractedPrice prometheus.Histogram
}

// New registers the run collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		fetchAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "price_archive_fetch_attempts_total",
				Help: "Total number of fetch attempts, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		),
		fetchExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "price_archive_fetch_exhausted_total",
				Help: "Total number of URLs whose fetch attempts were all exhausted.",
			},
			[]string{"site"},
		),
		pagesArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "price_archive_pages_archived_total",
			Help: "Total number of pages written to the archive.",
		}),
		archiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "price_archive_archive_errors_total",
			Help: "Total number of failed archive writes.",
		}),
		rows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "price_archive_rows_total",
				Help: "Total number of sheet rows handled by the process stage, labeled by outcome.",
			},
			[]string{"outcome"},
		),
		extractedPrice: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "price_archive_extracted_price",
			Help:    "Distribution of extracted price values.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
	}
	reg.MustRegister(
		m.fetchAttempts,
		m.fetchExhausted,
		m.pagesArchived,
		m.archiveErrors,
		m.rows,
		m.extractedPrice,
	)
	return m
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ObserveFetchAttempt counts one fetch attempt for rawURL.
func (m *Metrics) ObserveFetchAttempt(rawURL, outcome string) {
	if m == nil {
		return
	}
	m.fetchAttempts.WithLabelValues(SanitizeSite(rawURL), outcome).Inc()
}

// ObserveFetchExhausted counts a URL that failed every attempt.
func (m *Metrics) ObserveFetchExhausted(rawURL string) {
	if m == nil {
		return
	}
	m.fetchExhausted.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObserveArchived counts an archive write.
func (m *Metrics) ObserveArchived(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.archiveErrors.Inc()
		return
	}
	m.pagesArchived.Inc()
}

// ObserveRow counts a processed row by outcome.
func (m *Metrics) ObserveRow(outcome string) {
	if m == nil {
		return
	}
	m.rows.WithLabelValues(outcome).Inc()
}

// ObservePrice records an extracted price value.
func (m *Metrics) ObservePrice(value float64) {
	if m == nil {
		return
	}
	m.extractedPrice.Observe(value)
}

// Registry exposes the underlying registry for tests and exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Push sends the run's collectors to a Pushgateway. An empty gatewayURL is a no-op.
func (m *Metrics) Push(ctx context.Context, gatewayURL, job string) error {
	if m == nil || gatewayURL == "" {
		return nil
	}
	if err := push.New(gatewayURL, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
