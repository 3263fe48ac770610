// Package metrics exposes Prometheus collectors for the catalog service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	importsTotal               *prometheus.CounterVec
	importRowsTotal            *prometheus.CounterVec
	importDurationSeconds      prometheus.Histogram
	activeImportWorkers        prometheus.Gauge
	eventsPublishedTotal       *prometheus.CounterVec
	webhookDeliveriesTotal     *prometheus.CounterVec
	webhookDeliverySeconds     *prometheus.HistogramVec
	webhookBacklog             prometheus.Gauge
	webhookRateLimitSeconds    *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		importsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_imports_total",
				Help: "Total number of bulk imports finished, labeled by final status.",
			},
			[]string{"status"},
		)

		importRowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_import_rows_total",
				Help: "Total number of CSV rows processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		importDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "catalog_import_duration_seconds",
				Help:    "Histogram of bulk import wall time.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
		)

		activeImportWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_active_import_workers",
				Help: "Number of import workers currently processing a file.",
			},
		)

		eventsPublishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_events_published_total",
				Help: "Total number of domain events published on the bus, labeled by event type.",
			},
			[]string{"event_type"},
		)

		webhookDeliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_webhook_deliveries_total",
				Help: "Total number of webhook delivery attempts, labeled by host and outcome.",
			},
			[]string{"host", "outcome"},
		)

		webhookDeliverySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_webhook_delivery_duration_seconds",
				Help:    "Histogram of webhook request latencies, labeled by event type.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"event_type"},
		)

		webhookBacklog = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_webhook_delivery_backlog",
				Help: "Number of webhook deliveries waiting for a delivery worker.",
			},
		)

		webhookRateLimitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_webhook_rate_limit_delay_seconds",
				Help:    "Time webhook deliveries spent waiting on the per-host rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeHost reduces a webhook URL to a lowercase hostname label.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveImport records a finished import.
func ObserveImport(status string, duration time.Duration) {
	Init()
	importsTotal.WithLabelValues(status).Inc()
	importDurationSeconds.Observe(duration.Seconds())
}

// ObserveImportRow counts one processed row; outcome is created, updated or error.
func ObserveImportRow(outcome string) {
	Init()
	importRowsTotal.WithLabelValues(outcome).Inc()
}

// IncActiveWorkers increments the active import workers gauge.
func IncActiveWorkers() {
	Init()
	activeImportWorkers.Inc()
}

// DecActiveWorkers decrements the active import workers gauge.
func DecActiveWorkers() {
	Init()
	activeImportWorkers.Dec()
}

// ObserveEvent counts an event published on the bus.
func ObserveEvent(eventType string) {
	Init()
	eventsPublishedTotal.WithLabelValues(eventType).Inc()
}

// ObserveDelivery records one webhook attempt; outcome is success, retry or failure.
func ObserveDelivery(rawURL, eventType, outcome string, duration time.Duration) {
	Init()
	webhookDeliveriesTotal.WithLabelValues(SanitizeHost(rawURL), outcome).Inc()
	webhookDeliverySeconds.WithLabelValues(eventType).Observe(duration.Seconds())
}

// SetWebhookBacklog records the current delivery backlog depth.
func SetWebhookBacklog(depth int) {
	Init()
	webhookBacklog.Set(float64(depth))
}

// ObserveRateLimitDelay records time spent waiting for a per-host delivery token.
func ObserveRateLimitDelay(host string, delay time.Duration) {
	Init()
	webhookRateLimitSeconds.WithLabelValues(host).Observe(delay.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
