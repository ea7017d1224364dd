// Package metrics defines the Prometheus collectors recorded by the uploader,
// the provisioner, the SSO session and the HTTP client.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing,
// so components can be built without a registry.
type Metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	uploadsTotal        *prometheus.CounterVec
	provisionTotal      *prometheus.CounterVec
	refreshTotal        *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uplink_http_requests_total",
				Help: "Total number of outgoing HTTP requests by remote operation and status",
			},
			[]string{"service", "operation", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "uplink_http_request_duration_seconds",
				Help:    "Duration of outgoing HTTP requests in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"service", "operation"},
		),
		uploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uplink_uploads_total",
				Help: "Total number of object uploads by result",
			},
			[]string{"result"},
		),
		provisionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uplink_bucket_provision_total",
				Help: "Total number of bucket provisioning runs by final state",
			},
			[]string{"state"},
		),
		refreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uplink_credential_refresh_total",
				Help: "Total number of credential refresh attempts by kind and result",
			},
			[]string{"kind", "result"},
		),
	}

	reg.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.uploadsTotal,
		m.provisionTotal,
		m.refreshTotal,
	)
	return m
}

// ObserveHTTP records one outgoing request. A status of 0 means the request
// failed before a response arrived.
func (m *Metrics) ObserveHTTP(service, operation string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.httpRequestsTotal.WithLabelValues(service, operation, label).Inc()
	m.httpRequestDuration.WithLabelValues(service, operation).Observe(elapsed.Seconds())
}

// RecordUpload records an upload outcome ("success" or "failure").
func (m *Metrics) RecordUpload(result string) {
	if m == nil {
		return
	}
	m.uploadsTotal.WithLabelValues(result).Inc()
}

// RecordProvision records the final state of a provisioning run.
func (m *Metrics) RecordProvision(state string) {
	if m == nil {
		return
	}
	m.provisionTotal.WithLabelValues(state).Inc()
}

// RecordRefresh records a credential refresh. Kind is "token" or "role".
func (m *Metrics) RecordRefresh(kind, result string) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(kind, result).Inc()
}

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)
