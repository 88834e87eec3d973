// Package prometheus provides Prometheus-backed implementations of the
// metrics interfaces. Every constructor returns nil when the shared registry
// has not been initialized, and every method is nil-safe, so disabled metrics
// cost a single pointer comparison.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gxav/droplock/pkg/metrics"
)

// transferMetrics is the Prometheus implementation of metrics.TransferMetrics.
type transferMetrics struct {
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	requestsInFlight  *prometheus.GaugeVec
	uploadCiphertext  prometheus.Counter
	uploadPlaintext   prometheus.Counter
	checksumVerdicts  *prometheus.CounterVec
	registrations     *prometheus.CounterVec
	activeConnections prometheus.Gauge
	connsAccepted     prometheus.Counter
	connsClosed       prometheus.Counter
	connsForceClosed  prometheus.Counter
}

// NewTransferMetrics creates a new Prometheus-backed transfer metrics
// instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewTransferMetrics() metrics.TransferMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &transferMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "droplock_requests_total",
				Help: "Total number of protocol requests by code and outcome",
			},
			[]string{"code", "outcome"}, // outcome: "ok", "rejected", "error"
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "droplock_request_duration_seconds",
				Help:    "Protocol request processing time by code",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"code"},
		),
		requestsInFlight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "droplock_requests_in_flight",
				Help: "Number of protocol requests currently being processed",
			},
			[]string{"code"},
		),
		uploadCiphertext: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "droplock_upload_ciphertext_bytes_total",
				Help: "Total ciphertext bytes consumed from upload streams",
			},
		),
		uploadPlaintext: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "droplock_upload_plaintext_bytes_total",
				Help: "Total decrypted bytes written to file storage",
			},
		),
		checksumVerdicts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "droplock_checksum_verdicts_total",
				Help: "Client checksum verdicts by kind",
			},
			[]string{"verdict"}, // "valid", "retry", "abort"
		),
		registrations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "droplock_registrations_total",
				Help: "Registration attempts by result",
			},
			[]string{"result"}, // "accepted", "name_taken"
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "droplock_active_connections",
				Help: "Number of currently active client connections",
			},
		),
		connsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "droplock_connections_accepted_total",
				Help: "Total number of accepted client connections",
			},
		),
		connsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "droplock_connections_closed_total",
				Help: "Total number of closed client connections",
			},
		),
		connsForceClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "droplock_connections_force_closed_total",
				Help: "Total number of connections force-closed at shutdown",
			},
		),
	}
}

func (m *transferMetrics) RecordRequest(code string, duration time.Duration, outcome string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(code, outcome).Inc()
	m.requestDuration.WithLabelValues(code).Observe(duration.Seconds())
}

func (m *transferMetrics) RecordRequestStart(code string) {
	if m == nil {
		return
	}
	m.requestsInFlight.WithLabelValues(code).Inc()
}

func (m *transferMetrics) RecordRequestEnd(code string) {
	if m == nil {
		return
	}
	m.requestsInFlight.WithLabelValues(code).Dec()
}

func (m *transferMetrics) RecordUploadBytes(ciphertext, plaintext uint64) {
	if m == nil {
		return
	}
	m.uploadCiphertext.Add(float64(ciphertext))
	m.uploadPlaintext.Add(float64(plaintext))
}

func (m *transferMetrics) RecordChecksumVerdict(verdict string) {
	if m == nil {
		return
	}
	m.checksumVerdicts.WithLabelValues(verdict).Inc()
}

func (m *transferMetrics) RecordRegistration(accepted bool) {
	if m == nil {
		return
	}
	result := "accepted"
	if !accepted {
		result = "name_taken"
	}
	m.registrations.WithLabelValues(result).Inc()
}

func (m *transferMetrics) SetActiveConnections(count int32) {
	if m == nil {
		return
	}
	m.activeConnections.Set(float64(count))
}

func (m *transferMetrics) RecordConnectionAccepted() {
	if m == nil {
		return
	}
	m.connsAccepted.Inc()
}

func (m *transferMetrics) RecordConnectionClosed() {
	if m == nil {
		return
	}
	m.connsClosed.Inc()
}

func (m *transferMetrics) RecordConnectionForceClosed() {
	if m == nil {
		return
	}
	m.connsForceClosed.Inc()
}
