// Package metrics exposes Prometheus instrumentation for the SOAP endpoint.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "onvif"

// Metrics holds the request-level collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     prometheus.Histogram
	ResponseSize    prometheus.Histogram
	AuthFailures    *prometheus.CounterVec
	Faults          *prometheus.CounterVec
	BackendCommands *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of SOAP requests processed",
			},
			[]string{"service", "method", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "SOAP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service", "method"},
		),
		RequestSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_size_bytes",
				Help:      "SOAP request size in bytes",
				Buckets:   []float64{256, 1024, 4096, 16384, 65536},
			},
		),
		ResponseSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "response_size_bytes",
				Help:      "SOAP response size in bytes",
				Buckets:   []float64{256, 1024, 4096, 16384, 65536},
			},
		),
		AuthFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Total number of rejected security headers",
			},
			[]string{"service", "reason"},
		),
		Faults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "faults_total",
				Help:      "Total number of SOAP faults returned",
			},
			[]string{"service", "subcode"},
		),
		BackendCommands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_commands_total",
				Help:      "Total number of backend commands executed",
			},
			[]string{"program", "status"},
		),
	}
	m.registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestSize,
		m.ResponseSize,
		m.AuthFailures,
		m.Faults,
		m.BackendCommands,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest times f and records its outcome status ("ok", "fault", "error").
func (m *Metrics) ObserveRequest(service, method string, f func() (string, error)) error {
	start := time.Now()
	status, err := f()
	m.RequestsTotal.WithLabelValues(service, method, status).Inc()
	m.RequestDuration.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
	return err
}

func (m *Metrics) ObserveCommand(program string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.BackendCommands.WithLabelValues(program, status).Inc()
}
