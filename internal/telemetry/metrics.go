// Package telemetry exposes Prometheus metrics for sweeps and the HTTP API.
package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
)

const namespace = "quantaup"

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	CombinationDuration *prometheus.HistogramVec
	Combinations        *prometheus.CounterVec
	SweepDuration       *prometheus.HistogramVec
	Sweeps              *prometheus.CounterVec
	Backtests           *prometheus.CounterVec

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		CombinationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "combination_duration_seconds",
				Help:      "Duration of a single parameter combination backtest",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"objective"},
		),

		Combinations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "combinations_total",
				Help:      "Evaluated parameter combinations by result",
			},
			[]string{"objective", "result"},
		),

		SweepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sweep_duration_seconds",
				Help:      "Duration of a parameter sweep",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
			},
			[]string{"objective"},
		),

		Sweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweeps_total",
				Help:      "Finished parameter sweeps by status",
			},
			[]string{"objective", "status"},
		),

		Backtests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backtests_total",
				Help:      "Single backtests served by result",
			},
			[]string{"result"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route, method and status code",
			},
			[]string{"route", "method", "code"},
		),

		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.CombinationDuration,
		m.Combinations,
		m.SweepDuration,
		m.Sweeps,
		m.Backtests,
		m.HTTPRequests,
		m.HTTPRequestDuration,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// CombinationEvaluated records one combination outcome.
func (m *Metrics) CombinationEvaluated(objective domain.ObjectiveKind, d time.Duration, err error) {
	m.CombinationDuration.WithLabelValues(string(objective)).Observe(d.Seconds())
	m.Combinations.WithLabelValues(string(objective), resultLabel(err)).Inc()
}

// SweepFinished records one finished sweep.
func (m *Metrics) SweepFinished(objective domain.ObjectiveKind, status domain.SweepStatus, d time.Duration) {
	m.SweepDuration.WithLabelValues(string(objective)).Observe(d.Seconds())
	m.Sweeps.WithLabelValues(string(objective), string(status)).Inc()
}

// BacktestServed records one single-run backtest.
func (m *Metrics) BacktestServed(err error) {
	m.Backtests.WithLabelValues(resultLabel(err)).Inc()
}

// ObserveHTTP records one HTTP request.
func (m *Metrics) ObserveHTTP(route, method string, code int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, domain.ErrInvalidParameters):
		return "invalid_parameters"
	default:
		return "error"
	}
}
