// Package metrics exposes Prometheus instrumentation for turns, model
// generations, tool calls, artifact deliveries and suspended tool calls.
//
// All methods are safe on a nil *Metrics, so components can be built
// without instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// TurnCounter counts finished turns.
	// Labels: outcome (answered|suspended|error)
	TurnCounter *prometheus.CounterVec

	// GenerationDuration measures model call latency in seconds.
	// Labels: provider, status (success|error)
	GenerationDuration *prometheus.HistogramVec

	// ToolCallCounter counts tool dispatches.
	// Labels: tool, status (success|error|pending)
	ToolCallCounter *prometheus.CounterVec

	// ArtifactCounter counts file deliveries.
	// Labels: status (delivered|fallback)
	ArtifactCounter *prometheus.CounterVec

	// PendingContinuations tracks tool calls waiting on a user response.
	PendingContinuations prometheus.Gauge
}

// New creates the collectors on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		TurnCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spendbot_turns_total",
			Help: "Total number of processed turns by outcome",
		}, []string{"outcome"}),
		GenerationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spendbot_generation_duration_seconds",
			Help:    "Duration of model generation calls in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider", "status"}),
		ToolCallCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spendbot_tool_calls_total",
			Help: "Total number of tool dispatches by tool and status",
		}, []string{"tool", "status"}),
		ArtifactCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spendbot_artifacts_total",
			Help: "Total number of artifact deliveries by status",
		}, []string{"status"}),
		PendingContinuations: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spendbot_pending_continuations",
			Help: "Number of tool calls waiting for an out-of-band user response",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Turn(outcome string) {
	if m == nil {
		return
	}
	m.TurnCounter.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Generation(provider string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.GenerationDuration.WithLabelValues(provider, status).Observe(time.Since(start).Seconds())
}

func (m *Metrics) ToolCall(tool, status string) {
	if m == nil {
		return
	}
	m.ToolCallCounter.WithLabelValues(tool, status).Inc()
}

func (m *Metrics) Artifact(status string) {
	if m == nil {
		return
	}
	m.ArtifactCounter.WithLabelValues(status).Inc()
}

func (m *Metrics) PendingAdd(delta float64) {
	if m == nil {
		return
	}
	m.PendingContinuations.Add(delta)
}
