package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the orchestration counters. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Turns           *prometheus.CounterVec
	TurnDuration    prometheus.Histogram
	ToolCalls       *prometheus.CounterVec
	EngineCalls     *prometheus.CounterVec
	LoopTruncations prometheus.Counter
	Escalations     *prometheus.CounterVec
}

// NewMetrics registers every collector on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealdesk_turns_total",
			Help: "Turns handled, by executor and routing path.",
		}, []string{"executor", "route"}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dealdesk_turn_duration_seconds",
			Help:    "Wall time of a turn.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealdesk_tool_calls_total",
			Help: "Tool calls executed by the tool loop, by tool and outcome.",
		}, []string{"tool", "outcome"}),
		EngineCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealdesk_engine_calls_total",
			Help: "Reasoning engine invocations, by outcome.",
		}, []string{"outcome"}),
		LoopTruncations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealdesk_loop_truncations_total",
			Help: "Tool loops stopped by the iteration cap.",
		}),
		Escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealdesk_escalations_total",
			Help: "Executor escalations, by target.",
		}, []string{"target"}),
	}
	m.registry.MustRegister(m.Turns, m.TurnDuration, m.ToolCalls, m.EngineCalls, m.LoopTruncations, m.Escalations)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTurn(executor, route string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(executor, route).Inc()
	m.TurnDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
}

func (m *Metrics) EngineCall(outcome string) {
	if m == nil {
		return
	}
	m.EngineCalls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) LoopTruncated() {
	if m == nil {
		return
	}
	m.LoopTruncations.Inc()
}

func (m *Metrics) Escalated(target string) {
	if m == nil {
		return
	}
	m.Escalations.WithLabelValues(target).Inc()
}
