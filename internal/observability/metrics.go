package observability

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/visiontask/internal/usage"
)

// Metrics collects the counters for one run.
//
// A run is a short-lived process, so metrics live in their own registry and
// are written once to a textfile (node-exporter textfile collector format)
// instead of being served.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	client := llm.NewTrackingClient(backend, llm.WithUsageObserver(metrics))
//	defer metrics.WriteTextfile("/var/lib/node_exporter/visiontask.prom")
type Metrics struct {
	registry *prometheus.Registry

	// LLMCalls counts tracked entry calls.
	// Labels: entry (invoke|generate|ainvoke|agenerate), model, usage (found|missing)
	LLMCalls *prometheus.CounterVec

	// LLMTokens tracks token consumption.
	// Labels: entry, model, type (input|output|total)
	LLMTokens *prometheus.CounterVec

	// Dialogs counts auto-answered dialogs.
	// Labels: type (alert|confirm|prompt|beforeunload)
	Dialogs *prometheus.CounterVec

	// Steps counts agent steps by outcome.
	// Labels: outcome (ok|done|failed)
	Steps *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		LLMCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "visiontask_llm_calls_total",
				Help: "Total number of tracked LLM calls by entry point, model, and whether usage was found",
			},
			[]string{"entry", "model", "usage"},
		),

		LLMTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "visiontask_llm_tokens_total",
				Help: "Total number of tokens used by entry point, model, and type",
			},
			[]string{"entry", "model", "type"},
		),

		Dialogs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "visiontask_dialogs_total",
				Help: "Total number of browser dialogs answered by type",
			},
			[]string{"type"},
		),

		Steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "visiontask_agent_steps_total",
				Help: "Total number of agent steps by outcome",
			},
			[]string{"outcome"},
		),
	}
	m.registry.MustRegister(m.LLMCalls, m.LLMTokens, m.Dialogs, m.Steps)
	return m
}

// Registry exposes the private registry, e.g. for tests or a push gateway.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveUsage records one usage extraction.
func (m *Metrics) ObserveUsage(entry, model string, r usage.Record, ok bool) {
	if !ok {
		m.LLMCalls.WithLabelValues(entry, model, "missing").Inc()
		return
	}
	m.LLMCalls.WithLabelValues(entry, model, "found").Inc()
	m.LLMTokens.WithLabelValues(entry, model, "input").Add(float64(r.InputTokens))
	m.LLMTokens.WithLabelValues(entry, model, "output").Add(float64(r.OutputTokens))
	m.LLMTokens.WithLabelValues(entry, model, "total").Add(float64(r.TotalTokens))
}

// ObserveDialog records one answered dialog.
func (m *Metrics) ObserveDialog(kind string) {
	m.Dialogs.WithLabelValues(kind).Inc()
}

// ObserveStep records how an agent step ended.
func (m *Metrics) ObserveStep(outcome string) {
	m.Steps.WithLabelValues(outcome).Inc()
}

// WriteTextfile writes every metric to path. The directory is created if
// needed and the write is atomic.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return errors.New("metrics: empty textfile path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
