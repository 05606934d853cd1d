package observers

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the agent's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	modelCalls      *prometheus.CounterVec
	modelTokens     *prometheus.CounterVec
	toolInvocations *prometheus.CounterVec
	toolErrors      *prometheus.CounterVec
	purchases       *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockbroker",
			Name:      "model_calls_total",
			Help:      "Chat model invocations by outcome.",
		}, []string{"outcome"}),
		modelTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockbroker",
			Name:      "model_tokens_total",
			Help:      "Tokens consumed by chat models.",
		}, []string{"kind"}),
		toolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockbroker",
			Name:      "tool_invocations_total",
			Help:      "Tool invocations by tool name.",
		}, []string{"tool"}),
		toolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockbroker",
			Name:      "tool_errors_total",
			Help:      "Tool invocations that returned an error result.",
		}, []string{"tool"}),
		purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockbroker",
			Name:      "purchases_total",
			Help:      "Pending purchases consumed, by outcome.",
		}, []string{"outcome"}),
	}
	for _, c := range []prometheus.Collector{m.modelCalls, m.modelTokens, m.toolInvocations, m.toolErrors, m.purchases} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ObserveModelCall(outcome string) {
	if m == nil {
		return
	}
	m.modelCalls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveTokens(prompt, completion int) {
	if m == nil {
		return
	}
	m.modelTokens.WithLabelValues("prompt").Add(float64(prompt))
	m.modelTokens.WithLabelValues("completion").Add(float64(completion))
}

// ObserveTool counts one tool invocation; failed marks an error result.
func (m *Metrics) ObserveTool(tool string, failed bool) {
	if m == nil {
		return
	}
	m.toolInvocations.WithLabelValues(tool).Inc()
	if failed {
		m.toolErrors.WithLabelValues(tool).Inc()
	}
}

// RecordPurchase counts a consumed pending purchase.
func (m *Metrics) RecordPurchase(outcome string) {
	if m == nil {
		return
	}
	m.purchases.WithLabelValues(outcome).Inc()
}
