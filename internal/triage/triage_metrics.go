package triage

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/warden/internal/kv"
)

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	TriagesTotal       *prometheus.CounterVec
	TriageDuration     prometheus.Histogram
	RulesSynthesized   *prometheus.CounterVec
	FactRecordFailures prometheus.Counter
	StoreDegraded      *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TriagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_triages_total",
			Help: "Total triage runs by chosen directive and whether a rule was written.",
		}, []string{"directive", "rule_written"}),
		TriageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_triage_duration_seconds",
			Help:    "Duration of triage runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms .. ~4s
		}),
		RulesSynthesized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_rules_synthesized_total",
			Help: "Rules synthesized by id source (generated or fallback).",
		}, []string{"id_source"}),
		FactRecordFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_fact_record_failures_total",
			Help: "Triage outcomes that could not be recorded to the fact log.",
		}),
		StoreDegraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_store_degraded_total",
			Help: "Best-effort knowledge base operations that fell back, by operation.",
		}, []string{"op"}),
	}

	reg.MustRegister(
		m.TriagesTotal,
		m.TriageDuration,
		m.RulesSynthesized,
		m.FactRecordFailures,
		m.StoreDegraded,
	)

	return m
}

// Hooks returns an EngineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnRuleSynthesized: func(idSource string) {
			m.RulesSynthesized.WithLabelValues(idSource).Inc()
		},
		OnFactError: func() {
			m.FactRecordFailures.Inc()
		},
		OnComplete: func(directive string, ruleWritten bool, duration float64) {
			written := "false"
			if ruleWritten {
				written = "true"
			}
			m.TriagesTotal.WithLabelValues(directiveLabel(directive), written).Inc()
			m.TriageDuration.Observe(duration)
		},
	}
}

// Degraded returns a kv.DegradedFunc for the policy and rule stores.
func (m *Metrics) Degraded() kv.DegradedFunc {
	return func(op string, _ error) {
		m.StoreDegraded.WithLabelValues(op).Inc()
	}
}

// directiveLabel keeps label values short and bounded.
func directiveLabel(directive string) string {
	switch directive {
	case DirectiveHighSeverity:
		return "high_severity"
	case DirectiveMonitor:
		return "monitor"
	default:
		return "other"
	}
}
