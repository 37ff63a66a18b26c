package triage

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/kv/memkv"
	"github.com/linnemanlabs/warden/internal/policy"
	"github.com/linnemanlabs/warden/internal/rules"
)

func TestMetrics_Hooks(t *testing.T) {
	t.Parallel()

	m := NewMetrics(prometheus.NewRegistry())
	db := memkv.New()
	rec := &mockRecorder{err: errors.New("offline")}
	e := NewEngine(
		policy.NewStore(db, log.Nop(), m.Degraded()),
		rules.NewStore(db, log.Nop(), m.Degraded()),
		db, rec, "", log.Nop(), m.Hooks(),
	)
	ctx := context.Background()

	e.Triage(ctx, "HIGH_SEVERITY_ALERT")
	e.Triage(ctx, "routine check")

	if got := testutil.ToFloat64(m.TriagesTotal.WithLabelValues("high_severity", "true")); got != 1 {
		t.Errorf("high_severity triages = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TriagesTotal.WithLabelValues("monitor", "true")); got != 1 {
		t.Errorf("monitor triages = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RulesSynthesized.WithLabelValues("generated")); got != 2 {
		t.Errorf("generated rules = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.FactRecordFailures); got != 2 {
		t.Errorf("fact failures = %v, want 2", got)
	}

	db.FailOpen(errors.New("denied"))
	e.Triage(ctx, "routine check")

	if got := testutil.ToFloat64(m.StoreDegraded.WithLabelValues("policy.load")); got != 1 {
		t.Errorf("policy.load degraded = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.StoreDegraded.WithLabelValues("rules.write")); got != 1 {
		t.Errorf("rules.write degraded = %v, want 1", got)
	}
}

func TestDirectiveLabel(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		DirectiveHighSeverity: "high_severity",
		DirectiveMonitor:      "monitor",
		"something else":      "other",
	}
	for in, want := range tests {
		if got := directiveLabel(in); got != want {
			t.Errorf("directiveLabel(%q) = %q, want %q", in, got, want)
		}
	}
}
