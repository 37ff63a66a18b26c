package triage

import (
	"fmt"
	"time"

	"github.com/linnemanlabs/warden/internal/policy"
	"github.com/linnemanlabs/warden/internal/rules"
)

const (
	// DirectiveMonitor is the default response directive.
	DirectiveMonitor = "ORCHESTRATE_RESPONSE: monitor"

	// DirectiveHighSeverity is chosen when the event carries HighSeverityMarker.
	DirectiveHighSeverity = "ORCHESTRATE_RESPONSE: block_user, investigate_logs, create_ticket"

	// HighSeverityMarker is matched as an exact, case-sensitive substring.
	HighSeverityMarker = "HIGH_SEVERITY_ALERT"

	// CrowdstrikeEndpointThreshold: below this endpoint count a rule is synthesized.
	CrowdstrikeEndpointThreshold = 100

	// FactTypeSecurityTriage tags facts recorded by the engine.
	FactTypeSecurityTriage = "SecurityTriage"

	// DefaultAgentID identifies this agent in recorded facts.
	DefaultAgentID = "CybersecurityAgent"

	// NoRule is reported in the summary when no rule was written.
	NoRule = "none"
)

// Outcome is the result of one triage run. It is handed to the fact recorder
// and never persisted on its own.
type Outcome struct {
	TaskInput      string          `json:"task_input"`
	PlanDirective  string          `json:"plan_directive"`
	PolicySnapshot policy.Snapshot `json:"policy_snapshot"`
	RuleWritten    *rules.Rule     `json:"rule_written,omitempty"`
}

// RuleID returns the id of the written rule, or NoRule.
func (o *Outcome) RuleID() string {
	if o.RuleWritten == nil {
		return NoRule
	}
	return o.RuleWritten.ID
}

// HighSeverity reports whether the high-severity directive was chosen.
func (o *Outcome) HighSeverity() bool {
	return o.PlanDirective == DirectiveHighSeverity
}

// Summary is the human-readable result returned to the host.
func (o *Outcome) Summary() string {
	return fmt.Sprintf("Cybersecurity triage complete. directive=%s; rule_written=%s", o.PlanDirective, o.RuleID())
}

// Fact is an entry appended to the knowledge-base fact log.
type Fact struct {
	AgentID   string `json:"agent_id"`
	Timestamp uint64 `json:"timestamp"`
	FactType  string `json:"fact_type"`
	Content   string `json:"content"`
}

// FactRecord is a Fact as stored by a fact log, with its assigned id.
type FactRecord struct {
	ID         string    `json:"id"`
	RecordedAt time.Time `json:"recorded_at"`
	Fact
}
