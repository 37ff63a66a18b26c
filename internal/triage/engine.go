// internal/triage/engine.go
package triage

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/rules"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/triage")

// EngineHooks receives engine telemetry. Nil funcs are skipped.
type EngineHooks struct {
	OnRuleSynthesized func(idSource string)
	OnFactError       func()
	OnComplete        func(directive string, ruleWritten bool, duration float64)
}

// Engine holds the triage decision procedure. It owns no state of its own:
// everything persistent goes through the policy and rule stores.
type Engine struct {
	policies PolicyLoader
	rules    RuleWriter
	ids      IDGenerator
	facts    FactRecorder
	agentID  string
	logger   log.Logger
	hooks    EngineHooks
	now      func() time.Time
}

// NewEngine creates a triage engine. facts may be nil, in which case outcomes
// are not recorded. An empty agentID becomes DefaultAgentID.
func NewEngine(policies PolicyLoader, rw RuleWriter, ids IDGenerator, facts FactRecorder, agentID string, logger log.Logger, hooks EngineHooks) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	if agentID == "" {
		agentID = DefaultAgentID
	}
	return &Engine{
		policies: policies,
		rules:    rw,
		ids:      ids,
		facts:    facts,
		agentID:  agentID,
		logger:   logger,
		hooks:    hooks,
		now:      time.Now,
	}
}

// Run is the host entry point: triage taskInput and return the summary.
func (e *Engine) Run(ctx context.Context, taskInput string) string {
	return e.Triage(ctx, taskInput).Summary()
}

// SelectDirective picks the response directive for an event description.
func SelectDirective(taskInput string) string {
	if strings.Contains(taskInput, HighSeverityMarker) {
		return DirectiveHighSeverity
	}
	return DirectiveMonitor
}

// Triage runs the decision sequence once: load policy, pick a directive,
// synthesize a rule when CrowdStrike coverage is low, record the outcome.
// It never fails; store problems degrade to documented fallbacks.
func (e *Engine) Triage(ctx context.Context, taskInput string) *Outcome {
	ctx, span := tracer.Start(ctx, "triage.Triage")
	defer span.End()

	start := time.Now()
	snap := e.policies.Load(ctx)
	directive := SelectDirective(taskInput)

	out := &Outcome{
		TaskInput:      taskInput,
		PlanDirective:  directive,
		PolicySnapshot: snap,
	}

	if snap.CrowdstrikeEndpointCount < CrowdstrikeEndpointThreshold {
		r := e.synthesizeRule(ctx)
		e.rules.Write(ctx, r)
		out.RuleWritten = &r
	}

	e.record(ctx, out)

	dur := time.Since(start).Seconds()
	span.SetAttributes(
		attribute.String("warden.triage.directive", directive),
		attribute.String("warden.triage.rule_id", out.RuleID()),
		attribute.Int64("warden.policy.crowdstrike_endpoint_count", int64(snap.CrowdstrikeEndpointCount)),
	)
	if e.hooks.OnComplete != nil {
		e.hooks.OnComplete(directive, out.RuleWritten != nil, dur)
	}

	e.logger.Info(ctx, "triage complete",
		"directive", directive,
		"rule_written", out.RuleID(),
		"crowdstrike_endpoint_count", snap.CrowdstrikeEndpointCount,
		"duration", dur,
	)
	return out
}

func (e *Engine) synthesizeRule(ctx context.Context) rules.Rule {
	seq, err := e.ids.GenerateID(ctx)
	source := "generated"
	if err != nil {
		source = "fallback"
		e.logger.Warn(ctx, "rule id generation failed, using fallback id",
			"fallback_id", rules.CrowdstrikeJira.FallbackID,
			"error", err,
		)
	}
	if e.hooks.OnRuleSynthesized != nil {
		e.hooks.OnRuleSynthesized(source)
	}
	return rules.CrowdstrikeJira.Instantiate(seq, err)
}

// record hands the outcome to the fact recorder. Errors are logged and dropped.
func (e *Engine) record(ctx context.Context, out *Outcome) {
	if e.facts == nil {
		return
	}

	content, err := json.Marshal(out)
	if err != nil {
		e.factFailed(ctx, err, "encode triage outcome")
		return
	}

	fact := Fact{
		AgentID:   e.agentID,
		Timestamp: uint64(e.now().Unix()), //nolint:gosec // wall clock is after 1970
		FactType:  FactTypeSecurityTriage,
		Content:   string(content),
	}
	if err := e.facts.RecordFact(ctx, fact); err != nil {
		e.factFailed(ctx, err, "record triage fact")
	}
}

func (e *Engine) factFailed(ctx context.Context, err error, msg string) {
	e.logger.Error(ctx, err, msg, "agent_id", e.agentID, "fact_type", FactTypeSecurityTriage)
	if e.hooks.OnFactError != nil {
		e.hooks.OnFactError()
	}
}
