package triage

import (
	"context"
	"errors"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/policy"
	"github.com/linnemanlabs/warden/internal/rules"
)

// ErrEmptyInput is returned by Submit for blank event descriptions.
var ErrEmptyInput = errors.New("task input is required")

// MaxFactsLimit caps ListFacts page size.
const MaxFactsLimit = 500

// SubmitResult is the outcome of submitting an event for triage.
type SubmitResult struct {
	Summary string   `json:"summary"`
	Outcome *Outcome `json:"outcome"`
}

// Service is the business boundary for triage operations.
type Service struct {
	engine   *Engine
	policies PolicyStore
	rules    RuleStore
	facts    FactStore
	notifier Notifier
	logger   log.Logger
}

// NewService creates a new triage service. facts and notifier may be nil.
func NewService(engine *Engine, policies PolicyStore, rs RuleStore, facts FactStore, notifier Notifier, logger log.Logger) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		engine:   engine,
		policies: policies,
		rules:    rs,
		facts:    facts,
		notifier: notifier,
		logger:   logger,
	}
}

// Submit triages one event synchronously and notifies on high-severity outcomes.
func (s *Service) Submit(ctx context.Context, taskInput string) (*SubmitResult, error) {
	if strings.TrimSpace(taskInput) == "" {
		return nil, ErrEmptyInput
	}

	out := s.engine.Triage(ctx, taskInput)

	if s.notifier != nil && out.HighSeverity() {
		if err := s.notifier.Send(ctx, out); err != nil {
			s.logger.Error(ctx, err, "failed to send triage notification", "rule_written", out.RuleID())
		}
	}

	return &SubmitResult{Summary: out.Summary(), Outcome: out}, nil
}

// Policy returns the current snapshot, seeding the default if none is stored.
func (s *Service) Policy(ctx context.Context) policy.Snapshot {
	return s.policies.Load(ctx)
}

// UpdatePolicy overwrites the stored snapshot.
func (s *Service) UpdatePolicy(ctx context.Context, snap policy.Snapshot) error {
	return s.policies.Update(ctx, snap)
}

// Rules lists synthesized rules in id order.
func (s *Service) Rules(ctx context.Context) ([]rules.Rule, error) {
	return s.rules.List(ctx)
}

// Rule returns a single rule by id.
func (s *Service) Rule(ctx context.Context, id string) (rules.Rule, bool, error) {
	return s.rules.Get(ctx, id)
}

// Facts lists recorded facts, newest first. limit is clamped to 1..MaxFactsLimit.
// It returns an empty list when no fact log is configured.
func (s *Service) Facts(ctx context.Context, factType string, limit int) ([]FactRecord, error) {
	if s.facts == nil {
		return []FactRecord{}, nil
	}
	if limit <= 0 || limit > MaxFactsLimit {
		limit = MaxFactsLimit
	}
	return s.facts.ListFacts(ctx, factType, limit)
}
