// Package rules persists symbolic condition/action rules synthesized during
// triage so an external rule engine can consume them later.
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/kv"
)

// Partition holds one entry per rule, keyed by rule id.
const Partition = "rules"

// Rule is a symbolic condition -> action record. Rules are immutable once written.
type Rule struct {
	ID                string `json:"id"`
	ConditionFactType string `json:"condition_fact_type"`
	ConditionKeyword  string `json:"condition_keyword"`
	ActionDirective   string `json:"action_directive"`
}

// Template is the fixed content of a family of synthesized rules.
type Template struct {
	IDPrefix          string
	FallbackID        string
	ConditionFactType string
	ConditionKeyword  string
	ActionDirective   string
}

// CrowdstrikeJira escalates CrowdStrike coverage gaps to Jira.
var CrowdstrikeJira = Template{
	IDPrefix:          "rule_crowdstrike",
	FallbackID:        "rule_crowdstrike_fallback",
	ConditionFactType: "SecurityTriage",
	ConditionKeyword:  "Crowdstrike",
	ActionDirective:   "Send Alert to Jira",
}

// Instantiate builds a rule from the template. When idErr is non-nil the
// template's FallbackID is used instead of seq.
//
// The fallback id is shared by every failed generation, so a later fallback
// rule overwrites an earlier one.
func (t Template) Instantiate(seq uint64, idErr error) Rule {
	id := t.FallbackID
	if idErr == nil {
		id = t.IDPrefix + "_" + strconv.FormatUint(seq, 10)
	}
	return Rule{
		ID:                id,
		ConditionFactType: t.ConditionFactType,
		ConditionKeyword:  t.ConditionKeyword,
		ActionDirective:   t.ActionDirective,
	}
}

// Store writes and reads rules in their partition.
type Store struct {
	db         kv.Store
	logger     log.Logger
	onDegraded kv.DegradedFunc
}

// NewStore creates a rule store on db. onDegraded may be nil.
func NewStore(db kv.Store, logger log.Logger, onDegraded kv.DegradedFunc) *Store {
	if logger == nil {
		logger = log.Nop()
	}
	return &Store{db: db, logger: logger, onDegraded: onDegraded}
}

// Write persists r and flushes. It is fire-and-forget: failures are logged and
// reported to the degraded hook, never returned.
func (s *Store) Write(ctx context.Context, r Rule) {
	if err := s.write(ctx, r); err != nil {
		s.logger.Warn(ctx, "rule write dropped", "partition", Partition, "rule_id", r.ID, "error", err)
		s.degraded("rules.write", err)
	}
}

func (s *Store) write(ctx context.Context, r Rule) error {
	p, err := s.db.OpenPartition(ctx, Partition)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("%w: encode rule %s: %w", kv.ErrSerialization, r.ID, err)
	}
	if err := p.Insert(ctx, []byte(r.ID), encoded); err != nil {
		return err
	}
	return p.Flush(ctx)
}

// Get returns the rule stored under id.
func (s *Store) Get(ctx context.Context, id string) (Rule, bool, error) {
	p, err := s.db.OpenPartition(ctx, Partition)
	if err != nil {
		return Rule{}, false, err
	}
	raw, ok, err := p.Get(ctx, []byte(id))
	if err != nil || !ok {
		return Rule{}, false, err
	}
	var r Rule
	if err := json.Unmarshal(raw, &r); err != nil {
		return Rule{}, false, fmt.Errorf("%w: decode rule %s: %w", kv.ErrSerialization, id, err)
	}
	return r, true, nil
}

// List returns every rule in key order. Entries that do not decode are skipped.
func (s *Store) List(ctx context.Context) ([]Rule, error) {
	p, err := s.db.OpenPartition(ctx, Partition)
	if err != nil {
		return nil, err
	}

	out := []Rule{}
	err = p.Scan(ctx, func(key, value []byte) bool {
		var r Rule
		if err := json.Unmarshal(value, &r); err != nil {
			derr := fmt.Errorf("%w: decode rule %s: %w", kv.ErrSerialization, key, err)
			s.logger.Warn(ctx, "skipping undecodable rule", "rule_id", string(key), "error", derr)
			s.degraded("rules.list", derr)
			return true
		}
		out = append(out, r)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) degraded(op string, err error) {
	if s.onDegraded != nil {
		s.onDegraded(op, err)
	}
}
