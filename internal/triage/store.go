package triage

import (
	"context"

	"github.com/linnemanlabs/warden/internal/policy"
	"github.com/linnemanlabs/warden/internal/rules"
)

// PolicyLoader returns the current policy snapshot. It must not fail.
type PolicyLoader interface {
	Load(ctx context.Context) policy.Snapshot
}

// RuleWriter persists a synthesized rule, best effort.
type RuleWriter interface {
	Write(ctx context.Context, r rules.Rule)
}

// IDGenerator produces unique, increasing rule sequence numbers.
type IDGenerator interface {
	GenerateID(ctx context.Context) (uint64, error)
}

// FactRecorder appends a fact to the knowledge-base fact log.
type FactRecorder interface {
	RecordFact(ctx context.Context, f Fact) error
}

// FactStore is a FactRecorder that can also list what it recorded, newest first.
// factType "" matches every type.
type FactStore interface {
	FactRecorder
	ListFacts(ctx context.Context, factType string, limit int) ([]FactRecord, error)
}

// PolicyStore is the full policy surface used by the Service.
type PolicyStore interface {
	PolicyLoader
	Update(ctx context.Context, snap policy.Snapshot) error
}

// RuleStore is the full rule surface used by the Service.
type RuleStore interface {
	RuleWriter
	Get(ctx context.Context, id string) (rules.Rule, bool, error)
	List(ctx context.Context) ([]rules.Rule, error)
}

// Notifier is told about high-severity outcomes.
type Notifier interface {
	Send(ctx context.Context, o *Outcome) error
}
