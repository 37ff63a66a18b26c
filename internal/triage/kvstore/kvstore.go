// Package kvstore keeps the triage fact log in the knowledge base itself, next
// to the policy snapshot and the synthesized rules.
package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/kv"
	"github.com/linnemanlabs/warden/internal/triage"
)

// Partition holds one entry per fact, keyed by ULID so key order is record order.
const Partition = "facts"

// Store is a triage.FactStore on a kv.Store.
type Store struct {
	db     kv.Store
	logger log.Logger
	now    func() time.Time
}

// New creates a fact log on db.
func New(db kv.Store, logger log.Logger) *Store {
	if logger == nil {
		logger = log.Nop()
	}
	return &Store{db: db, logger: logger, now: time.Now}
}

// RecordFact appends f under a fresh ULID and flushes.
func (s *Store) RecordFact(ctx context.Context, f triage.Fact) error {
	p, err := s.db.OpenPartition(ctx, Partition)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	rec := triage.FactRecord{
		ID:         ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		RecordedAt: now,
		Fact:       f,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: encode fact: %w", kv.ErrSerialization, err)
	}
	if err := p.Insert(ctx, []byte(rec.ID), raw); err != nil {
		return err
	}
	return p.Flush(ctx)
}

// ListFacts returns up to limit facts of factType, newest first. An empty
// factType matches all facts; limit <= 0 returns everything. Entries that do
// not decode are skipped.
func (s *Store) ListFacts(ctx context.Context, factType string, limit int) ([]triage.FactRecord, error) {
	p, err := s.db.OpenPartition(ctx, Partition)
	if err != nil {
		return nil, err
	}

	out := []triage.FactRecord{}
	err = p.Scan(ctx, func(key, value []byte) bool {
		var rec triage.FactRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			s.logger.Warn(ctx, "skipping undecodable fact", "fact_id", string(key), "error", err)
			return true
		}
		if factType == "" || rec.FactType == factType {
			out = append(out, rec)
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
