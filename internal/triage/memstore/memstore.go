// Package memstore provides an in-memory implementation of triage.FactStore.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/warden/internal/triage"
)

// Store holds recorded facts in memory. Suitable for dev/testing.
type Store struct {
	mu    sync.RWMutex
	facts []triage.FactRecord // append order
	now   func() time.Time
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{now: time.Now}
}

// RecordFact appends f with a fresh ULID.
func (s *Store) RecordFact(_ context.Context, f triage.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts = append(s.facts, triage.FactRecord{
		ID:         ulid.Make().String(),
		RecordedAt: s.now().UTC(),
		Fact:       f,
	})
	return nil
}

// ListFacts returns up to limit facts of factType, newest first. An empty
// factType matches all facts.
func (s *Store) ListFacts(_ context.Context, factType string, limit int) ([]triage.FactRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []triage.FactRecord{}
	for i := len(s.facts) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if factType != "" && s.facts[i].FactType != factType {
			continue
		}
		out = append(out, s.facts[i])
	}
	return out, nil
}

// Len returns the number of recorded facts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.facts)
}
