// Package pgstore provides a PostgreSQL implementation of triage.FactStore.
package pgstore

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/warden/internal/postgres"
	"github.com/linnemanlabs/warden/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists facts in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New applies the schema on pool and returns a ready Store. The caller owns
// the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(postgres.WithOperation(ctx, "facts.schema"), schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool, now: time.Now}, nil
}

// RecordFact inserts f under a fresh ULID.
func (s *Store) RecordFact(ctx context.Context, f triage.Fact) error {
	ctx, span := tracer.Start(ctx, "pgstore.RecordFact", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
		attribute.String("warden.fact.type", f.FactType),
	))
	defer span.End()

	if f.Timestamp > math.MaxInt64 {
		err := fmt.Errorf("fact timestamp %d overflows BIGINT", f.Timestamp)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	_, err := s.pool.Exec(postgres.WithOperation(ctx, "facts.record"),
		`INSERT INTO facts (id, agent_id, ts, fact_type, content, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ulid.Make().String(), f.AgentID, int64(f.Timestamp), f.FactType, f.Content, s.now().UTC(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert fact: %w", err)
	}
	return nil
}

// ListFacts returns up to limit facts of factType, newest first. An empty
// factType matches all facts; limit <= 0 returns everything.
func (s *Store) ListFacts(ctx context.Context, factType string, limit int) ([]triage.FactRecord, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListFacts", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
		attribute.String("warden.fact.type", factType),
		attribute.Int("warden.fact.limit", limit),
	))
	defer span.End()

	var lim *int
	if limit > 0 {
		lim = &limit
	}

	rows, err := s.pool.Query(postgres.WithOperation(ctx, "facts.list"),
		`SELECT id, recorded_at, agent_id, ts, fact_type, content
		 FROM facts
		 WHERE ($1 = '' OR fact_type = $1)
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT $2`,
		factType, lim,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	out := []triage.FactRecord{}
	for rows.Next() {
		var (
			r  triage.FactRecord
			ts int64
		)
		if err := rows.Scan(&r.ID, &r.RecordedAt, &r.AgentID, &ts, &r.FactType, &r.Content); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		r.Timestamp = uint64(ts) //nolint:gosec // written from a uint64 bounded by MaxInt64
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate facts: %w", err)
	}
	span.SetAttributes(attribute.Int("warden.fact.count", len(out)))
	return out, nil
}
