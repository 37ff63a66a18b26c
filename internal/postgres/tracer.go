// Package postgres wires the pgx pool used by the durable fact log: otelpgx
// spans, a structured query log line, and a per-query metrics observer.
package postgres

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

var queryObserver atomic.Pointer[queryObserverHolder]

type ctxKey int

const (
	ctxKeyQuery ctxKey = iota
	ctxKeyOperation
)

// unknownOperation labels queries issued outside WithOperation.
const unknownOperation = "unknown"

type queryObserverHolder struct{ QueryObserver }

// QueryObserver receives per-query metrics (wired by main for Prometheus).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, operation, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, operation, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, operation, outcome string, dur time.Duration) {
	f(ctx, operation, outcome, dur)
}

// SetQueryObserver sets the global query observer. nil removes it.
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		queryObserver.Store(nil)
		return
	}
	queryObserver.Store(&queryObserverHolder{QueryObserver: o})
}

func getQueryObserver() QueryObserver {
	h := queryObserver.Load()
	if h == nil {
		return nil
	}
	return h.QueryObserver
}

// WithOperation labels queries issued with ctx, e.g. "facts.record".
func WithOperation(ctx context.Context, op string) context.Context {
	if op == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyOperation, op)
}

func operationFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyOperation).(string); ok {
		return v
	}
	return unknownOperation
}

// queryStart is stashed in the context between TraceQueryStart and TraceQueryEnd.
type queryStart struct {
	sql   string
	args  []any
	start time.Time
}

// loggingTracer wraps another pgx.QueryTracer (otelpgx) and adds a structured
// log line and an observer call for every query.
type loggingTracer struct {
	inner pgx.QueryTracer
}

// wrapQueryTracer wraps inner with structured logging. inner may be nil.
func wrapQueryTracer(inner pgx.QueryTracer) pgx.QueryTracer {
	return loggingTracer{inner: inner}
}

func (t loggingTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	// inner tracer first so the DB span exists before we annotate it
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}

	op := operationFromContext(ctx)
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attribute.String("warden.db.operation", op))
	}

	return context.WithValue(ctx, ctxKeyQuery, queryStart{sql: data.SQL, args: data.Args, start: time.Now()})
}

func (t loggingTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	// always end the inner span, even if we bail out below
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	qs, _ := ctx.Value(ctxKeyQuery).(queryStart)
	var dur time.Duration
	if !qs.start.IsZero() {
		dur = time.Since(qs.start)
	}
	op := operationFromContext(ctx)

	if obs := getQueryObserver(); obs != nil && dur > 0 {
		outcome := "ok"
		if data.Err != nil {
			outcome = "error"
		}
		obs.ObserveQuery(ctx, op, outcome, dur)
	}

	if data.Err != nil {
		log.FromContext(ctx).Error(ctx, data.Err, "db query failed", queryFields(qs, op, dur, data)...)
		return
	}
	log.FromContext(ctx).Info(ctx, "db query", queryFields(qs, op, dur, data)...)
}

func queryFields(qs queryStart, op string, dur time.Duration, data pgx.TraceQueryEndData) []any {
	fields := []any{
		"db.statement", compactSQL(qs.sql),
		"db.args", len(qs.args),
		"db.duration", dur.Seconds(),
		"warden.db.operation", op,
	}

	if tag := strings.TrimSpace(data.CommandTag.String()); tag != "" {
		if parts := strings.Fields(tag); len(parts) > 0 {
			fields = append(fields, "db.operation.name", strings.ToUpper(parts[0]))
		}
		fields = append(fields, "db.rows", data.CommandTag.RowsAffected())
	}

	var pgErr *pgconn.PgError
	if errors.As(data.Err, &pgErr) {
		fields = append(fields,
			"db.error_code", pgErr.Code,
			"db.error_constraint", pgErr.ConstraintName,
		)
	}
	return fields
}

// compactSQL collapses whitespace so multi-line statements log on one line.
func compactSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}
