// Package sqlitekv provides a durable kv.Store on an embedded SQLite database.
//
// All partitions share one table keyed by (partition, key). The table is
// WITHOUT ROWID so SQLite keeps rows clustered in byte-wise key order, which is
// what Partition.Scan relies on. Ids come from an AUTOINCREMENT column, which
// SQLite guarantees never to reuse even after rows are deleted.
package sqlitekv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	_ "modernc.org/sqlite"

	"github.com/linnemanlabs/warden/internal/kv"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/kv/sqlitekv")

const schema = `
CREATE TABLE IF NOT EXISTS kv_partitions (
	name       TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS kv_entries (
	part        TEXT NOT NULL,
	entry_key   BLOB NOT NULL,
	entry_value BLOB NOT NULL,
	PRIMARY KEY (part, entry_key)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS kv_ids (
	id INTEGER PRIMARY KEY AUTOINCREMENT
);
`

// Store is a kv.Store backed by a single SQLite file.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlitekv: database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("sqlitekv: create data directory: %w", err)
	}

	// pragmas in the DSN so every pool connection is configured the same way
	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(FULL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: open: %w", err)
	}

	// single writer connection, sqlite serializes writes anyway
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitekv: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitekv: apply schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// OpenPartition registers the partition name (idempotent) and returns a handle.
func (s *Store) OpenPartition(ctx context.Context, name string) (kv.Partition, error) {
	if err := kv.ValidatePartitionName(name); err != nil {
		return nil, err
	}

	ctx, span := startSpan(ctx, "sqlitekv.OpenPartition", name)
	defer span.End()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO kv_partitions (name, created_at) VALUES (?, ?)`,
		name, time.Now().Unix(),
	)
	if err != nil {
		err = fmt.Errorf("%w: open %s: %w", kv.ErrStoreUnavailable, name, err)
		recordErr(span, err)
		return nil, err
	}
	return &partition{db: s.db, name: name}, nil
}

// GenerateID allocates the next id from the AUTOINCREMENT sequence and trims
// older rows so the table stays at one row.
func (s *Store) GenerateID(ctx context.Context) (uint64, error) {
	ctx, span := startSpan(ctx, "sqlitekv.GenerateID", "")
	defer span.End()

	id, err := s.generateID(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", kv.ErrIDGeneration, err)
		recordErr(span, err)
		return 0, err
	}
	span.SetAttributes(attribute.Int64("kv.id", int64(id))) //nolint:gosec // ids fit in int64
	return id, nil
}

func (s *Store) generateID(ctx context.Context) (uint64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is harmless

	res, err := tx.ExecContext(ctx, `INSERT INTO kv_ids DEFAULT VALUES`)
	if err != nil {
		return 0, fmt.Errorf("allocate: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	if id <= 0 {
		return 0, fmt.Errorf("unexpected id %d", id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM kv_ids WHERE id < ?`, id); err != nil {
		return 0, fmt.Errorf("trim: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return uint64(id), nil
}

type partition struct {
	db   *sql.DB
	name string
}

func (p *partition) Name() string { return p.name }

func (p *partition) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	ctx, span := startSpan(ctx, "sqlitekv.Get", p.name)
	defer span.End()

	var value []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT entry_value FROM kv_entries WHERE part = ? AND entry_key = ?`,
		p.name, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		err = fmt.Errorf("%w: get %s/%s: %w", kv.ErrStoreUnavailable, p.name, key, err)
		recordErr(span, err)
		return nil, false, err
	}
	return value, true, nil
}

func (p *partition) Insert(ctx context.Context, key, value []byte) error {
	ctx, span := startSpan(ctx, "sqlitekv.Insert", p.name)
	defer span.End()

	if value == nil {
		value = []byte{}
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO kv_entries (part, entry_key, entry_value) VALUES (?, ?, ?)
		 ON CONFLICT (part, entry_key) DO UPDATE SET entry_value = excluded.entry_value`,
		p.name, key, value,
	)
	if err != nil {
		err = fmt.Errorf("%w: insert %s/%s: %w", kv.ErrWriteFailed, p.name, key, err)
		recordErr(span, err)
		return err
	}
	return nil
}

// Flush checkpoints the WAL into the main database file. Commits are already
// durable with synchronous(FULL); the checkpoint bounds recovery work.
func (p *partition) Flush(ctx context.Context) error {
	ctx, span := startSpan(ctx, "sqlitekv.Flush", p.name)
	defer span.End()

	var busy, logFrames, checkpointed int
	err := p.db.QueryRowContext(ctx, `PRAGMA wal_checkpoint(PASSIVE)`).Scan(&busy, &logFrames, &checkpointed)
	if err != nil {
		err = fmt.Errorf("%w: flush %s: %w", kv.ErrFlushFailed, p.name, err)
		recordErr(span, err)
		return err
	}
	return nil
}

func (p *partition) Scan(ctx context.Context, fn func(key, value []byte) bool) error {
	ctx, span := startSpan(ctx, "sqlitekv.Scan", p.name)
	defer span.End()

	rows, err := p.db.QueryContext(ctx,
		`SELECT entry_key, entry_value FROM kv_entries WHERE part = ? ORDER BY entry_key`,
		p.name,
	)
	if err != nil {
		err = fmt.Errorf("%w: scan %s: %w", kv.ErrStoreUnavailable, p.name, err)
		recordErr(span, err)
		return err
	}
	defer func() { _ = rows.Close() }()

	// collect first, the single pool connection is held until rows close
	type entry struct{ k, v []byte }
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.k, &e.v); err != nil {
			err = fmt.Errorf("%w: scan %s: %w", kv.ErrStoreUnavailable, p.name, err)
			recordErr(span, err)
			return err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		err = fmt.Errorf("%w: scan %s: %w", kv.ErrStoreUnavailable, p.name, err)
		recordErr(span, err)
		return err
	}
	_ = rows.Close()

	for _, e := range entries {
		if !fn(e.k, e.v) {
			break
		}
	}
	return nil
}

func startSpan(ctx context.Context, name, partition string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("db.system", "sqlite")}
	if partition != "" {
		attrs = append(attrs, attribute.String("kv.partition", partition))
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func recordErr(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
