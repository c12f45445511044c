package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"wastewatch/internal/core"

	_ "modernc.org/sqlite"
)

// MemoryDSN is a named in-memory database shared by every connection of
// the process. It disappears when the last connection closes.
const MemoryDSN = "file:wastewatch?mode=memory&cache=shared"

// SQLiteRepository is a RecordStore backed by SQLite.
type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if dbPath == ":memory:" {
		// Migrations run on their own connection and must see the same database.
		dbPath = MemoryDSN
	}
	if !isMemory(dbPath) {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; shared-cache memory databases also need this
	// to avoid table lock errors.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, queries: New(db)}, nil
}

func isMemory(dsn string) bool {
	return strings.Contains(dsn, "mode=memory")
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Replace implements sheets.RecordStore. The swap is atomic.
func (r *SQLiteRepository) Replace(ctx context.Context, records []core.Record) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	q := r.queries.WithTx(tx)
	if err := q.DeleteRecords(ctx); err != nil {
		return fmt.Errorf("delete records: %w", err)
	}
	for i, rec := range records {
		if err := q.InsertRecord(ctx, int64(i), rec); err != nil {
			return fmt.Errorf("insert record %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	slog.DebugContext(ctx, "Dataset replaced in SQLite", "records", len(records))
	return nil
}

// Prepend implements sheets.RecordStore.
func (r *SQLiteRepository) Prepend(ctx context.Context, rec core.Record) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	q := r.queries.WithTx(tx)
	seq, err := q.MinSeq(ctx)
	if err != nil {
		return fmt.Errorf("read min seq: %w", err)
	}
	if err := q.InsertRecord(ctx, seq-1, rec); err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return tx.Commit()
}

// List implements sheets.RecordStore.
func (r *SQLiteRepository) List(ctx context.Context) ([]core.Record, error) {
	recs, err := r.queries.ListRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return recs, nil
}

// Count returns the number of stored records.
func (r *SQLiteRepository) Count(ctx context.Context) (int64, error) {
	n, err := r.queries.CountRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}
