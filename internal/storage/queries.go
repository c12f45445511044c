package storage

import (
	"context"
	"database/sql"
	"time"

	"wastewatch/internal/core"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const deleteRecords = `DELETE FROM records`

func (q *Queries) DeleteRecords(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteRecords)
	return err
}

const insertRecord = `INSERT INTO records (
    seq, collected_at, rec_paper, rec_plastic, rec_carton, res_paper, res_plastic, res_carton
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertRecord(ctx context.Context, seq int64, r core.Record) error {
	_, err := q.db.ExecContext(ctx, insertRecord,
		seq,
		r.Date.UnixMilli(),
		r.Recyclable.Paper, r.Recyclable.Plastic, r.Recyclable.Carton,
		r.Residual.Paper, r.Residual.Plastic, r.Residual.Carton,
	)
	return err
}

const minSeq = `SELECT COALESCE(MIN(seq), 0) FROM records`

func (q *Queries) MinSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := q.db.QueryRowContext(ctx, minSeq).Scan(&seq)
	return seq, err
}

const listRecords = `SELECT collected_at, rec_paper, rec_plastic, rec_carton, res_paper, res_plastic, res_carton
FROM records
ORDER BY seq ASC`

func (q *Queries) ListRecords(ctx context.Context) ([]core.Record, error) {
	rows, err := q.db.QueryContext(ctx, listRecords)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []core.Record{}
	for rows.Next() {
		var (
			ms int64
			r  core.Record
		)
		if err := rows.Scan(&ms,
			&r.Recyclable.Paper, &r.Recyclable.Plastic, &r.Recyclable.Carton,
			&r.Residual.Paper, &r.Residual.Plastic, &r.Residual.Carton,
		); err != nil {
			return nil, err
		}
		r.Date = time.UnixMilli(ms).UTC()
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countRecords = `SELECT COUNT(*) FROM records`

func (q *Queries) CountRecords(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countRecords).Scan(&n)
	return n, err
}
