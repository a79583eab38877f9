package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twpayne/go-geom"

	_ "github.com/lib/pq"

	"github.com/bsaid97/go-parcel-fixer/parcel"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS parcel_batches (
	batch_id TEXT PRIMARY KEY,
	crs_id   INTEGER NOT NULL,
	fields   JSONB NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS parcels (
	batch_id   TEXT NOT NULL REFERENCES parcel_batches(batch_id) ON DELETE CASCADE,
	id         INTEGER NOT NULL,
	geom       BYTEA,
	attributes JSONB NOT NULL DEFAULT '{}',
	PRIMARY KEY (batch_id, id)
);`

// Postgres keeps one batch per batch_id, geometry as WKB and attributes
// as JSONB. A Tx maps onto a database transaction.
type Postgres struct {
	db      *sql.DB
	batchID string
}

func OpenPostgres(ctx context.Context, dsn, batchID string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Postgres{db: db, batchID: batchID}, nil
}

func (p *Postgres) Name() string { return "postgres:" + p.batchID }

// Import replaces the stored batch with batch.
func (p *Postgres) Import(ctx context.Context, batch *parcel.Batch) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	fields, err := json.Marshal(withIDField(batch.Fields))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM parcel_batches WHERE batch_id = $1`, p.batchID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO parcel_batches(batch_id, crs_id, fields) VALUES($1, $2, $3)`,
		p.batchID, batch.CRSID, fields); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO parcels(batch_id, id, geom, attributes) VALUES($1, $2, $3, $4)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range batch.Records {
		g, attrs, err := encodeRow(r.Geometry, r.Attributes)
		if err != nil {
			return fmt.Errorf("record %d: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, p.batchID, r.ID, g, attrs); err != nil {
			return fmt.Errorf("record %d: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

func encodeRow(g *geom.MultiPolygon, attrs map[string]any) ([]byte, []byte, error) {
	data, err := encodeWKB(g)
	if err != nil {
		return nil, nil, err
	}
	if attrs == nil {
		attrs = map[string]any{}
	}
	js, err := json.Marshal(attrs)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding attributes: %w", err)
	}
	return data, js, nil
}

func (p *Postgres) Iterate(ctx context.Context, fields []string, fn func(parcel.Record) error) error {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, geom, attributes FROM parcels WHERE batch_id = $1 ORDER BY id`, p.batchID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec   parcel.Record
			g     []byte
			attrs []byte
		)
		if err := rows.Scan(&rec.ID, &g, &attrs); err != nil {
			return err
		}
		if rec.Geometry, err = decodeWKB(g); err != nil {
			return fmt.Errorf("record %d: %w", rec.ID, err)
		}
		all := map[string]any{}
		if err := json.Unmarshal(attrs, &all); err != nil {
			return fmt.Errorf("record %d attributes: %w", rec.ID, err)
		}
		rec.Attributes = selectFields(all, fields)
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (p *Postgres) Count(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM parcels WHERE batch_id = $1`, p.batchID).Scan(&n)
	return n, err
}

func (p *Postgres) FieldNames(ctx context.Context) ([]string, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx, `SELECT fields FROM parcel_batches WHERE batch_id = $1`, p.batchID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: batch %s", ErrNotFound, p.batchID)
	}
	if err != nil {
		return nil, err
	}
	var fields []string
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func (p *Postgres) CRSID(ctx context.Context) (int, error) {
	var id int
	err := p.db.QueryRowContext(ctx, `SELECT crs_id FROM parcel_batches WHERE batch_id = $1`, p.batchID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: batch %s", ErrNotFound, p.batchID)
	}
	return id, err
}

func (p *Postgres) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &postgresTx{tx: tx, batchID: p.batchID}, nil
}

func (p *Postgres) Close(context.Context) error { return p.db.Close() }

type postgresTx struct {
	tx      *sql.Tx
	batchID string
}

func expectRow(res sql.Result, id int) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

func (t *postgresTx) UpdateGeometry(ctx context.Context, id int, g *geom.MultiPolygon) error {
	data, err := encodeWKB(g)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `UPDATE parcels SET geom = $3 WHERE batch_id = $1 AND id = $2`, t.batchID, id, data)
	if err != nil {
		return err
	}
	return expectRow(res, id)
}

func (t *postgresTx) UpdateAttributes(ctx context.Context, id int, attrs map[string]any) error {
	_, js, err := encodeRow(nil, attrs)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `UPDATE parcels SET attributes = $3 WHERE batch_id = $1 AND id = $2`, t.batchID, id, js)
	if err != nil {
		return err
	}
	return expectRow(res, id)
}

func (t *postgresTx) Insert(ctx context.Context, rec parcel.Record) (int, error) {
	g, attrs, err := encodeRow(rec.Geometry, rec.Attributes)
	if err != nil {
		return 0, err
	}
	var id int
	if rec.ID != 0 {
		err = t.tx.QueryRowContext(ctx,
			`INSERT INTO parcels(batch_id, id, geom, attributes) VALUES($1, $2, $3, $4) RETURNING id`,
			t.batchID, rec.ID, g, attrs).Scan(&id)
	} else {
		err = t.tx.QueryRowContext(ctx,
			`INSERT INTO parcels(batch_id, id, geom, attributes)
			 VALUES($1, COALESCE((SELECT MAX(id) FROM parcels WHERE batch_id = $1), 0) + 1, $2, $3)
			 RETURNING id`,
			t.batchID, g, attrs).Scan(&id)
	}
	return id, err
}

func (t *postgresTx) Delete(ctx context.Context, id int) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM parcels WHERE batch_id = $1 AND id = $2`, t.batchID, id)
	if err != nil {
		return err
	}
	return expectRow(res, id)
}

func (t *postgresTx) Commit(context.Context) error { return t.tx.Commit() }

func (t *postgresTx) Rollback(context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}
