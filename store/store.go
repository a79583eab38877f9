// Package store defines the Geometry Store the engine reads parcels from and
// writes its changes back to, plus the backends that implement it. Every
// write goes through a Tx so a pipeline stage lands in full or not at all.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/twpayne/go-geom"

	"github.com/bsaid97/go-parcel-fixer/parcel"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrTxDone   = errors.New("transaction already committed or rolled back")
)

// IDField is the attribute name every backend reports for the record key.
const IDField = "OBJECTID"

// Reader is the read side of a Geometry Store.
type Reader interface {
	Name() string
	// Iterate streams every record in id order. fields limits the
	// attributes returned; nil means all of them.
	Iterate(ctx context.Context, fields []string, fn func(parcel.Record) error) error
	Count(ctx context.Context) (int, error)
	FieldNames(ctx context.Context) ([]string, error)
	CRSID(ctx context.Context) (int, error)
}

// Tx is a mutation scope. Nothing is visible to readers until Commit.
// Rollback after Commit is a no-op so it can always be deferred.
type Tx interface {
	UpdateGeometry(ctx context.Context, id int, g *geom.MultiPolygon) error
	UpdateAttributes(ctx context.Context, id int, attrs map[string]any) error
	// Insert stores rec and returns its id. A zero rec.ID asks the store
	// to allocate one.
	Insert(ctx context.Context, rec parcel.Record) (int, error)
	Delete(ctx context.Context, id int) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type Store interface {
	Reader
	Begin(ctx context.Context) (Tx, error)
	Close(ctx context.Context) error
}

// Load reads the whole store into a batch.
func Load(ctx context.Context, st Reader) (*parcel.Batch, error) {
	fields, err := st.FieldNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading field names of %s: %w", st.Name(), err)
	}
	crs, err := st.CRSID(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading crs of %s: %w", st.Name(), err)
	}
	batch := &parcel.Batch{Fields: fields, CRSID: crs}
	err = st.Iterate(ctx, nil, func(rec parcel.Record) error {
		batch.Append(rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading records of %s: %w", st.Name(), err)
	}
	batch.SortByID()
	return batch, nil
}

// WithinTx runs fn inside a transaction, committing when fn succeeds and
// rolling back on error, panic or cancellation.
func WithinTx(ctx context.Context, st Store, fn func(Tx) error) (err error) {
	tx, err := st.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction on %s: %w", st.Name(), err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		// the caller's context may already be cancelled
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && err == nil {
			err = fmt.Errorf("rolling back: %w", rbErr)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", parcel.ErrCancelled, err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing to %s: %w", st.Name(), err)
	}
	committed = true
	return nil
}

// Apply writes a change set: deletes first so renumbered ids are free,
// then updates, then inserts.
func Apply(ctx context.Context, tx Tx, cs parcel.ChangeSet) error {
	for _, id := range cs.Deleted {
		if err := tx.Delete(ctx, id); err != nil {
			return fmt.Errorf("deleting %d: %w", id, err)
		}
	}
	for _, rec := range cs.GeometryUpdates {
		if err := tx.UpdateGeometry(ctx, rec.ID, rec.Geometry); err != nil {
			return fmt.Errorf("updating geometry of %d: %w", rec.ID, err)
		}
	}
	for _, rec := range cs.AttributeUpdates {
		if err := tx.UpdateAttributes(ctx, rec.ID, rec.Attributes); err != nil {
			return fmt.Errorf("updating attributes of %d: %w", rec.ID, err)
		}
	}
	for _, rec := range cs.Inserted {
		if _, err := tx.Insert(ctx, rec); err != nil {
			return fmt.Errorf("inserting %d: %w", rec.ID, err)
		}
	}
	return nil
}

// selectFields projects attrs onto fields; nil fields keeps everything.
func selectFields(attrs map[string]any, fields []string) map[string]any {
	if fields == nil {
		out := make(map[string]any, len(attrs))
		for k, v := range attrs {
			out[k] = v
		}
		return out
	}
	out := make(map[string]any, len(fields))
	rec := parcel.Record{Attributes: attrs}
	for _, f := range fields {
		if v, ok := rec.Attr(f); ok {
			out[f] = v
		}
	}
	return out
}
