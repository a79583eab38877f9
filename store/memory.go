package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/twpayne/go-geom"

	"github.com/bsaid97/go-parcel-fixer/parcel"
)

// Memory keeps the batch in process. A transaction works on a private
// copy of the records and swaps it in on commit, so an abandoned
// transaction leaves nothing behind. File backed stores reuse it and
// persist from the commit hook.
type Memory struct {
	mu      sync.RWMutex
	name    string
	crsID   int
	fields  []string
	records map[int]parcel.Record

	// persist runs under the write lock before a commit becomes visible;
	// an error aborts the commit.
	persist func(*parcel.Batch) error
}

// NewMemory seeds a store with a copy of batch.
func NewMemory(name string, batch *parcel.Batch) *Memory {
	m := &Memory{name: name, records: map[int]parcel.Record{}}
	if batch != nil {
		m.crsID = batch.CRSID
		m.fields = withIDField(batch.Fields)
		for _, r := range batch.Records {
			m.records[r.ID] = r.Clone()
		}
	} else {
		m.fields = []string{IDField}
	}
	return m
}

func withIDField(fields []string) []string {
	out := []string{IDField}
	for _, f := range fields {
		if !strings.EqualFold(f, IDField) {
			out = append(out, f)
		}
	}
	return out
}

func (m *Memory) Name() string { return m.name }

func (m *Memory) Iterate(ctx context.Context, fields []string, fn func(parcel.Record) error) error {
	m.mu.RLock()
	ids := sortedIDs(m.records)
	recs := make([]parcel.Record, 0, len(ids))
	for _, id := range ids {
		r := m.records[id].Clone()
		r.Attributes = selectFields(r.Attributes, fields)
		recs = append(recs, r)
	}
	m.mu.RUnlock()

	for _, r := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

func (m *Memory) FieldNames(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.fields...), nil
}

func (m *Memory) CRSID(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.crsID, nil
}

// Snapshot returns a deep copy of the committed state in id order.
func (m *Memory) Snapshot() *parcel.Batch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Memory) snapshotLocked() *parcel.Batch {
	b := &parcel.Batch{CRSID: m.crsID, Fields: append([]string(nil), m.fields...)}
	for _, id := range sortedIDs(m.records) {
		b.Records = append(b.Records, m.records[id].Clone())
	}
	return b
}

func (m *Memory) Begin(context.Context) (Tx, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	work := make(map[int]parcel.Record, len(m.records))
	for id, r := range m.records {
		work[id] = r
	}
	return &memoryTx{store: m, records: work}, nil
}

func (m *Memory) Close(context.Context) error { return nil }

func sortedIDs(records map[int]parcel.Record) []int {
	ids := make([]int, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

type memoryTx struct {
	store   *Memory
	records map[int]parcel.Record
	done    bool
}

func (tx *memoryTx) get(id int) (parcel.Record, error) {
	if tx.done {
		return parcel.Record{}, ErrTxDone
	}
	r, ok := tx.records[id]
	if !ok {
		return parcel.Record{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return r, nil
}

func (tx *memoryTx) UpdateGeometry(_ context.Context, id int, g *geom.MultiPolygon) error {
	r, err := tx.get(id)
	if err != nil {
		return err
	}
	if g != nil {
		g = g.Clone()
	}
	r.Geometry = g
	tx.records[id] = r
	return nil
}

func (tx *memoryTx) UpdateAttributes(_ context.Context, id int, attrs map[string]any) error {
	r, err := tx.get(id)
	if err != nil {
		return err
	}
	r.Attributes = selectFields(attrs, nil)
	tx.records[id] = r
	return nil
}

func (tx *memoryTx) Insert(_ context.Context, rec parcel.Record) (int, error) {
	if tx.done {
		return 0, ErrTxDone
	}
	if rec.ID == 0 {
		for id := range tx.records {
			if id > rec.ID {
				rec.ID = id
			}
		}
		rec.ID++
	}
	if _, exists := tx.records[rec.ID]; exists {
		return 0, fmt.Errorf("record %d already exists", rec.ID)
	}
	tx.records[rec.ID] = rec.Clone()
	return rec.ID, nil
}

func (tx *memoryTx) Delete(_ context.Context, id int) error {
	if _, err := tx.get(id); err != nil {
		return err
	}
	delete(tx.records, id)
	return nil
}

func (tx *memoryTx) Commit(context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	m := tx.store
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.records
	m.records = tx.records
	if m.persist != nil {
		if err := m.persist(m.snapshotLocked()); err != nil {
			m.records = prev
			return fmt.Errorf("persisting %s: %w", m.name, err)
		}
	}
	tx.done = true
	return nil
}

func (tx *memoryTx) Rollback(context.Context) error {
	tx.done = true
	tx.records = nil
	return nil
}
