package sanitize

import (
	"cmp"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bsaid97/go-parcel-fixer/parcel"
)

// SortKey names the attributes that define parcel order, most significant
// first. The first field present in the batch is used; with none present
// records keep id order.
type SortKey struct {
	Fields []string
}

type RenumberStats struct {
	Renumbered int
	UniqueIDs  int
	SortField  string
}

type Renumberer struct {
	plotFields    []string
	uniqueIDField string
	newID         func() string
	logger        zerolog.Logger
}

func NewRenumberer(policy parcel.Policy, logger zerolog.Logger) *Renumberer {
	return &Renumberer{
		plotFields:    policy.PlotFields,
		uniqueIDField: policy.UniqueIDField,
		newID:         func() string { return "{" + strings.ToUpper(uuid.NewString()) + "}" },
		logger:        logger.With().Str("component", "renumberer").Logger(),
	}
}

// pickField returns the first sort field that any record carries.
func pickField(batch *parcel.Batch, key SortKey) string {
	for _, f := range key.Fields {
		if batch.HasField(f) {
			return f
		}
		for _, r := range batch.Records {
			if v, ok := r.Attr(f); ok && v != nil {
				return f
			}
		}
	}
	return ""
}

type valueKind int

const (
	kindTime valueKind = iota
	kindNumber
	kindString
	kindMissing
)

// sortValue is an attribute value classified once, so every comparison
// between two records agrees on how each side is read.
type sortValue struct {
	kind valueKind
	t    time.Time
	f    float64
	s    string
}

func sortValueOf(v any) sortValue {
	if v == nil || parcel.AsString(v) == "" {
		return sortValue{kind: kindMissing}
	}
	if t, ok := parcel.AsTime(v); ok {
		return sortValue{kind: kindTime, t: t}
	}
	if f, ok := parcel.AsFloat(v); ok && !math.IsNaN(f) {
		return sortValue{kind: kindNumber, f: f}
	}
	return sortValue{kind: kindString, s: parcel.AsString(v)}
}

// compare orders timestamps, then numbers, then strings, then missing
// values.
func (a sortValue) compare(b sortValue) int {
	if a.kind != b.kind {
		return cmp.Compare(a.kind, b.kind)
	}
	switch a.kind {
	case kindTime:
		return a.t.Compare(b.t)
	case kindNumber:
		return cmp.Compare(a.f, b.f)
	case kindString:
		return strings.Compare(a.s, b.s)
	}
	return 0
}

// Renumber sorts the batch by key, ties broken by current id, then assigns
// ids and every plot field the sequence 1..N in that order. Running it on
// an already renumbered batch changes nothing.
func (r *Renumberer) Renumber(batch *parcel.Batch, key SortKey) RenumberStats {
	stats := RenumberStats{SortField: pickField(batch, key)}

	type keyed struct {
		rec parcel.Record
		key sortValue
	}
	rows := make([]keyed, len(batch.Records))
	for i, rec := range batch.Records {
		rows[i].rec = rec
		if stats.SortField != "" {
			v, _ := rec.Attr(stats.SortField)
			rows[i].key = sortValueOf(v)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if c := rows[i].key.compare(rows[j].key); c != 0 {
			return c < 0
		}
		return rows[i].rec.ID < rows[j].rec.ID
	})
	for i := range rows {
		batch.Records[i] = rows[i].rec
	}

	for i := range batch.Records {
		rec := &batch.Records[i]
		seq := i + 1
		changed := rec.ID != seq
		rec.ID = seq
		for _, f := range r.plotFields {
			if v, ok := rec.Attr(f); !ok || !parcel.ValuesEqual(v, seq) {
				rec.SetAttr(f, seq)
				changed = true
			}
		}
		if changed {
			stats.Renumbered++
		}
	}

	stats.UniqueIDs = r.assignUniqueIDs(batch)

	if stats.Renumbered > 0 || stats.UniqueIDs > 0 {
		r.logger.Info().Int("renumbered", stats.Renumbered).Int("unique_ids", stats.UniqueIDs).
			Str("sort_field", stats.SortField).Msg("renumbering complete")
	}
	return stats
}

// assignUniqueIDs gives a fresh GUID to every record whose unique id is
// missing or repeats an earlier record's. Only applies when the batch
// schema carries the field.
func (r *Renumberer) assignUniqueIDs(batch *parcel.Batch) int {
	if r.uniqueIDField == "" || !batch.HasField(r.uniqueIDField) {
		return 0
	}
	seen := make(map[string]bool, batch.Len())
	assigned := 0
	for i := range batch.Records {
		rec := &batch.Records[i]
		v, _ := rec.Attr(r.uniqueIDField)
		s := strings.ToUpper(strings.TrimSpace(parcel.AsString(v)))
		if s == "" || seen[s] {
			s = r.newID()
			rec.SetAttr(r.uniqueIDField, s)
			assigned++
		}
		seen[strings.ToUpper(s)] = true
	}
	return assigned
}
