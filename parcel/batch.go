package parcel

import (
	"sort"
	"strings"
)

// Batch is the in-memory working set for one run.
type Batch struct {
	Records []Record
	Fields  []string
	CRSID   int
}

func (b *Batch) Len() int { return len(b.Records) }

func (b *Batch) Clone() *Batch {
	out := &Batch{
		Records: make([]Record, len(b.Records)),
		Fields:  append([]string(nil), b.Fields...),
		CRSID:   b.CRSID,
	}
	for i, r := range b.Records {
		out.Records[i] = r.Clone()
	}
	return out
}

func (b *Batch) index(id int) int {
	for i := range b.Records {
		if b.Records[i].ID == id {
			return i
		}
	}
	return -1
}

func (b *Batch) Get(id int) (Record, bool) {
	if i := b.index(id); i >= 0 {
		return b.Records[i], true
	}
	return Record{}, false
}

// Replace overwrites the record carrying rec.ID. It reports false when no
// such record exists.
func (b *Batch) Replace(rec Record) bool {
	i := b.index(rec.ID)
	if i < 0 {
		return false
	}
	b.Records[i] = rec
	return true
}

func (b *Batch) Delete(id int) bool {
	i := b.index(id)
	if i < 0 {
		return false
	}
	b.Records = append(b.Records[:i], b.Records[i+1:]...)
	return true
}

func (b *Batch) Append(rec Record) {
	b.Records = append(b.Records, rec)
}

// NextID returns a fresh id above every id currently in the batch.
func (b *Batch) NextID() int {
	max := 0
	for _, r := range b.Records {
		if r.ID > max {
			max = r.ID
		}
	}
	return max + 1
}

func (b *Batch) IDs() []int {
	ids := make([]int, len(b.Records))
	for i, r := range b.Records {
		ids[i] = r.ID
	}
	return ids
}

func (b *Batch) HasField(name string) bool {
	for _, f := range b.Fields {
		if strings.EqualFold(f, name) {
			return true
		}
	}
	return false
}

// SortByID orders records by ascending id in place.
func (b *Batch) SortByID() {
	sort.SliceStable(b.Records, func(i, j int) bool { return b.Records[i].ID < b.Records[j].ID })
}

// ChangeSet is what one stage did to the working set, keyed by record id.
type ChangeSet struct {
	Deleted          []int
	Inserted         []Record
	GeometryUpdates  []Record
	AttributeUpdates []Record
}

func (c ChangeSet) Empty() bool {
	return len(c.Deleted) == 0 && len(c.Inserted) == 0 &&
		len(c.GeometryUpdates) == 0 && len(c.AttributeUpdates) == 0
}

func (c ChangeSet) Size() int {
	return len(c.Deleted) + len(c.Inserted) + len(c.GeometryUpdates) + len(c.AttributeUpdates)
}

// Diff computes the changes that turn before into after. A record whose id
// survives but whose geometry and attributes both changed shows up in both
// update lists.
func Diff(before, after *Batch) ChangeSet {
	var cs ChangeSet
	prev := make(map[int]Record, len(before.Records))
	for _, r := range before.Records {
		prev[r.ID] = r
	}
	seen := make(map[int]bool, len(after.Records))
	for _, r := range after.Records {
		seen[r.ID] = true
		old, ok := prev[r.ID]
		if !ok {
			cs.Inserted = append(cs.Inserted, r)
			continue
		}
		if !GeometryEqual(old.Geometry, r.Geometry) {
			cs.GeometryUpdates = append(cs.GeometryUpdates, r)
		}
		if !AttributesEqual(old.Attributes, r.Attributes) {
			cs.AttributeUpdates = append(cs.AttributeUpdates, r)
		}
	}
	for _, r := range before.Records {
		if !seen[r.ID] {
			cs.Deleted = append(cs.Deleted, r.ID)
		}
	}
	sort.Ints(cs.Deleted)
	return cs
}
