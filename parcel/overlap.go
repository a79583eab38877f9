package parcel

import "fmt"

// Method names the predicate that classified an overlapping pair.
type Method int

const (
	MethodIntersects Method = iota
	MethodOverlaps
	MethodIntersectionArea
	MethodContainment
	MethodBoundaryTouch
)

var methodNames = map[Method]string{
	MethodIntersects:       "intersects",
	MethodOverlaps:         "overlaps",
	MethodIntersectionArea: "intersection_area",
	MethodContainment:      "containment",
	MethodBoundaryTouch:    "boundary_touch",
}

func (m Method) String() string {
	if s, ok := methodNames[m]; ok {
		return s
	}
	return fmt.Sprintf("method(%d)", int(m))
}

func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// OverlapPair records one candidate pair. IDA is the anchor and is never
// mutated; IDB is the target of buffer-erase.
type OverlapPair struct {
	IDA      int     `json:"idA"`
	IDB      int     `json:"idB"`
	Area     float64 `json:"area"`
	Method   Method  `json:"method"`
	Resolved bool    `json:"resolved"`
}

// IsOverlap reports whether the pair needs resolving. A boundary touch only
// counts when it somehow carries area above eps.
func (p OverlapPair) IsOverlap(eps float64) bool {
	if p.Method == MethodBoundaryTouch {
		return p.Area > eps
	}
	return true
}

func (p OverlapPair) String() string {
	return fmt.Sprintf("(%d,%d) %s area=%.6f", p.IDA, p.IDB, p.Method, p.Area)
}
