package parcel

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCancelled is returned when a run is interrupted between pairs or stages.
var ErrCancelled = errors.New("sanitization cancelled")

// StructuralError indicates the feature collection is missing or empty
type StructuralError struct {
	Reason string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("structural check failed: %s", e.Reason)
}

// ProjectionError indicates a CRS outside the accepted list
type ProjectionError struct {
	CRSID    int
	Accepted []int
}

func (e *ProjectionError) Error() string {
	return fmt.Sprintf("coordinate system %d is not accepted (allowed: %v)", e.CRSID, e.Accepted)
}

// FieldError lists required fields absent from the schema
type FieldError struct {
	Missing []string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.Missing, ", "))
}

// DataQualityError is a per-record attribute defect
type DataQualityError struct {
	FeatureID int
	Field     string
	Reason    string
}

func (e *DataQualityError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("feature %d field %s: %s", e.FeatureID, e.Field, e.Reason)
	}
	return fmt.Sprintf("feature %d: %s", e.FeatureID, e.Reason)
}

// GeometryError wraps a kernel failure on one feature
type GeometryError struct {
	FeatureID int
	Op        string
	Reason    string
}

func (e *GeometryError) Error() string {
	if e.FeatureID != 0 {
		return fmt.Sprintf("geometry %s failed on feature %d: %s", e.Op, e.FeatureID, e.Reason)
	}
	return fmt.Sprintf("geometry %s failed: %s", e.Op, e.Reason)
}

// ResolutionFailure indicates an overlap left after the whole buffer ladder
type ResolutionFailure struct {
	IDA, IDB    int
	Attempts    int
	LastCM      float64
	OverlapArea float64
}

func (e *ResolutionFailure) Error() string {
	return fmt.Sprintf("overlap between %d and %d unresolved after %d attempts (last buffer %.0f cm, remaining area %.6f)",
		e.IDA, e.IDB, e.Attempts, e.LastCM, e.OverlapArea)
}

// IssueFor maps a typed error onto the report severity it carries.
func IssueFor(err error) Issue {
	var (
		se *StructuralError
		pe *ProjectionError
		fe *FieldError
		de *DataQualityError
		ge *GeometryError
		rf *ResolutionFailure
	)
	switch {
	case errors.As(err, &se):
		return NewCritical(StageStructural, nil, "%s", se.Reason)
	case errors.As(err, &pe):
		return NewCritical(StageProjection, nil, "%s", pe.Error())
	case errors.As(err, &fe):
		return NewCritical(StageFields, nil, "%s", fe.Error())
	case errors.As(err, &de):
		return NewCritical(StageDataQuality, FeatureRef(de.FeatureID), "%s", de.Error())
	case errors.As(err, &ge):
		var id *int
		if ge.FeatureID != 0 {
			id = FeatureRef(ge.FeatureID)
		}
		return NewCritical(StageGeometry, id, "%s", ge.Error())
	case errors.As(err, &rf):
		return NewWarning(StageSanitize, FeatureRef(rf.IDB), "%s", rf.Error())
	case errors.Is(err, ErrCancelled):
		return NewCritical(StagePipeline, nil, "%s", err.Error())
	}
	return NewCritical(StagePipeline, nil, "%s", err.Error())
}
