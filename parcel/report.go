package parcel

import "fmt"

type Severity string

const (
	Critical Severity = "CRITICAL"
	Warning  Severity = "WARNING"
)

// Stage identifies where an issue was raised.
type Stage string

const (
	StageStructural  Stage = "structural"
	StageProjection  Stage = "projection"
	StageFields      Stage = "fields"
	StageDataQuality Stage = "data_quality"
	StageGeometry    Stage = "geometry"
	StageSanitize    Stage = "sanitize"
	StagePipeline    Stage = "pipeline"
)

type Issue struct {
	Severity  Severity `json:"severity"`
	Stage     Stage    `json:"stage"`
	FeatureID *int     `json:"featureId,omitempty"`
	Message   string   `json:"message"`
}

func (i Issue) String() string {
	if i.FeatureID != nil {
		return fmt.Sprintf("[%s] %s: feature %d: %s", i.Severity, i.Stage, *i.FeatureID, i.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", i.Severity, i.Stage, i.Message)
}

// FeatureRef returns a pointer suitable for Issue.FeatureID.
func FeatureRef(id int) *int { return &id }

func NewCritical(stage Stage, id *int, format string, args ...any) Issue {
	return Issue{Severity: Critical, Stage: stage, FeatureID: id, Message: fmt.Sprintf(format, args...)}
}

func NewWarning(stage Stage, id *int, format string, args ...any) Issue {
	return Issue{Severity: Warning, Stage: stage, FeatureID: id, Message: fmt.Sprintf(format, args...)}
}

// Report is the outcome of a validation run, optionally carrying the
// pre-check report and the sanitize summary of the run that produced it.
type Report struct {
	StructuralOK bool           `json:"structuralOk"`
	ProjectionOK bool           `json:"projectionOk"`
	FieldsOK     bool           `json:"fieldsOk"`
	Pass         bool           `json:"pass"`
	Errors       []Issue        `json:"errors"`
	Warnings     []Issue        `json:"warnings"`
	Counts       map[string]int `json:"counts"`
	Sanitize     *Summary       `json:"sanitize,omitempty"`
	PreCheck     *Report        `json:"preCheck,omitempty"`
}

func NewReport() *Report {
	return &Report{
		Errors:   []Issue{},
		Warnings: []Issue{},
		Counts:   map[string]int{},
	}
}

// Add files the issue under errors or warnings by severity.
func (r *Report) Add(issues ...Issue) {
	for _, is := range issues {
		if is.Severity == Critical {
			r.Errors = append(r.Errors, is)
		} else {
			r.Warnings = append(r.Warnings, is)
		}
	}
}

func (r *Report) HasCritical() bool { return len(r.Errors) > 0 }

// CriticalIn counts CRITICAL issues raised by one stage.
func (r *Report) CriticalIn(stage Stage) int {
	n := 0
	for _, is := range r.Errors {
		if is.Stage == stage {
			n++
		}
	}
	return n
}

func (r *Report) WarningsIn(stage Stage) int {
	n := 0
	for _, is := range r.Warnings {
		if is.Stage == stage {
			n++
		}
	}
	return n
}

// Fatal reports whether one of the first three stages failed.
func (r *Report) Fatal() bool {
	return !r.StructuralOK || !r.ProjectionOK || !r.FieldsOK
}

// Finalize computes the overall verdict.
func (r *Report) Finalize() {
	r.Pass = !r.Fatal() && !r.HasCritical()
}

// Summary counts what the sanitizer changed.
type Summary struct {
	OverlapsDetected   int           `json:"overlapsDetected"`
	OverlapsResolved   int           `json:"overlapsResolved"`
	OverlapsUnresolved int           `json:"overlapsUnresolved"`
	ErasedDeleted      int           `json:"erasedDeleted"`
	ContainedRemoved   int           `json:"containedRemoved"`
	MultipartSplit     int           `json:"multipartSplit"`
	PartsCreated       int           `json:"partsCreated"`
	HolesStripped      int           `json:"holesStripped"`
	Repaired           int           `json:"repaired"`
	NullsRemoved       int           `json:"nullsRemoved"`
	SliversRemoved     int           `json:"sliversRemoved"`
	Renumbered         int           `json:"renumbered"`
	UniqueIDsAssigned  int           `json:"uniqueIdsAssigned"`
	Pairs              []OverlapPair `json:"pairs"`
	Stages             []string      `json:"stages"`
}

// Mutations is the number of record level changes the run made.
func (s Summary) Mutations() int {
	return s.OverlapsResolved + s.OverlapsUnresolved + s.ErasedDeleted + s.ContainedRemoved +
		s.MultipartSplit + s.HolesStripped + s.Repaired + s.NullsRemoved +
		s.SliversRemoved + s.Renumbered + s.UniqueIDsAssigned
}
