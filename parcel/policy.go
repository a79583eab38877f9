package parcel

import (
	"math"
	"strings"
)

// BufferSchedule is the escalation ladder for buffer-erase, in centimetres.
type BufferSchedule struct {
	StartCM float64 `yaml:"start_cm" json:"startCm" validate:"gt=0"`
	StopCM  float64 `yaml:"stop_cm" json:"stopCm" validate:"gtefield=StartCM"`
	StepCM  float64 `yaml:"step_cm" json:"stepCm" validate:"gt=0"`
}

// Distances lists every rung of the ladder, StartCM and StopCM inclusive.
func (s BufferSchedule) Distances() []float64 {
	if s.StepCM <= 0 || s.StopCM < s.StartCM {
		return nil
	}
	n := int(math.Floor((s.StopCM-s.StartCM)/s.StepCM+1e-9)) + 1
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, s.StartCM+float64(i)*s.StepCM)
	}
	return out
}

// Policy carries every tunable of a sanitize-and-validate run.
type Policy struct {
	// ExplicitBufferCM, when set, is applied exactly once instead of the
	// schedule.
	ExplicitBufferCM  *float64       `yaml:"explicit_buffer_cm" json:"explicitBufferCm,omitempty" validate:"omitempty,gt=0"`
	Schedule          BufferSchedule `yaml:"schedule" json:"schedule"`
	LargeBufferWarnCM float64        `yaml:"large_buffer_warn_cm" json:"largeBufferWarnCm" validate:"gt=0"`
	// UnitsPerCM converts centimetres into the native units of the CRS.
	UnitsPerCM float64 `yaml:"units_per_cm" json:"unitsPerCm" validate:"gt=0"`

	RunOverlapFix   bool `yaml:"run_overlap_fix" json:"runOverlapFix"`
	RemoveSlivers   bool `yaml:"remove_slivers" json:"removeSlivers"`
	RemoveContained bool `yaml:"remove_contained" json:"removeContained"`

	// Epsilon is the area tolerance for overlap and degenerate tests.
	Epsilon    float64 `yaml:"epsilon" json:"epsilon" validate:"gt=0"`
	SliverArea float64 `yaml:"sliver_area" json:"sliverArea" validate:"gte=0"`
	Precision  int     `yaml:"precision" json:"precision" validate:"gte=0,lte=15"`

	AcceptedCRSIDs    []int    `yaml:"accepted_crs_ids" json:"acceptedCrsIds" validate:"min=1"`
	RequiredFields    []string `yaml:"required_fields" json:"requiredFields"`
	OptionalFields    []string `yaml:"optional_fields" json:"optionalFields"`
	MandatoryFields   []string `yaml:"mandatory_fields" json:"mandatoryFields"`
	CodedFields       []string `yaml:"coded_fields" json:"codedFields"`
	PlaceholderTokens []string `yaml:"placeholder_tokens" json:"placeholderTokens"`

	UnitIDField    string `yaml:"unit_id_field" json:"unitIdField"`
	ExpectedUnitID string `yaml:"expected_unit_id" json:"expectedUnitId,omitempty"`
	PlotField      string `yaml:"plot_field" json:"plotField"`
	// PlotFields are renumbered together, in the same order.
	PlotFields    []string `yaml:"plot_fields" json:"plotFields"`
	SortFields    []string `yaml:"sort_fields" json:"sortFields"`
	UniqueIDField string   `yaml:"unique_id_field" json:"uniqueIdField"`
}

var coreFields = []string{
	"objectid", "state_lgd_cd", "dist_lgd_cd", "ulb_lgd_cd", "ward_lgd_cd",
	"vill_lgd_cd", "col_lgd_cd", "survey_unit_id", "soi_drone_survey_date",
	"sys_imported_timestamp", "old_survey_no", "soi_plot_no", "clr_plot_no",
	"old_clr_plot_no",
}

// DefaultPolicy returns the cadastral defaults: UTM zones 42N to 47N,
// a 1 to 80 cm buffer ladder and the standard survey field set.
func DefaultPolicy() Policy {
	return Policy{
		Schedule:          BufferSchedule{StartCM: 1, StopCM: 80, StepCM: 1},
		LargeBufferWarnCM: 50,
		UnitsPerCM:        0.01,
		RunOverlapFix:     true,
		RemoveSlivers:     false,
		RemoveContained:   true,
		Epsilon:           0.0001,
		SliverArea:        0.0001,
		Precision:         7,
		AcceptedCRSIDs:    []int{32642, 32643, 32644, 32645, 32646, 32647},
		RequiredFields:    append([]string(nil), coreFields...),
		OptionalFields:    []string{"soi_uniq_id", "old_soi_uniq_id"},
		MandatoryFields:   []string{"state_lgd_cd", "dist_lgd_cd", "ulb_lgd_cd", "ward_lgd_cd", "survey_unit_id"},
		CodedFields: []string{
			"state_lgd_cd", "dist_lgd_cd", "ulb_lgd_cd", "ward_lgd_cd",
			"vill_lgd_cd", "col_lgd_cd", "survey_unit_id",
		},
		PlaceholderTokens: []string{"null", "none", "na", "n/a", ""},
		UnitIDField:       "survey_unit_id",
		PlotField:         "clr_plot_no",
		PlotFields:        []string{"soi_plot_no", "clr_plot_no"},
		SortFields:        []string{"soi_drone_survey_date", "sys_imported_timestamp"},
		UniqueIDField:     "soi_uniq_id",
	}
}

// BufferUnits converts a centimetre distance into native units.
func (p Policy) BufferUnits(cm float64) float64 {
	return cm * p.UnitsPerCM
}

// Distances returns the ladder to try, or the single explicit distance.
func (p Policy) Distances() []float64 {
	if p.ExplicitBufferCM != nil {
		return []float64{*p.ExplicitBufferCM}
	}
	return p.Schedule.Distances()
}

func (p Policy) AcceptsCRS(id int) bool {
	for _, c := range p.AcceptedCRSIDs {
		if c == id {
			return true
		}
	}
	return false
}

func (p Policy) IsMandatory(field string) bool {
	return containsFold(p.MandatoryFields, field)
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
