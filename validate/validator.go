// Package validate runs the staged checks that decide whether a parcel batch
// is acceptable to the registry. The first three stages are fatal and stop
// the run; data quality and geometry always run to completion.
package validate

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bsaid97/go-parcel-fixer/kernel"
	"github.com/bsaid97/go-parcel-fixer/parcel"
	"github.com/bsaid97/go-parcel-fixer/sanitize"
)

var specialChars = regexp.MustCompile(`[^A-Za-z0-9_\- ]`)

// Count keys reported by the geometry stage.
const (
	CountRecords           = "records"
	CountNullGeometries    = "null_geometries"
	CountInvalidGeometries = "invalid_geometries"
	CountMultipart         = "multipart"
	CountComplexSinglePart = "complex_single_part"
	CountSelfIntersecting  = "self_intersecting"
	CountDegenerate        = "degenerate"
	CountHoled             = "holed"
	CountOverlappingPairs  = "overlapping_pairs"
	CountBoundaryTouches   = "boundary_touches"
)

type Validator struct {
	kernel     kernel.Kernel
	decomposer *sanitize.Decomposer
	logger     zerolog.Logger
}

func New(k kernel.Kernel, logger zerolog.Logger) *Validator {
	return &Validator{
		kernel:     k,
		decomposer: sanitize.NewDecomposer(k, logger),
		logger:     logger.With().Str("component", "validator").Logger(),
	}
}

// Validate checks batch against policy. A nil batch means the feature
// collection could not be found at all.
func (v *Validator) Validate(ctx context.Context, batch *parcel.Batch, policy parcel.Policy) *parcel.Report {
	report := parcel.NewReport()
	defer report.Finalize()

	if batch == nil {
		report.Add(parcel.IssueFor(&parcel.StructuralError{Reason: "feature collection not found"}))
		return report
	}
	if batch.Len() == 0 {
		report.Add(parcel.IssueFor(&parcel.StructuralError{Reason: "feature collection has no records"}))
		return report
	}
	report.StructuralOK = true

	if !policy.AcceptsCRS(batch.CRSID) {
		report.Add(parcel.IssueFor(&parcel.ProjectionError{CRSID: batch.CRSID, Accepted: policy.AcceptedCRSIDs}))
		return report
	}
	report.ProjectionOK = true

	if missing := missingFields(batch, policy.RequiredFields); len(missing) > 0 {
		report.Add(parcel.IssueFor(&parcel.FieldError{Missing: missing}))
		return report
	}
	for _, f := range missingFields(batch, policy.OptionalFields) {
		report.Add(parcel.NewWarning(parcel.StageFields, nil, "optional field %s is not present", f))
	}
	report.FieldsOK = true

	if v.cancelled(ctx, report) {
		return report
	}
	report.Add(v.CheckDataQuality(batch, policy)...)

	if v.cancelled(ctx, report) {
		return report
	}
	counts, issues, err := v.CheckGeometry(ctx, batch, policy)
	report.Add(issues...)
	for k, n := range counts {
		report.Counts[k] = n
	}
	if err != nil {
		report.Add(parcel.IssueFor(err))
	}

	v.logger.Info().
		Int("records", batch.Len()).
		Int("errors", len(report.Errors)).
		Int("warnings", len(report.Warnings)).
		Msg("validation complete")
	return report
}

func (v *Validator) cancelled(ctx context.Context, report *parcel.Report) bool {
	if err := ctx.Err(); err != nil {
		report.Add(parcel.IssueFor(fmt.Errorf("%w: %v", parcel.ErrCancelled, err)))
		return true
	}
	return false
}

func missingFields(batch *parcel.Batch, fields []string) []string {
	var missing []string
	for _, f := range fields {
		if !batch.HasField(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// CheckDataQuality runs the attribute checks: a single survey unit, a
// contiguous plot sequence, populated mandatory fields and the character
// scan on coded fields.
func (v *Validator) CheckDataQuality(batch *parcel.Batch, policy parcel.Policy) []parcel.Issue {
	var issues []parcel.Issue
	issues = append(issues, checkUnitID(batch, policy)...)
	issues = append(issues, checkPlotNumbers(batch, policy)...)
	issues = append(issues, checkMandatory(batch, policy)...)
	issues = append(issues, checkCharacters(batch, policy)...)
	return issues
}

func checkUnitID(batch *parcel.Batch, policy parcel.Policy) []parcel.Issue {
	if policy.UnitIDField == "" {
		return nil
	}
	seen := map[string]bool{}
	for _, r := range batch.Records {
		val, _ := r.Attr(policy.UnitIDField)
		if s := strings.TrimSpace(parcel.AsString(val)); s != "" {
			seen[s] = true
		}
	}
	units := make([]string, 0, len(seen))
	for s := range seen {
		units = append(units, s)
	}
	sort.Strings(units)

	switch {
	case len(units) > 1:
		return []parcel.Issue{parcel.NewCritical(parcel.StageDataQuality, nil,
			"multiple %s values found: %s", policy.UnitIDField, strings.Join(units, ", "))}
	case len(units) == 1 && policy.ExpectedUnitID != "" && units[0] != policy.ExpectedUnitID:
		return []parcel.Issue{parcel.NewCritical(parcel.StageDataQuality, nil,
			"%s mismatch: expected %s, found %s", policy.UnitIDField, policy.ExpectedUnitID, units[0])}
	}
	return nil
}

// checkPlotNumbers reports one CRITICAL issue per duplicated plot value and
// one per value missing from the run 1..max.
func checkPlotNumbers(batch *parcel.Batch, policy parcel.Policy) []parcel.Issue {
	if policy.PlotField == "" {
		return nil
	}
	if !batch.HasField(policy.PlotField) {
		return []parcel.Issue{parcel.NewWarning(parcel.StageDataQuality, nil,
			"plot field %s is not present, plot sequence not checked", policy.PlotField)}
	}

	var issues []parcel.Issue
	owners := map[int][]int{}
	blank := 0
	for _, r := range batch.Records {
		val, _ := r.Attr(policy.PlotField)
		if strings.TrimSpace(parcel.AsString(val)) == "" {
			blank++
			continue
		}
		n, ok := parcel.AsInt(val)
		if !ok {
			issues = append(issues, parcel.IssueFor(&parcel.DataQualityError{
				FeatureID: r.ID, Field: policy.PlotField,
				Reason: fmt.Sprintf("plot number %q is not an integer", parcel.AsString(val)),
			}))
			continue
		}
		owners[n] = append(owners[n], r.ID)
	}
	if blank > 0 {
		issues = append(issues, parcel.NewWarning(parcel.StageDataQuality, nil,
			"%s is missing for %d features", policy.PlotField, blank))
	}
	if len(owners) == 0 {
		return issues
	}

	values := make([]int, 0, len(owners))
	for n := range owners {
		values = append(values, n)
	}
	sort.Ints(values)

	for _, n := range values {
		if ids := owners[n]; len(ids) > 1 {
			issues = append(issues, parcel.NewCritical(parcel.StageDataQuality, parcel.FeatureRef(ids[1]),
				"duplicate plot number %d on features %s", n, joinInts(ids)))
		}
	}
	if values[0] != 1 {
		issues = append(issues, parcel.NewCritical(parcel.StageDataQuality, nil,
			"plot numbers must start at 1, first is %d", values[0]))
	}
	for i := 1; i < len(values); i++ {
		first, last := values[i-1]+1, values[i]-1
		switch {
		case first == last:
			issues = append(issues, parcel.NewCritical(parcel.StageDataQuality, nil,
				"plot number %d missing from sequence", first))
		case first < last:
			issues = append(issues, parcel.NewCritical(parcel.StageDataQuality, nil,
				"plot numbers %d..%d missing from sequence", first, last))
		}
	}
	return issues
}

func checkMandatory(batch *parcel.Batch, policy parcel.Policy) []parcel.Issue {
	var issues []parcel.Issue
	for _, r := range batch.Records {
		for _, f := range policy.MandatoryFields {
			val, _ := r.Attr(f)
			if isPlaceholder(val, policy.PlaceholderTokens) {
				issues = append(issues, parcel.IssueFor(&parcel.DataQualityError{
					FeatureID: r.ID, Field: f, Reason: "mandatory value is null or a placeholder",
				}))
			}
		}
	}
	return issues
}

func isPlaceholder(val any, tokens []string) bool {
	if val == nil {
		return true
	}
	s := strings.TrimSpace(parcel.AsString(val))
	if s == "" {
		return true
	}
	for _, t := range tokens {
		if strings.EqualFold(s, t) {
			return true
		}
	}
	return false
}

func checkCharacters(batch *parcel.Batch, policy parcel.Policy) []parcel.Issue {
	var issues []parcel.Issue
	for _, r := range batch.Records {
		for _, f := range policy.CodedFields {
			val, _ := r.Attr(f)
			if val == nil {
				continue
			}
			s := parcel.AsString(val)
			if !specialChars.MatchString(s) {
				continue
			}
			if policy.IsMandatory(f) {
				issues = append(issues, parcel.IssueFor(&parcel.DataQualityError{
					FeatureID: r.ID, Field: f, Reason: fmt.Sprintf("special characters in %q", s),
				}))
			} else {
				issues = append(issues, parcel.NewWarning(parcel.StageDataQuality, parcel.FeatureRef(r.ID),
					"special characters in %s: %q", f, s))
			}
		}
	}
	return issues
}

// CheckGeometry counts geometry defects. Null and structurally broken
// shapes are CRITICAL; the rest are advisory. Only cancellation is
// returned as an error.
func (v *Validator) CheckGeometry(ctx context.Context, batch *parcel.Batch, policy parcel.Policy) (map[string]int, []parcel.Issue, error) {
	counts := map[string]int{
		CountRecords:           batch.Len(),
		CountNullGeometries:    0,
		CountInvalidGeometries: 0,
		CountMultipart:         0,
		CountComplexSinglePart: 0,
		CountSelfIntersecting:  0,
		CountDegenerate:        0,
		CountHoled:             0,
		CountOverlappingPairs:  0,
		CountBoundaryTouches:   0,
	}
	var issues []parcel.Issue

	checkable := &parcel.Batch{CRSID: batch.CRSID, Fields: batch.Fields}
	for _, r := range batch.Records {
		id := parcel.FeatureRef(r.ID)
		if r.IsNull() {
			counts[CountNullGeometries]++
			issues = append(issues, parcel.NewCritical(parcel.StageGeometry, id, "null geometry"))
			continue
		}
		if reason := structuralDefect(r); reason != "" {
			counts[CountInvalidGeometries]++
			issues = append(issues, parcel.IssueFor(&parcel.GeometryError{FeatureID: r.ID, Op: "structure", Reason: reason}))
			continue
		}
		checkable.Records = append(checkable.Records, r)

		kind, _, err := v.decomposer.Classify(r)
		switch {
		case err != nil:
			issues = append(issues, parcel.NewWarning(parcel.StageGeometry, id, "part classification failed: %v", err))
		case kind == sanitize.ComplexSinglePart:
			counts[CountComplexSinglePart]++
		case kind == sanitize.TrueMultipart || kind == sanitize.ConnectedMultipart:
			counts[CountMultipart]++
			issues = append(issues, parcel.NewWarning(parcel.StageGeometry, id, "multipart geometry with %d parts", r.NumParts()))
		}

		if r.NumRings() > r.NumParts() {
			counts[CountHoled]++
			issues = append(issues, parcel.NewWarning(parcel.StageGeometry, id, "geometry has interior rings"))
		}

		valid, reason, err := v.kernel.IsValid(r.Geometry)
		switch {
		case err != nil:
			counts[CountInvalidGeometries]++
			issues = append(issues, parcel.IssueFor(&parcel.GeometryError{FeatureID: r.ID, Op: "is_valid", Reason: err.Error()}))
			continue
		case !valid:
			counts[CountSelfIntersecting]++
			issues = append(issues, parcel.NewWarning(parcel.StageGeometry, id, "self-intersecting geometry: %s", reason))
		}

		if area := v.kernel.Area(r.Geometry); area < policy.Epsilon {
			counts[CountDegenerate]++
			issues = append(issues, parcel.NewWarning(parcel.StageGeometry, id, "degenerate geometry, area %.6f", area))
		}
	}

	if err := ctx.Err(); err != nil {
		return counts, issues, fmt.Errorf("%w: %v", parcel.ErrCancelled, err)
	}

	pairs, detectIssues, err := sanitize.NewDetector(v.kernel, policy.Epsilon, v.logger).Detect(ctx, checkable)
	issues = append(issues, detectIssues...)
	if err != nil {
		return counts, issues, err
	}
	for _, p := range pairs {
		if !p.IsOverlap(policy.Epsilon) {
			counts[CountBoundaryTouches]++
			continue
		}
		counts[CountOverlappingPairs]++
		issues = append(issues, parcel.NewWarning(parcel.StageGeometry, parcel.FeatureRef(p.IDB),
			"overlaps feature %d (%s, area %.6f)", p.IDA, p.Method, p.Area))
	}
	return counts, issues, nil
}

// structuralDefect returns why a geometry cannot be a polygon at all:
// unclosed rings or rings with fewer than four points.
func structuralDefect(r parcel.Record) string {
	mp := r.Geometry
	for i := 0; i < mp.NumPolygons(); i++ {
		p := mp.Polygon(i)
		for j := 0; j < p.NumLinearRings(); j++ {
			ring := p.LinearRing(j)
			n := ring.NumCoords()
			if n < 4 {
				return fmt.Sprintf("ring %d of part %d has %d points", j, i, n)
			}
			first, last := ring.Coord(0), ring.Coord(n-1)
			if first.X() != last.X() || first.Y() != last.Y() {
				return fmt.Sprintf("ring %d of part %d is not closed", j, i)
			}
		}
	}
	return ""
}

func joinInts(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ", ")
}
