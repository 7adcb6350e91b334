package compare

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// DefaultCriticalFields are the field-name fragments that make a value
// disagreement critical.
var DefaultCriticalFields = []string{
	"policy_number",
	"policy_id",
	"premium",
	"coverage",
	"status",
	"sum_insured",
}

// DefaultWarningFields are the field-name fragments that make a value
// disagreement a warning.
var DefaultWarningFields = []string{
	"type",
}

// Differ computes classified field-level differences between two normalized
// responses. It compares the union of top-level keys only; nested values are
// compared as whole values.
type Differ struct {
	criticalFields []string
	warningFields  []string
	now            func() time.Time
}

// NewDiffer creates a differ with the default severity rules.
func NewDiffer() *Differ {
	return &Differ{
		criticalFields: DefaultCriticalFields,
		warningFields:  DefaultWarningFields,
		now:            time.Now,
	}
}

// Diff returns the differences between target and staging in sorted field order.
func (d *Differ) Diff(target, staging map[string]interface{}) ([]Difference, Summary) {
	keys := make(map[string]struct{}, len(target)+len(staging))
	for k := range target {
		keys[k] = struct{}{}
	}
	for k := range staging {
		keys[k] = struct{}{}
	}

	fields := make([]string, 0, len(keys))
	for k := range keys {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	var (
		diffs   = make([]Difference, 0)
		summary Summary
	)
	for _, field := range fields {
		tv, inTarget := target[field]
		sv, inStaging := staging[field]

		var diff Difference
		switch {
		case inTarget && !inStaging:
			diff = Difference{
				Field:       field,
				TargetValue: tv,
				Severity:    SeverityInfo,
				Description: "Field removed from staging",
			}
		case !inTarget && inStaging:
			diff = Difference{
				Field:        field,
				StagingValue: sv,
				Severity:     SeverityInfo,
				Description:  "Field added in staging",
			}
		default:
			if valuesEqual(tv, sv) {
				continue
			}
			diff = Difference{
				Field:        field,
				TargetValue:  tv,
				StagingValue: sv,
				Severity:     d.Classify(field),
				Description:  fmt.Sprintf("Value differs for '%s': target=%s, staging=%s", field, describe(tv), describe(sv)),
			}
		}

		diffs = append(diffs, diff)
		summary.Add(diff.Severity)
	}

	return diffs, summary
}

// Compare diffs two normalized responses and wraps the result as the
// Comparison for step. Inputs are expected to be normalized already.
func (d *Differ) Compare(step string, target, staging map[string]interface{}) *Comparison {
	diffs, summary := d.Diff(target, staging)
	return &Comparison{
		Step:        step,
		Target:      target,
		Staging:     staging,
		Differences: diffs,
		Summary:     summary,
		ComparedAt:  d.now(),
	}
}

// Classify returns the severity for a value disagreement on field.
func (d *Differ) Classify(field string) Severity {
	lower := strings.ToLower(field)
	for _, f := range d.criticalFields {
		if strings.Contains(lower, f) {
			return SeverityCritical
		}
	}
	for _, f := range d.warningFields {
		if strings.Contains(lower, f) {
			return SeverityWarning
		}
	}
	return SeverityInfo
}

// describe renders a value for a difference description. Composite values
// are rendered as JSON, which reports cycles as errors instead of recursing.
func describe(v interface{}) string {
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("<%T>", v)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// valuesEqual compares two values by their JSON form so that numbers
// decoded from different sources (int vs float64) compare equal.
func valuesEqual(a, b interface{}) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}

	aVal, err := canonical(a)
	if err != nil {
		return false
	}
	bVal, err := canonical(b)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(aVal, bVal)
}

func canonical(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
