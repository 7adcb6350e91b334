package compare

import (
	"encoding/json"
	"fmt"
	"time"
)

// Severity classifies a single field-level difference.
type Severity string

const (
	// SeverityCritical marks a disagreement on a business-critical field
	// (policy identity, premium, coverage, status, sum insured).
	SeverityCritical Severity = "critical"

	// SeverityWarning marks a disagreement on a type-like field.
	SeverityWarning Severity = "warning"

	// SeverityInfo marks every other disagreement, including fields present
	// in only one environment.
	SeverityInfo Severity = "info"
)

// Validate checks if the severity is valid.
func (s Severity) Validate() error {
	switch s {
	case SeverityCritical, SeverityWarning, SeverityInfo:
		return nil
	default:
		return fmt.Errorf("invalid severity: %s", s)
	}
}

// UnmarshalJSON implements json.Unmarshaler with validation.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	sev := Severity(str)
	if err := sev.Validate(); err != nil {
		return err
	}
	*s = sev
	return nil
}

// Difference is a single field-level disagreement between the target and
// staging responses of one step.
type Difference struct {
	// Field is the dot-path of the field that differs.
	Field string `json:"field"`

	// TargetValue is the value seen in the target environment (nil when absent).
	TargetValue interface{} `json:"target_value"`

	// StagingValue is the value seen in staging (nil when absent).
	StagingValue interface{} `json:"staging_value"`

	// Severity is the classification of the difference.
	Severity Severity `json:"severity"`

	// Description is a human-readable explanation.
	Description string `json:"description"`
}

// Summary counts differences per severity.
type Summary struct {
	Critical int `json:"critical"`
	Warning  int `json:"warning"`
	Info     int `json:"info"`
	Total    int `json:"total"`
}

// Add counts one difference of the given severity.
func (s *Summary) Add(sev Severity) {
	switch sev {
	case SeverityCritical:
		s.Critical++
	case SeverityWarning:
		s.Warning++
	case SeverityInfo:
		s.Info++
	}
	s.Total++
}

// Merge adds the counts of other into s.
func (s *Summary) Merge(other Summary) {
	s.Critical += other.Critical
	s.Warning += other.Warning
	s.Info += other.Info
	s.Total += other.Total
}

// Comparison is the diffed result of one step's target and staging responses.
// It is created once per successfully paired step and never modified.
type Comparison struct {
	// Step is the step name the comparison belongs to.
	Step string `json:"step"`

	// Target is the normalized target response.
	Target map[string]interface{} `json:"target"`

	// Staging is the normalized staging response.
	Staging map[string]interface{} `json:"staging"`

	// Differences lists the disagreements in field order.
	Differences []Difference `json:"differences"`

	// Summary counts the differences per severity.
	Summary Summary `json:"summary"`

	// ComparedAt is when the comparison was computed.
	ComparedAt time.Time `json:"compared_at"`
}

// HasCritical returns true if any critical difference was found.
func (c *Comparison) HasCritical() bool {
	return c.Summary.Critical > 0
}
