package policy

import (
	"time"

	"github.com/openfroyo/parity/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for findings that fail the gate.
	SeverityError Severity = "error"

	// SeverityCritical is for findings that fail the gate and need immediate attention.
	SeverityCritical Severity = "critical"
)

// Blocking returns true if a violation of this severity fails the gate.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a gate rule with its Rego code. The Rego module must
// define a deny set in its package.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with the runner.
	Builtin bool `json:"builtin"`

	// Source is the file a policy was loaded from.
	Source string `json:"source,omitempty"`
}

// Violation represents a single deny result.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Step is the workflow step the violation refers to, if any.
	Step string `json:"step,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// Details contains additional fields returned by the rule.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Result is the verdict of evaluating every enabled policy against one execution.
type Result struct {
	// Allowed is false when any error or critical violation was found.
	Allowed bool `json:"allowed"`

	// Violations lists the blocking violations.
	Violations []Violation `json:"violations"`

	// Warnings lists the non-blocking violations.
	Warnings []Violation `json:"warnings"`

	// Errors lists policies that could not be evaluated.
	Errors []string `json:"errors,omitempty"`

	// EvaluatedPolicies lists the names of the policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the evaluation ran.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Input is the document policies see as input.
type Input struct {
	SessionID string         `json:"session_id"`
	Execution ExecutionInput `json:"execution"`
}

// ExecutionInput is the policy view of an execution.
type ExecutionInput struct {
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	HasFailures bool              `json:"has_failures"`
	FailedStep  string            `json:"failed_step,omitempty"`
	Error       string            `json:"error,omitempty"`
	WorkItem    WorkItemInput     `json:"work_item"`
	Steps       []StepInput       `json:"steps"`
	Comparisons []ComparisonInput `json:"comparisons"`
	Summary     SummaryInput      `json:"summary"`
}

// WorkItemInput identifies the combination under test.
type WorkItemInput struct {
	Category          string `json:"category"`
	Product           string `json:"product"`
	Plan              string `json:"plan"`
	TargetEnvironment string `json:"target_environment"`
}

// StepInput is one step call.
type StepInput struct {
	Step        string `json:"step"`
	Environment string `json:"environment"`
	Status      string `json:"status"`
	StatusCode  int    `json:"status_code"`
	Error       string `json:"error,omitempty"`
}

// ComparisonInput is the severity summary of one step comparison.
type ComparisonInput struct {
	Step     string `json:"step"`
	Critical int    `json:"critical"`
	Warning  int    `json:"warning"`
	Info     int    `json:"info"`
	Total    int    `json:"total"`
}

// SummaryInput totals the comparison summaries.
type SummaryInput struct {
	Critical int `json:"critical"`
	Warning  int `json:"warning"`
	Info     int `json:"info"`
	Total    int `json:"total"`
}

// NewInput builds the policy input for an execution. Step payloads are not
// included.
func NewInput(exec *engine.Execution) *Input {
	in := &Input{
		SessionID: exec.SessionID,
		Execution: ExecutionInput{
			ID:          exec.ID,
			Status:      string(exec.Status),
			HasFailures: exec.HasFailures,
			Error:       exec.Error,
			WorkItem: WorkItemInput{
				Category:          exec.WorkItem.Category,
				Product:           exec.WorkItem.Product,
				Plan:              exec.WorkItem.Plan,
				TargetEnvironment: exec.WorkItem.TargetEnvironment,
			},
			Steps:       make([]StepInput, 0, len(exec.Steps)),
			Comparisons: make([]ComparisonInput, 0, len(exec.Comparisons)),
			Summary: SummaryInput{
				Critical: exec.Summary.Critical,
				Warning:  exec.Summary.Warning,
				Info:     exec.Summary.Info,
				Total:    exec.Summary.Total,
			},
		},
	}
	if exec.FailedStep != nil {
		in.Execution.FailedStep = exec.FailedStep.String()
	}

	for _, rec := range exec.Steps {
		in.Execution.Steps = append(in.Execution.Steps, StepInput{
			Step:        rec.Step.String(),
			Environment: string(rec.Environment),
			Status:      string(rec.Outcome),
			StatusCode:  rec.StatusCode,
			Error:       rec.Error,
		})
	}
	for _, cmp := range exec.Comparisons {
		in.Execution.Comparisons = append(in.Execution.Comparisons, ComparisonInput{
			Step:     cmp.Step,
			Critical: cmp.Summary.Critical,
			Warning:  cmp.Summary.Warning,
			Info:     cmp.Summary.Info,
			Total:    cmp.Summary.Total,
		})
	}

	return in
}
