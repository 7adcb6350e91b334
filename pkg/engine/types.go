package engine

import (
	"fmt"
	"time"

	"github.com/openfroyo/parity/pkg/compare"
)

// WorkItem identifies one (category, product, plan) combination tested
// against one target environment. It is immutable once created.
type WorkItem struct {
	// Category is the product category identifier (e.g., "MV4").
	Category string `json:"category" validate:"required"`

	// Product is the product identifier within the category.
	Product string `json:"product" validate:"required"`

	// Plan is the plan identifier within the product.
	Plan string `json:"plan" validate:"required"`

	// TargetEnvironment is the name of the environment under test (e.g., "DEV").
	TargetEnvironment string `json:"target_environment"`
}

// Key returns the stable identity of the combination, independent of the
// target environment.
func (w WorkItem) Key() string {
	return fmt.Sprintf("%s_%s_%s", w.Category, w.Product, w.Plan)
}

// String returns a human-readable form of the work item.
func (w WorkItem) String() string {
	if w.TargetEnvironment == "" {
		return fmt.Sprintf("%s/%s/%s", w.Category, w.Product, w.Plan)
	}
	return fmt.Sprintf("%s/%s/%s@%s", w.Category, w.Product, w.Plan, w.TargetEnvironment)
}

// DerivedContext is state captured from earlier steps and threaded forward.
type DerivedContext struct {
	// ApplicationID is captured from a successful target application_submit.
	ApplicationID string `json:"application_id,omitempty"`
}

// StepRequest is the input to a single step call.
type StepRequest struct {
	// Step is the workflow step to run.
	Step Step `json:"step"`

	// Role is the environment role (target or staging).
	Role Environment `json:"role"`

	// Environment is the concrete environment name (e.g., "DEV", "STAGING").
	Environment string `json:"environment"`

	// WorkItem is the combination under test.
	WorkItem WorkItem `json:"work_item"`

	// Context carries state derived from earlier steps.
	Context DerivedContext `json:"context"`
}

// StepResult is the output of a single step call.
type StepResult struct {
	// Success is the executor's own verdict.
	Success bool `json:"success"`

	// StatusCode is the HTTP-like status of the call.
	StatusCode int `json:"status_code"`

	// Request is the payload that was sent, if the executor reports it.
	Request map[string]interface{} `json:"request,omitempty"`

	// Response is the payload that was received.
	Response map[string]interface{} `json:"response,omitempty"`

	// Error is the failure reason, if any.
	Error string `json:"error,omitempty"`
}

// Succeeded returns true when the executor reported success with a 2xx status.
func (r *StepResult) Succeeded() bool {
	return r != nil && r.Success && r.StatusCode >= 200 && r.StatusCode < 300
}

// StepRecord is one executed step call. Records are never modified after
// they are appended to an execution.
type StepRecord struct {
	// Step is the workflow step.
	Step Step `json:"step"`

	// Environment is the environment role of the call.
	Environment Environment `json:"environment"`

	// EnvironmentName is the concrete environment name.
	EnvironmentName string `json:"environment_name"`

	// Request is the payload that was sent.
	Request map[string]interface{} `json:"request,omitempty"`

	// Response is the payload that was received.
	Response map[string]interface{} `json:"response,omitempty"`

	// Outcome is the success/failure verdict.
	Outcome StepOutcome `json:"status"`

	// StatusCode is the HTTP-like status of the call.
	StatusCode int `json:"status_code"`

	// Error is the failure reason, if any.
	Error string `json:"error,omitempty"`

	// StartedAt is when the call was issued.
	StartedAt time.Time `json:"started_at"`

	// Duration is how long the call took.
	Duration time.Duration `json:"duration"`
}

// Succeeded returns true if the call succeeded.
func (r StepRecord) Succeeded() bool {
	return r.Outcome == StepOutcomeSuccess
}

// Execution is the mutable aggregate for one work item's run. It is owned by
// the orchestrator during the run; pollers only see persisted snapshots.
type Execution struct {
	// ID is the unique identifier for this execution.
	ID string `json:"id"`

	// SessionID is the owning session.
	SessionID string `json:"session_id"`

	// WorkItem is the combination under test.
	WorkItem WorkItem `json:"work_item"`

	// ProgressKey is the progress store key of this execution.
	ProgressKey string `json:"progress_key"`

	// Policy is the failure policy the execution ran with.
	Policy FailurePolicy `json:"failure_policy"`

	// Status is the lifecycle status.
	Status ExecutionStatus `json:"status"`

	// Steps are the executed step calls in issue order.
	Steps []StepRecord `json:"steps"`

	// Comparisons are the per-step comparisons in step order.
	Comparisons []*compare.Comparison `json:"comparisons"`

	// HasFailures is set once any step call fails.
	HasFailures bool `json:"has_failures"`

	// FailedStep is the first step whose call failed.
	FailedStep *Step `json:"failed_step,omitempty"`

	// Context is the derived state captured so far.
	Context DerivedContext `json:"context"`

	// Summary aggregates the comparison summaries.
	Summary compare.Summary `json:"summary"`

	// Error is the internal error that failed the execution, if any.
	Error string `json:"error,omitempty"`

	// Warnings lists non-fatal problems such as persistence failures.
	Warnings []string `json:"warnings,omitempty"`

	// CreatedAt is when the execution was registered.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the step sequence started.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the execution reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// UpdatedAt is when the snapshot was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy that shares no slices with e. Step payloads and
// comparisons are immutable and are shared.
func (e *Execution) Clone() *Execution {
	c := *e
	c.Steps = append([]StepRecord(nil), e.Steps...)
	c.Comparisons = append([]*compare.Comparison(nil), e.Comparisons...)
	c.Warnings = append([]string(nil), e.Warnings...)
	if e.FailedStep != nil {
		s := *e.FailedStep
		c.FailedStep = &s
	}
	return &c
}

// Comparison returns the comparison recorded for step, or nil.
func (e *Execution) Comparison(step Step) *compare.Comparison {
	name := step.String()
	for _, c := range e.Comparisons {
		if c.Step == name {
			return c
		}
	}
	return nil
}

// Duration returns how long the execution ran, or zero if it has not finished.
func (e *Execution) Duration() time.Duration {
	if e.StartedAt == nil || e.CompletedAt == nil {
		return 0
	}
	return e.CompletedAt.Sub(*e.StartedAt)
}

// ExecutionRef is a session's pointer to one execution.
type ExecutionRef struct {
	// ID is the execution identifier.
	ID string `json:"id"`

	// WorkItem is the combination the execution tests.
	WorkItem WorkItem `json:"work_item"`

	// ProgressKey is the progress store key of the execution.
	ProgressKey string `json:"progress_key"`

	// AddedAt is when the execution was added to the session.
	AddedAt time.Time `json:"added_at"`
}

// Session is a bounded container of executions for one user request.
type Session struct {
	// ID is the session identifier.
	ID string `json:"id"`

	// Owner is the user that created the session.
	Owner string `json:"owner"`

	// Status is the session status.
	Status SessionStatus `json:"status"`

	// Executions are the session's executions, oldest first.
	Executions []ExecutionRef `json:"executions"`

	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the session last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// ItemResult is the master orchestrator's record of one work item.
type ItemResult struct {
	ExecutionID string          `json:"execution_id"`
	WorkItem    WorkItem        `json:"work_item"`
	Status      ExecutionStatus `json:"status"`
	HasFailures bool            `json:"has_failures"`
	Summary     compare.Summary `json:"summary"`
	Error       string          `json:"error,omitempty"`
}

// MasterSummary is the session-level outcome of one run over all work items.
type MasterSummary struct {
	// SessionID is the session the run belongs to.
	SessionID string `json:"session_id"`

	// Total is the number of work items.
	Total int `json:"total"`

	// Successful counts executions that completed without failures.
	Successful int `json:"successful"`

	// Failed counts executions that completed with failures or failed.
	Failed int `json:"failed"`

	// Skipped counts work items never started because the run was cancelled.
	Skipped int `json:"skipped"`

	// Cancelled is set when the run stopped before iterating every item.
	Cancelled bool `json:"cancelled"`

	// Items are the per-item results in work item order.
	Items []ItemResult `json:"items"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run finished.
	CompletedAt time.Time `json:"completed_at"`
}

// Event represents a timeline event emitted by the engine.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Type is the type of event.
	Type EventType `json:"type"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// SessionID is the session the event belongs to.
	SessionID string `json:"session_id,omitempty"`

	// ExecutionID is the execution, if applicable.
	ExecutionID string `json:"execution_id,omitempty"`

	// Step is the step name, if applicable.
	Step string `json:"step,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Details contains additional event-specific data.
	Details map[string]interface{} `json:"details,omitempty"`

	// Level is the log level (info, warning, error).
	Level string `json:"level"`
}
