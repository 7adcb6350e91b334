package engine

import (
	"encoding/json"
	"fmt"
)

// ExecutionStatus represents the lifecycle status of one work item's execution.
type ExecutionStatus string

const (
	// ExecutionStatusPending indicates the execution is registered but not started.
	ExecutionStatusPending ExecutionStatus = "pending"

	// ExecutionStatusInProgress indicates the step sequence is running.
	ExecutionStatusInProgress ExecutionStatus = "in_progress"

	// ExecutionStatusCompleted indicates every step succeeded in both environments.
	ExecutionStatusCompleted ExecutionStatus = "completed"

	// ExecutionStatusCompletedWithFailures indicates a step call failed.
	ExecutionStatusCompletedWithFailures ExecutionStatus = "completed_with_failures"

	// ExecutionStatusFailed indicates an internal error or cancellation stopped the execution.
	ExecutionStatusFailed ExecutionStatus = "failed"
)

// IsTerminal returns true if the execution status represents a final state.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusCompletedWithFailures ||
		s == ExecutionStatusFailed
}

// Validate checks if the execution status is valid.
func (s ExecutionStatus) Validate() error {
	switch s {
	case ExecutionStatusPending, ExecutionStatusInProgress, ExecutionStatusCompleted,
		ExecutionStatusCompletedWithFailures, ExecutionStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid execution status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s ExecutionStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *ExecutionStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ExecutionStatus(str)
	return s.Validate()
}

// StepState is the per-step state reported to pollers.
type StepState string

const (
	// StepStatePending indicates the step has not run yet.
	StepStatePending StepState = "pending"

	// StepStateSucceed indicates the step succeeded in both environments.
	StepStateSucceed StepState = "succeed"

	// StepStateFailed indicates a call for the step failed.
	StepStateFailed StepState = "failed"

	// StepStateCanNotProceed indicates the step will never run because an
	// earlier step failed or the execution stopped.
	StepStateCanNotProceed StepState = "can_not_proceed"
)

// Environment is the role an environment plays in a comparison.
type Environment string

const (
	// EnvironmentTarget is the environment under test.
	EnvironmentTarget Environment = "target"

	// EnvironmentStaging is the fixed reference environment.
	EnvironmentStaging Environment = "staging"
)

// Validate checks if the environment role is valid.
func (e Environment) Validate() error {
	switch e {
	case EnvironmentTarget, EnvironmentStaging:
		return nil
	default:
		return fmt.Errorf("invalid environment: %s", e)
	}
}

// StepOutcome is the outcome of a single step call.
type StepOutcome string

const (
	// StepOutcomeSuccess indicates the call succeeded with a 2xx status.
	StepOutcomeSuccess StepOutcome = "success"

	// StepOutcomeFailure indicates the call failed or returned a non-2xx status.
	StepOutcomeFailure StepOutcome = "failure"
)

// SessionStatus represents the status of a session.
type SessionStatus string

const (
	// SessionStatusActive indicates the session accepts new runs.
	SessionStatusActive SessionStatus = "active"

	// SessionStatusRunning indicates a run is in progress for the session.
	SessionStatusRunning SessionStatus = "running"

	// SessionStatusCompleted indicates the last run iterated every work item.
	SessionStatusCompleted SessionStatus = "completed"

	// SessionStatusCancelled indicates the last run was cancelled.
	SessionStatusCancelled SessionStatus = "cancelled"
)

// Validate checks if the session status is valid.
func (s SessionStatus) Validate() error {
	switch s {
	case SessionStatusActive, SessionStatusRunning, SessionStatusCompleted, SessionStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid session status: %s", s)
	}
}

// TaskState represents the state of a scheduled task.
type TaskState string

const (
	// TaskStateQueued indicates the task waits for a worker.
	TaskStateQueued TaskState = "queued"

	// TaskStateRunning indicates a worker is running the task.
	TaskStateRunning TaskState = "running"

	// TaskStateDone indicates the task finished.
	TaskStateDone TaskState = "done"

	// TaskStateCancelled indicates the task was cancelled before or while running.
	TaskStateCancelled TaskState = "cancelled"

	// TaskStateFailed indicates the task returned an error.
	TaskStateFailed TaskState = "failed"
)

// IsTerminal returns true if the task state represents a final state.
func (s TaskState) IsTerminal() bool {
	return s == TaskStateDone || s == TaskStateCancelled || s == TaskStateFailed
}

// EventType represents the type of event in the execution timeline.
type EventType string

const (
	EventTypeExecutionStarted   EventType = "execution.started"
	EventTypeExecutionCompleted EventType = "execution.completed"
	EventTypeStepCompleted      EventType = "step.completed"
	EventTypeStepFailed         EventType = "step.failed"
	EventTypeComparisonCreated  EventType = "comparison.created"
	EventTypePersistenceWarning EventType = "persistence.warning"
	EventTypeSessionEvicted     EventType = "session.evicted"
	EventTypeExecutionEvicted   EventType = "execution.evicted"
	EventTypePolicyViolation    EventType = "policy.violation"
)

// Severity returns the severity level of the event type.
func (e EventType) Severity() string {
	switch e {
	case EventTypeStepFailed:
		return "error"
	case EventTypePersistenceWarning, EventTypePolicyViolation:
		return "warning"
	default:
		return "info"
	}
}
