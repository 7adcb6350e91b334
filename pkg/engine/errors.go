package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for propagation and reporting.
type ErrorClass string

const (
	// ErrorClassConfiguration indicates a bad or missing configuration input.
	// Examples: unknown category, empty combination set, unknown session.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassStepFailure indicates a step executor reported failure.
	// Step failures are recorded on the execution and drive the failure policy.
	ErrorClassStepFailure ErrorClass = "step_failure"

	// ErrorClassPersistence indicates a progress or registry read/write failed.
	// Execution continues in memory but resumability is compromised.
	ErrorClassPersistence ErrorClass = "persistence"

	// ErrorClassInternal indicates any other failure inside a work item.
	ErrorClassInternal ErrorClass = "internal"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the identifier of the entity that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	if e.Resource != "" && e.Operation != "" {
		msg = fmt.Sprintf("%s (resource=%s, operation=%s)", e.Message, e.Resource, e.Operation)
	} else if e.Resource != "" {
		msg = fmt.Sprintf("%s (resource=%s)", e.Message, e.Resource)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Class, msg, e.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConfiguration,
		Message: message,
		Err:     err,
	}
}

// NewStepFailure creates a new step failure error.
func NewStepFailure(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassStepFailure,
		Message: message,
		Code:    ErrCodeStepFailed,
		Err:     err,
	}
}

// NewPersistenceError creates a new persistence error.
func NewPersistenceError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPersistence,
		Message: message,
		Code:    ErrCodePersistenceFailed,
		Err:     err,
	}
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassInternal,
		Message: message,
		Code:    ErrCodeInternal,
		Err:     err,
	}
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resourceID string) *EngineError {
	e.Resource = resourceID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class of err, or ErrorClassInternal when err is not an EngineError.
func ClassOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ErrorClassInternal
}

// CodeOf returns the code of err, or an empty string when err carries none.
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsConfiguration returns true if the error is classified as a configuration error.
func IsConfiguration(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConfiguration
	}
	return false
}

// IsStepFailure returns true if the error is classified as a step failure.
func IsStepFailure(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassStepFailure
	}
	return false
}

// IsPersistence returns true if the error is classified as a persistence error.
func IsPersistence(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPersistence
	}
	return false
}

// IsInternal returns true if the error is classified as internal.
func IsInternal(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassInternal
	}
	return false
}

// IsNotFound returns true if the error carries the not-found code.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

// IsCancelled returns true if the error carries the cancelled code.
func IsCancelled(err error) bool {
	return CodeOf(err) == ErrCodeCancelled
}

// Common error codes.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeNoCombinations    = "NO_COMBINATIONS"
	ErrCodeAlreadyRunning    = "ALREADY_RUNNING"
	ErrCodeQueueFull         = "QUEUE_FULL"
	ErrCodePersistenceFailed = "PERSISTENCE_FAILED"
	ErrCodeStepFailed        = "STEP_FAILED"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)
