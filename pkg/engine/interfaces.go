package engine

import (
	"context"
	"time"
)

// StepExecutor runs one step call in one environment.
// A returned error is recorded as a failed call, except internal-class
// EngineErrors which fail the whole execution.
type StepExecutor interface {
	Execute(ctx context.Context, req *StepRequest) (*StepResult, error)
}

// StepExecutorFunc adapts a function to StepExecutor.
type StepExecutorFunc func(ctx context.Context, req *StepRequest) (*StepResult, error)

// Execute implements StepExecutor.
func (f StepExecutorFunc) Execute(ctx context.Context, req *StepRequest) (*StepResult, error) {
	return f(ctx, req)
}

// ProgressStore persists execution snapshots by key.
// WriteSnapshot must replace the record atomically: readers see either the
// previous or the new snapshot, never a partial one.
type ProgressStore interface {
	// WriteSnapshot atomically replaces the snapshot stored under key.
	WriteSnapshot(ctx context.Context, key string, data []byte) error

	// ReadSnapshot returns the snapshot stored under key. found is false when absent.
	ReadSnapshot(ctx context.Context, key string) (data []byte, found bool, err error)

	// DeleteSnapshot removes the snapshot stored under key. Deleting an absent key is not an error.
	DeleteSnapshot(ctx context.Context, key string) error
}

// SessionTracker is the session boundary the engine depends on.
type SessionTracker interface {
	// Get returns the session, or a configuration error with code NOT_FOUND.
	Get(ctx context.Context, sessionID string) (*Session, error)

	// AddExecution appends an execution to the session, evicting the oldest
	// executions when the session is full.
	AddExecution(ctx context.Context, sessionID string, ref ExecutionRef) error

	// SetStatus updates the session status.
	SetStatus(ctx context.Context, sessionID string, status SessionStatus) error
}

// WorkItemSource expands a category filter into work items.
type WorkItemSource interface {
	Expand(targetEnvironment string, categories ...string) ([]WorkItem, error)
}

// EventPublisher publishes execution events.
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
}

// MetricsRecorder receives engine measurements.
type MetricsRecorder interface {
	RecordExecutionStarted(category string)
	RecordExecutionCompleted(status string, duration time.Duration)
	RecordStepCall(step, environment, outcome string, duration time.Duration)
	RecordDifferences(step string, critical, warning, info int)
	RecordPersistenceError(operation string)
	SetActiveTasks(n int)
	SetQueuedTasks(n int)
}

// Sleeper blocks for a duration or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep implements Sleeper.
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

type nopMetrics struct{}

func (nopMetrics) RecordExecutionStarted(string) {}
func (nopMetrics) RecordExecutionCompleted(string, time.Duration) {}
func (nopMetrics) RecordStepCall(string, string, string, time.Duration) {}
func (nopMetrics) RecordDifferences(string, int, int, int) {}
func (nopMetrics) RecordPersistenceError(string) {}
func (nopMetrics) SetActiveTasks(int) {}
func (nopMetrics) SetQueuedTasks(int) {}
