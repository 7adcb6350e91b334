package engine

import (
	"encoding/json"
	"fmt"
	"path"
)

// ProgressKey returns the progress store key of a work item within a session.
// Keys are derived from the session and the combination only, so progress
// records can be found without an index.
func ProgressKey(sessionID string, item WorkItem) string {
	return path.Join("sessions", sessionID, item.Key()+"_progress.json")
}

// SessionPrefix returns the key prefix shared by every record of a session.
func SessionPrefix(sessionID string) string {
	return path.Join("sessions", sessionID) + "/"
}

// EncodeSnapshot serializes an execution for the progress store.
func EncodeSnapshot(exec *Execution) ([]byte, error) {
	data, err := json.MarshalIndent(exec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a progress store record.
func DecodeSnapshot(data []byte) (*Execution, error) {
	var exec Execution
	if err := json.Unmarshal(data, &exec); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &exec, nil
}

// StepStates derives the per-step polling state of an execution.
//
// A step is succeed when its target and staging calls both succeeded, and
// failed when any of its calls failed. Steps without calls are pending while
// the execution can still reach them and can_not_proceed otherwise.
func StepStates(exec *Execution) map[Step]StepState {
	states := make(map[Step]StepState, len(stepNames))

	type pair struct{ calls, ok, failed int }
	seen := make(map[Step]*pair)
	for _, rec := range exec.Steps {
		p := seen[rec.Step]
		if p == nil {
			p = &pair{}
			seen[rec.Step] = p
		}
		p.calls++
		if rec.Succeeded() {
			p.ok++
		} else {
			p.failed++
		}
	}

	stopped := exec.Status == ExecutionStatusFailed ||
		(exec.Status.IsTerminal() && exec.Policy != FailurePolicyContinue) ||
		(exec.HasFailures && exec.Policy != FailurePolicyContinue)

	for _, step := range Steps() {
		p := seen[step]
		switch {
		case p == nil && stopped:
			states[step] = StepStateCanNotProceed
		case p == nil:
			states[step] = StepStatePending
		case p.failed > 0:
			states[step] = StepStateFailed
		case p.ok == 2:
			states[step] = StepStateSucceed
		case stopped:
			states[step] = StepStateCanNotProceed
		default:
			states[step] = StepStatePending
		}
	}
	return states
}

// ProgressMap returns the polling map of an execution keyed by step name.
func ProgressMap(exec *Execution) map[string]StepState {
	states := StepStates(exec)
	out := make(map[string]StepState, len(states))
	for step, state := range states {
		out[step.String()] = state
	}
	return out
}
