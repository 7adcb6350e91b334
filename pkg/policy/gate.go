package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/parity/pkg/engine"
)

// ViolationRecorder counts gate violations.
type ViolationRecorder interface {
	RecordPolicyViolation(policy, severity string)
}

// Gate evaluates policies for every execution that reaches a terminal
// status and keeps the latest verdict per execution.
type Gate struct {
	engine   *Engine
	store    engine.ProgressStore
	events   engine.EventPublisher
	metrics  ViolationRecorder
	logger   zerolog.Logger
	mu       sync.RWMutex
	verdicts map[string]verdict
}

type verdict struct {
	sessionID string
	result    *Result
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithGateEvents publishes a policy.violation event per violation.
func WithGateEvents(events engine.EventPublisher) GateOption {
	return func(g *Gate) { g.events = events }
}

// WithGateMetrics counts violations.
func WithGateMetrics(metrics ViolationRecorder) GateOption {
	return func(g *Gate) { g.metrics = metrics }
}

// WithGateLogger sets the gate logger.
func WithGateLogger(logger zerolog.Logger) GateOption {
	return func(g *Gate) { g.logger = logger.With().Str("component", "policy-gate").Logger() }
}

// NewGate creates a gate that reads finished executions from store.
func NewGate(e *Engine, store engine.ProgressStore, opts ...GateOption) *Gate {
	g := &Gate{
		engine:   e,
		store:    store,
		logger:   zerolog.Nop(),
		verdicts: make(map[string]verdict),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// HandleEvent evaluates the execution named by an execution.completed
// event and drops verdicts of evicted executions and sessions. Other events
// are ignored. Its signature matches an event subscriber.
func (g *Gate) HandleEvent(ctx context.Context, event *engine.Event) {
	if event == nil {
		return
	}
	switch event.Type {
	case engine.EventTypeExecutionEvicted:
		g.Forget(event.ExecutionID)
		return
	case engine.EventTypeSessionEvicted:
		g.ForgetSession(event.SessionID)
		return
	case engine.EventTypeExecutionCompleted:
	default:
		return
	}

	key, _ := event.Details["progress_key"].(string)
	if key == "" {
		g.logger.Warn().Str("execution_id", event.ExecutionID).Msg("Completed execution has no progress key")
		return
	}

	if _, err := g.Check(ctx, key); err != nil {
		g.logger.Error().Err(err).Str("execution_id", event.ExecutionID).Msg("Policy gate failed")
	}
}

// Check loads the execution stored under key, evaluates it and records the
// verdict.
func (g *Gate) Check(ctx context.Context, key string) (*Result, error) {
	data, found, err := g.store.ReadSnapshot(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read execution: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("execution %s not found", key)
	}
	exec, err := engine.DecodeSnapshot(data)
	if err != nil {
		return nil, err
	}
	return g.Evaluate(ctx, exec)
}

// Evaluate evaluates exec and records the verdict.
func (g *Gate) Evaluate(ctx context.Context, exec *engine.Execution) (*Result, error) {
	result, err := g.engine.Evaluate(ctx, NewInput(exec))
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.verdicts[exec.ID] = verdict{sessionID: exec.SessionID, result: result}
	g.mu.Unlock()

	logger := g.logger.With().
		Str("session_id", exec.SessionID).
		Str("execution_id", exec.ID).
		Logger()

	for _, v := range append(append([]Violation{}, result.Violations...), result.Warnings...) {
		if g.metrics != nil {
			g.metrics.RecordPolicyViolation(v.Policy, string(v.Severity))
		}
		g.publish(ctx, exec, v)
	}

	event := logger.Info()
	if !result.Allowed {
		event = logger.Warn()
	}
	event.Bool("allowed", result.Allowed).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Msg("Execution gate evaluated")

	return result, nil
}

// Verdict returns the latest verdict recorded for an execution.
func (g *Gate) Verdict(executionID string) (*Result, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.verdicts[executionID]
	return v.result, ok
}

// Forget drops the verdict of an execution.
func (g *Gate) Forget(executionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.verdicts, executionID)
}

// ForgetSession drops the verdicts of every execution of a session.
func (g *Gate) ForgetSession(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, v := range g.verdicts {
		if v.sessionID == sessionID {
			delete(g.verdicts, id)
		}
	}
}

func (g *Gate) publish(ctx context.Context, exec *engine.Execution, v Violation) {
	if g.events == nil {
		return
	}
	err := g.events.Publish(ctx, &engine.Event{
		ID:          uuid.New().String(),
		Type:        engine.EventTypePolicyViolation,
		Timestamp:   time.Now(),
		SessionID:   exec.SessionID,
		ExecutionID: exec.ID,
		Step:        v.Step,
		Message:     v.Message,
		Details: map[string]interface{}{
			"policy":   v.Policy,
			"severity": string(v.Severity),
		},
		Level: engine.EventTypePolicyViolation.Severity(),
	})
	if err != nil {
		g.logger.Debug().Err(err).Msg("Failed to publish policy violation")
	}
}
