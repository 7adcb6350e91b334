package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Master runs the execution orchestrator over every work item of a session,
// strictly one item at a time.
type Master struct {
	orchestrator *Orchestrator
	sessions     SessionTracker
	logger       zerolog.Logger
	now          func() time.Time
}

// NewMaster creates a master orchestrator. sessions may be nil, in which
// case executions are not registered with any session.
func NewMaster(orchestrator *Orchestrator, sessions SessionTracker, logger zerolog.Logger) *Master {
	return &Master{
		orchestrator: orchestrator,
		sessions:     sessions,
		logger:       logger.With().Str("component", "master").Logger(),
		now:          time.Now,
	}
}

// Run executes every work item in order and returns the session summary.
// A failure inside one item never stops the remaining items; only
// cancellation of ctx does, and the unvisited items are counted as skipped.
func (m *Master) Run(ctx context.Context, sessionID string, items []WorkItem) *MasterSummary {
	logger := m.logger.With().Str("session_id", sessionID).Logger()

	summary := &MasterSummary{
		SessionID: sessionID,
		Total:     len(items),
		Items:     make([]ItemResult, 0, len(items)),
		StartedAt: m.now(),
	}

	m.setStatus(ctx, sessionID, SessionStatusRunning, logger)
	logger.Info().Int("work_items", len(items)).Msg("Session run started")

	for i, item := range items {
		if ctx.Err() != nil {
			summary.Cancelled = true
			summary.Skipped = len(items) - i
			break
		}

		result := m.runItem(ctx, sessionID, item, logger)
		summary.Items = append(summary.Items, result)
		if result.Status == ExecutionStatusCompleted {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}
	if !summary.Cancelled && ctx.Err() != nil {
		summary.Cancelled = true
	}

	summary.CompletedAt = m.now()

	status := SessionStatusCompleted
	if summary.Cancelled {
		status = SessionStatusCancelled
	}
	m.setStatus(ctx, sessionID, status, logger)

	logger.Info().
		Int("total", summary.Total).
		Int("successful", summary.Successful).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Bool("cancelled", summary.Cancelled).
		Dur("duration", summary.CompletedAt.Sub(summary.StartedAt)).
		Msg("Session run finished")

	return summary
}

// runItem registers and executes one work item. Panics and errors are
// turned into a failed item result.
func (m *Master) runItem(ctx context.Context, sessionID string, item WorkItem, logger zerolog.Logger) (result ItemResult) {
	exec := m.orchestrator.NewExecution(sessionID, item)
	result = ItemResult{
		ExecutionID: exec.ID,
		WorkItem:    exec.WorkItem,
		Status:      ExecutionStatusFailed,
	}

	defer func() {
		if r := recover(); r != nil {
			result.Status = ExecutionStatusFailed
			result.HasFailures = true
			result.Error = fmt.Sprintf("panic: %v", r)
			logger.Error().
				Str("execution_id", exec.ID).
				Str("work_item", item.String()).
				Interface("panic", r).
				Msg("Work item panicked")
		}
	}()

	if m.sessions != nil {
		ref := ExecutionRef{
			ID:          exec.ID,
			WorkItem:    exec.WorkItem,
			ProgressKey: exec.ProgressKey,
			AddedAt:     exec.CreatedAt,
		}
		if err := m.sessions.AddExecution(ctx, sessionID, ref); err != nil {
			logger.Warn().
				Err(err).
				Str("execution_id", exec.ID).
				Msg("Failed to register execution with session")
		}
	}

	err := m.orchestrator.Execute(ctx, exec)

	result.Status = exec.Status
	result.HasFailures = exec.HasFailures
	result.Summary = exec.Summary
	if err != nil {
		result.Error = err.Error()
		logger.Error().
			Err(err).
			Str("execution_id", exec.ID).
			Str("work_item", item.String()).
			Msg("Work item failed")
	}
	return result
}

func (m *Master) setStatus(ctx context.Context, sessionID string, status SessionStatus, logger zerolog.Logger) {
	if m.sessions == nil {
		return
	}
	if err := m.sessions.SetStatus(context.WithoutCancel(ctx), sessionID, status); err != nil {
		logger.Warn().Err(err).Str("status", string(status)).Msg("Failed to update session status")
	}
}
