package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/parity/pkg/compare"
)

// ServiceConfig configures the execution service.
type ServiceConfig struct {
	// TargetEnvironment is used when a start request names none.
	TargetEnvironment string

	// ExecutionTimeout bounds a whole session run. Zero means no bound.
	ExecutionTimeout time.Duration
}

// StartRequest asks for a run over the combinations of some categories.
type StartRequest struct {
	// SessionID is the session to run in.
	SessionID string `json:"session_id" validate:"required"`

	// Categories restricts the run. Empty means every category.
	Categories []string `json:"categories,omitempty"`

	// TargetEnvironment overrides the configured target environment.
	TargetEnvironment string `json:"target_environment,omitempty"`
}

// StatusReport counts a session's executions per status.
type StatusReport struct {
	SessionID     string                  `json:"session_id"`
	SessionStatus SessionStatus           `json:"session_status"`
	Total         int                     `json:"total"`
	Counts        map[ExecutionStatus]int `json:"counts"`
	Task          *TaskInfo               `json:"task,omitempty"`
}

// ProgressReport maps each execution of a session to its per-step states.
type ProgressReport struct {
	SessionID  string                          `json:"session_id"`
	Executions map[string]map[string]StepState `json:"executions"`
}

// Service is the entry point for starting and observing session runs.
type Service struct {
	sessions  SessionTracker
	source    WorkItemSource
	master    *Master
	scheduler *Scheduler
	store     ProgressStore
	config    ServiceConfig
	logger    zerolog.Logger
}

// NewService creates an execution service.
func NewService(
	sessions SessionTracker,
	source WorkItemSource,
	master *Master,
	scheduler *Scheduler,
	store ProgressStore,
	cfg ServiceConfig,
	logger zerolog.Logger,
) *Service {
	return &Service{
		sessions:  sessions,
		source:    source,
		master:    master,
		scheduler: scheduler,
		store:     store,
		config:    cfg,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// Start validates the request, expands its combinations and schedules the
// run. Configuration errors are returned before any work is scheduled.
func (s *Service) Start(ctx context.Context, req StartRequest) (*TaskInfo, error) {
	sess, err := s.sessions.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	env := req.TargetEnvironment
	if env == "" {
		env = s.config.TargetEnvironment
	}

	items, err := s.source.Expand(env, req.Categories...)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, NewConfigurationError("no combinations to execute", nil).
			WithCode(ErrCodeNoCombinations).
			WithDetail("categories", req.Categories)
	}

	timeout := s.config.ExecutionTimeout
	task, err := s.scheduler.Submit(sess.ID, len(items), func(ctx context.Context) (*MasterSummary, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return s.master.Run(ctx, sess.ID, items), nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("session_id", sess.ID).
		Str("task_id", task.ID).
		Str("target_environment", env).
		Int("work_items", len(items)).
		Msg("Run accepted")
	return task.Info(), nil
}

// Status returns execution counts per status for a session.
func (s *Service) Status(ctx context.Context, sessionID string) (*StatusReport, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	execs, err := s.executions(ctx, sess)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{
		SessionID:     sess.ID,
		SessionStatus: sess.Status,
		Total:         len(execs),
		Counts: map[ExecutionStatus]int{
			ExecutionStatusPending:               0,
			ExecutionStatusInProgress:            0,
			ExecutionStatusCompleted:             0,
			ExecutionStatusCompletedWithFailures: 0,
			ExecutionStatusFailed:                0,
		},
	}
	for _, e := range execs {
		report.Counts[e.Status]++
	}
	if task, ok := s.scheduler.ActiveTask(sess.ID); ok {
		report.Task = task.Info()
	}
	return report, nil
}

// Progress returns the polling map of every execution of a session.
func (s *Service) Progress(ctx context.Context, sessionID string) (*ProgressReport, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	execs, err := s.executions(ctx, sess)
	if err != nil {
		return nil, err
	}

	report := &ProgressReport{
		SessionID:  sess.ID,
		Executions: make(map[string]map[string]StepState, len(execs)),
	}
	for _, e := range execs {
		report.Executions[e.ID] = ProgressMap(e)
	}
	return report, nil
}

// Executions returns the latest snapshots of a session's executions, oldest first.
func (s *Service) Executions(ctx context.Context, sessionID string) ([]*Execution, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.executions(ctx, sess)
}

// Execution returns the latest snapshot of one execution.
func (s *Service) Execution(ctx context.Context, sessionID, executionID string) (*Execution, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, ref := range sess.Executions {
		if ref.ID == executionID {
			return s.load(ctx, sess.ID, ref)
		}
	}
	return nil, NewConfigurationError("execution not found", nil).
		WithCode(ErrCodeNotFound).
		WithResource(executionID)
}

// Comparison returns the comparison recorded for one step of an execution.
func (s *Service) Comparison(ctx context.Context, sessionID, executionID string, step Step) (*compare.Comparison, error) {
	exec, err := s.Execution(ctx, sessionID, executionID)
	if err != nil {
		return nil, err
	}
	cmp := exec.Comparison(step)
	if cmp == nil {
		return nil, NewConfigurationError(fmt.Sprintf("no comparison for %s", step), nil).
			WithCode(ErrCodeNotFound).
			WithResource(executionID)
	}
	return cmp, nil
}

// Cancel cancels the active run of a session.
func (s *Service) Cancel(ctx context.Context, sessionID string) (*TaskInfo, error) {
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	task, ok := s.scheduler.ActiveTask(sessionID)
	if !ok {
		return nil, NewConfigurationError("session has no active run", nil).
			WithCode(ErrCodeNotFound).
			WithResource(sessionID)
	}
	task.Cancel()
	s.logger.Info().Str("session_id", sessionID).Str("task_id", task.ID).Msg("Run cancellation requested")
	return task.Info(), nil
}

// Task returns a scheduled task.
func (s *Service) Task(id string) (*TaskInfo, error) {
	task, ok := s.scheduler.Task(id)
	if !ok {
		return nil, NewConfigurationError("task not found", nil).
			WithCode(ErrCodeNotFound).
			WithResource(id)
	}
	return task.Info(), nil
}

// Wait blocks until the task with the given ID finishes.
func (s *Service) Wait(ctx context.Context, id string) (*MasterSummary, error) {
	task, ok := s.scheduler.Task(id)
	if !ok {
		return nil, NewConfigurationError("task not found", nil).
			WithCode(ErrCodeNotFound).
			WithResource(id)
	}
	return task.Wait(ctx)
}

// Shutdown cancels outstanding runs and waits for the workers to exit.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.scheduler.Shutdown(ctx)
}

func (s *Service) executions(ctx context.Context, sess *Session) ([]*Execution, error) {
	out := make([]*Execution, 0, len(sess.Executions))
	for _, ref := range sess.Executions {
		exec, err := s.load(ctx, sess.ID, ref)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, nil
}

// load reads an execution snapshot. An execution registered but not yet
// persisted is reported as pending.
func (s *Service) load(ctx context.Context, sessionID string, ref ExecutionRef) (*Execution, error) {
	data, found, err := s.store.ReadSnapshot(ctx, ref.ProgressKey)
	if err != nil {
		return nil, NewPersistenceError("failed to read progress", err).
			WithResource(ref.ID).
			WithOperation("read")
	}
	if !found {
		return &Execution{
			ID:          ref.ID,
			SessionID:   sessionID,
			WorkItem:    ref.WorkItem,
			ProgressKey: ref.ProgressKey,
			Status:      ExecutionStatusPending,
			Steps:       []StepRecord{},
			Comparisons: []*compare.Comparison{},
			CreatedAt:   ref.AddedAt,
			UpdatedAt:   ref.AddedAt,
		}, nil
	}

	exec, err := DecodeSnapshot(data)
	if err != nil {
		return nil, NewPersistenceError("corrupt progress record", err).
			WithResource(ref.ID).
			WithOperation("decode")
	}
	return exec, nil
}
