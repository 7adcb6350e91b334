package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/parity/pkg/compare"
)

const tracerName = "github.com/openfroyo/parity/pkg/engine"

// OrchestratorConfig configures the execution orchestrator.
type OrchestratorConfig struct {
	// TargetEnvironment is used when a work item names no target environment.
	TargetEnvironment string

	// StagingEnvironment is the reference environment name.
	StagingEnvironment string

	// Policy decides what happens after a failed call.
	Policy FailurePolicy

	// Delay is the random pause between steps.
	Delay Delay

	// StepTimeout bounds a single step call. Zero means no bound.
	StepTimeout time.Duration
}

// DefaultOrchestratorConfig returns the default orchestrator configuration.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		TargetEnvironment:  "DEV",
		StagingEnvironment: "STAGING",
		Policy:             FailurePolicyFailFast,
		Delay:              Delay{Min: DefaultDelayMin, Max: DefaultDelayMax},
		StepTimeout:        30 * time.Second,
	}
}

// Orchestrator drives one work item through the step sequence, pairing each
// target call with a staging call, comparing successful pairs and persisting
// the full snapshot after every step.
type Orchestrator struct {
	executor   StepExecutor
	store      ProgressStore
	normalizer *compare.Normalizer
	differ     *compare.Differ
	sleeper    Sleeper
	events     EventPublisher
	metrics    MetricsRecorder
	logger     zerolog.Logger
	tracer     trace.Tracer
	config     OrchestratorConfig
	now        func() time.Time
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithNormalizer sets the response normalizer.
func WithNormalizer(n *compare.Normalizer) OrchestratorOption {
	return func(o *Orchestrator) { o.normalizer = n }
}

// WithDiffer sets the differ.
func WithDiffer(d *compare.Differ) OrchestratorOption {
	return func(o *Orchestrator) { o.differ = d }
}

// WithSleeper sets the sleeper used for the inter-step delay.
func WithSleeper(s Sleeper) OrchestratorOption {
	return func(o *Orchestrator) { o.sleeper = s }
}

// WithEventPublisher sets the event publisher.
func WithEventPublisher(p EventPublisher) OrchestratorOption {
	return func(o *Orchestrator) { o.events = p }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) OrchestratorOption {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l.With().Str("component", "orchestrator").Logger() }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates a new execution orchestrator.
func NewOrchestrator(
	executor StepExecutor,
	store ProgressStore,
	cfg OrchestratorConfig,
	opts ...OrchestratorOption,
) *Orchestrator {
	if cfg.Policy == "" {
		cfg.Policy = FailurePolicyFailFast
	}
	if cfg.StagingEnvironment == "" {
		cfg.StagingEnvironment = "STAGING"
	}

	o := &Orchestrator{
		executor:   executor,
		store:      store,
		normalizer: compare.NewNormalizer(),
		differ:     compare.NewDiffer(),
		sleeper:    TimerSleeper{},
		metrics:    nopMetrics{},
		logger:     zerolog.Nop(),
		tracer:     otel.Tracer(tracerName),
		config:     cfg,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the orchestrator configuration.
func (o *Orchestrator) Config() OrchestratorConfig {
	return o.config
}

// NewExecution creates a pending execution for a work item.
func (o *Orchestrator) NewExecution(sessionID string, item WorkItem) *Execution {
	if item.TargetEnvironment == "" {
		item.TargetEnvironment = o.config.TargetEnvironment
	}
	now := o.now()
	return &Execution{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		WorkItem:    item,
		ProgressKey: ProgressKey(sessionID, item),
		Policy:      o.config.Policy,
		Status:      ExecutionStatusPending,
		Steps:       make([]StepRecord, 0, 2*len(stepNames)),
		Comparisons: make([]*compare.Comparison, 0, len(stepNames)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Run creates an execution for item and executes it.
func (o *Orchestrator) Run(ctx context.Context, sessionID string, item WorkItem) (*Execution, error) {
	exec := o.NewExecution(sessionID, item)
	err := o.Execute(ctx, exec)
	return exec, err
}

// Execute walks exec through the step sequence.
//
// Step failures are recorded on the execution and never returned. The
// returned error is non-nil only when the execution ended in the failed
// status: an internal error, a panic in a collaborator, or cancellation.
func (o *Orchestrator) Execute(ctx context.Context, exec *Execution) (err error) {
	ctx, span := o.tracer.Start(ctx, "execution.run", trace.WithAttributes(
		attribute.String("session.id", exec.SessionID),
		attribute.String("execution.id", exec.ID),
		attribute.String("work_item", exec.WorkItem.String()),
	))
	defer span.End()

	logger := o.logger.With().
		Str("session_id", exec.SessionID).
		Str("execution_id", exec.ID).
		Str("work_item", exec.WorkItem.String()).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			err = NewInternalError(fmt.Sprintf("panic during execution: %v", r), nil).
				WithResource(exec.ID)
			o.finish(ctx, exec, err, logger)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	started := o.now()
	exec.Status = ExecutionStatusInProgress
	exec.StartedAt = &started
	o.metrics.RecordExecutionStarted(exec.WorkItem.Category)
	o.publish(ctx, exec, EventTypeExecutionStarted, "", "Execution started", nil)
	logger.Info().Str("policy", string(exec.Policy)).Msg("Execution started")
	o.persist(ctx, exec, "start", logger)

	err = o.runSteps(ctx, exec, logger)
	o.finish(ctx, exec, err, logger)
	return err
}

func (o *Orchestrator) runSteps(ctx context.Context, exec *Execution, logger zerolog.Logger) error {
	steps := Steps()
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return cancelledError(exec, err)
		}

		stop, err := o.runStep(ctx, exec, step, logger)
		o.persist(ctx, exec, "step", logger)
		if err != nil {
			return err
		}
		if stop {
			logger.Warn().Str("step", step.String()).Msg("Stopping after failed step")
			return nil
		}

		if i < len(steps)-1 {
			if err := o.sleeper.Sleep(ctx, o.config.Delay.Next()); err != nil {
				return cancelledError(exec, err)
			}
		}
	}
	return nil
}

// runStep runs one step in the target and then the staging environment.
// stop reports that the failure policy ends the sequence here.
func (o *Orchestrator) runStep(
	ctx context.Context,
	exec *Execution,
	step Step,
	logger zerolog.Logger,
) (stop bool, err error) {
	failFast := exec.Policy != FailurePolicyContinue

	target, err := o.call(ctx, exec, step, EnvironmentTarget, exec.WorkItem.TargetEnvironment, logger)
	if target != nil {
		exec.Steps = append(exec.Steps, *target)
	}
	if err != nil {
		return true, err
	}

	if step == StepApplicationSubmit && target.Succeeded() {
		if id, ok := target.Response["application_id"]; ok && id != nil {
			exec.Context.ApplicationID = fmt.Sprint(id)
		}
	}

	if !target.Succeeded() {
		markFailed(exec, step)
		if failFast {
			return true, nil
		}
	}

	staging, err := o.call(ctx, exec, step, EnvironmentStaging, o.config.StagingEnvironment, logger)
	if staging != nil {
		exec.Steps = append(exec.Steps, *staging)
	}
	if err != nil {
		return true, err
	}

	if !staging.Succeeded() {
		markFailed(exec, step)
		if failFast {
			return true, nil
		}
	}

	if target.Succeeded() && staging.Succeeded() {
		o.compare(ctx, exec, step, target, staging)
	}
	return false, nil
}

// call issues one step call. A non-nil record is returned for every call
// that reached the executor; err is non-nil for internal errors and cancellation.
func (o *Orchestrator) call(
	ctx context.Context,
	exec *Execution,
	step Step,
	role Environment,
	envName string,
	logger zerolog.Logger,
) (*StepRecord, error) {
	ctx, span := o.tracer.Start(ctx, "step.execute", trace.WithAttributes(
		attribute.String("step", step.String()),
		attribute.String("environment", string(role)),
		attribute.String("environment.name", envName),
	))
	defer span.End()

	callCtx := ctx
	if o.config.StepTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.config.StepTimeout)
		defer cancel()
	}

	req := &StepRequest{
		Step:        step,
		Role:        role,
		Environment: envName,
		WorkItem:    exec.WorkItem,
		Context:     exec.Context,
	}

	started := o.now()
	result, err := o.executor.Execute(callCtx, req)
	duration := o.now().Sub(started)

	if err != nil && IsInternal(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err == nil && result == nil {
		return nil, NewInternalError("step executor returned no result", nil).
			WithResource(exec.ID).
			WithOperation(step.String())
	}

	rec := &StepRecord{
		Step:            step,
		Environment:     role,
		EnvironmentName: envName,
		StartedAt:       started,
		Duration:        duration,
		Outcome:         StepOutcomeFailure,
	}
	if err != nil {
		rec.Error = err.Error()
	} else {
		rec.Request = result.Request
		rec.Response = result.Response
		rec.StatusCode = result.StatusCode
		rec.Error = result.Error
		if result.Succeeded() {
			rec.Outcome = StepOutcomeSuccess
		} else if rec.Error == "" {
			rec.Error = fmt.Sprintf("step returned status %d", result.StatusCode)
		}
	}
	if rec.Request == nil {
		rec.Request = requestPayload(req)
	}

	o.metrics.RecordStepCall(step.String(), string(role), string(rec.Outcome), duration)

	if rec.Succeeded() {
		span.SetStatus(codes.Ok, "")
		logger.Debug().
			Str("step", step.String()).
			Str("environment", envName).
			Int("status_code", rec.StatusCode).
			Dur("duration", duration).
			Msg("Step succeeded")
		o.publish(ctx, exec, EventTypeStepCompleted, step.String(),
			fmt.Sprintf("%s succeeded in %s", step, envName),
			map[string]interface{}{"environment": envName, "status_code": rec.StatusCode})
	} else {
		span.SetStatus(codes.Error, rec.Error)
		logger.Warn().
			Str("step", step.String()).
			Str("environment", envName).
			Int("status_code", rec.StatusCode).
			Str("error", rec.Error).
			Msg("Step failed")
		o.publish(ctx, exec, EventTypeStepFailed, step.String(),
			fmt.Sprintf("%s failed in %s: %s", step, envName, rec.Error),
			map[string]interface{}{"environment": envName, "status_code": rec.StatusCode})
	}

	if err != nil && ctx.Err() != nil {
		return rec, cancelledError(exec, ctx.Err())
	}
	return rec, nil
}

func (o *Orchestrator) compare(ctx context.Context, exec *Execution, step Step, target, staging *StepRecord) {
	cmp := o.differ.Compare(
		step.String(),
		o.normalizer.Normalize(target.Response),
		o.normalizer.Normalize(staging.Response),
	)
	exec.Comparisons = append(exec.Comparisons, cmp)
	exec.Summary.Merge(cmp.Summary)

	o.metrics.RecordDifferences(step.String(), cmp.Summary.Critical, cmp.Summary.Warning, cmp.Summary.Info)
	o.publish(ctx, exec, EventTypeComparisonCreated, step.String(),
		fmt.Sprintf("%s compared: %d differences", step, cmp.Summary.Total),
		map[string]interface{}{
			"critical": cmp.Summary.Critical,
			"warning":  cmp.Summary.Warning,
			"info":     cmp.Summary.Info,
		})
}

// finish moves exec to its terminal status and persists it.
func (o *Orchestrator) finish(ctx context.Context, exec *Execution, err error, logger zerolog.Logger) {
	completed := o.now()
	exec.CompletedAt = &completed

	switch {
	case err != nil:
		exec.Status = ExecutionStatusFailed
		exec.Error = err.Error()
	case exec.HasFailures:
		exec.Status = ExecutionStatusCompletedWithFailures
	default:
		exec.Status = ExecutionStatusCompleted
	}

	o.persist(ctx, exec, "complete", logger)
	o.metrics.RecordExecutionCompleted(string(exec.Status), exec.Duration())
	o.publish(ctx, exec, EventTypeExecutionCompleted, "",
		fmt.Sprintf("Execution finished with status %s", exec.Status),
		map[string]interface{}{
			"status":       string(exec.Status),
			"has_failures": exec.HasFailures,
			"differences":  exec.Summary.Total,
			"progress_key": exec.ProgressKey,
		})

	event := logger.Info()
	if err != nil {
		event = logger.Error().Err(err)
	}
	event.Str("status", string(exec.Status)).
		Int("steps", len(exec.Steps)).
		Int("comparisons", len(exec.Comparisons)).
		Int("critical", exec.Summary.Critical).
		Dur("duration", exec.Duration()).
		Msg("Execution finished")
}

// persist writes the full snapshot. Failures are surfaced as warnings on
// the execution and never stop the run.
func (o *Orchestrator) persist(ctx context.Context, exec *Execution, operation string, logger zerolog.Logger) {
	exec.UpdatedAt = o.now()

	data, err := EncodeSnapshot(exec)
	if err == nil {
		err = o.store.WriteSnapshot(context.WithoutCancel(ctx), exec.ProgressKey, data)
	}
	if err == nil {
		return
	}

	perr := NewPersistenceError("failed to persist progress", err).
		WithResource(exec.ID).
		WithOperation(operation)
	exec.Warnings = append(exec.Warnings, perr.Error())
	o.metrics.RecordPersistenceError(operation)
	logger.Warn().
		Err(err).
		Str("event", "persistence_warning").
		Str("operation", operation).
		Str("progress_key", exec.ProgressKey).
		Msg("Progress not persisted; execution continues in memory")
	o.publish(ctx, exec, EventTypePersistenceWarning, "", perr.Error(),
		map[string]interface{}{"operation": operation, "progress_key": exec.ProgressKey})
}

func (o *Orchestrator) publish(
	ctx context.Context,
	exec *Execution,
	eventType EventType,
	step, message string,
	details map[string]interface{},
) {
	if o.events == nil {
		return
	}

	event := &Event{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   o.now(),
		SessionID:   exec.SessionID,
		ExecutionID: exec.ID,
		Step:        step,
		Message:     message,
		Details:     details,
		Level:       eventType.Severity(),
	}
	if err := o.events.Publish(context.WithoutCancel(ctx), event); err != nil {
		o.logger.Debug().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish event")
	}
}

func markFailed(exec *Execution, step Step) {
	exec.HasFailures = true
	if exec.FailedStep == nil {
		s := step
		exec.FailedStep = &s
	}
}

func cancelledError(exec *Execution, err error) error {
	return NewInternalError("execution cancelled", err).
		WithCode(ErrCodeCancelled).
		WithResource(exec.ID)
}

func requestPayload(req *StepRequest) map[string]interface{} {
	payload := map[string]interface{}{
		"step":        req.Step.String(),
		"environment": req.Environment,
		"category":    req.WorkItem.Category,
		"product":     req.WorkItem.Product,
		"plan":        req.WorkItem.Plan,
	}
	if req.Context.ApplicationID != "" {
		payload["application_id"] = req.Context.ApplicationID
	}
	return payload
}
