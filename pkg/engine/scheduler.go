package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TaskFunc is the body of a scheduled task.
type TaskFunc func(ctx context.Context) (*MasterSummary, error)

// Task is a handle to one scheduled session run.
type Task struct {
	// ID is the unique identifier of the task.
	ID string

	// SessionID is the session the task runs for.
	SessionID string

	// WorkItems is the number of work items the task will execute.
	WorkItems int

	// SubmittedAt is when the task was queued.
	SubmittedAt time.Time

	fn     TaskFunc
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu          sync.RWMutex
	state       TaskState
	summary     *MasterSummary
	err         error
	startedAt   *time.Time
	completedAt *time.Time
}

// TaskInfo is a point-in-time view of a task.
type TaskInfo struct {
	ID          string         `json:"task_id"`
	SessionID   string         `json:"session_id"`
	State       TaskState      `json:"state"`
	WorkItems   int            `json:"work_items"`
	SubmittedAt time.Time      `json:"submitted_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Summary     *MasterSummary `json:"summary,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// State returns the current task state.
func (t *Task) State() TaskState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Done returns a channel closed when the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) (*MasterSummary, error) {
	select {
	case <-t.done:
		t.mu.RLock()
		defer t.mu.RUnlock()
		return t.summary, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel requests cancellation. A queued task never starts; a running task
// stops before its next step.
func (t *Task) Cancel() {
	t.cancel()
	t.mu.Lock()
	queued := t.state == TaskStateQueued
	if queued {
		t.state = TaskStateCancelled
	}
	t.mu.Unlock()
	if queued {
		t.finish(TaskStateCancelled, nil, NewInternalError("task cancelled", context.Canceled).WithCode(ErrCodeCancelled))
	}
}

// Summary returns the run summary, or nil while the task has not finished.
func (t *Task) Summary() *MasterSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.summary
}

// Err returns the task error, if any.
func (t *Task) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// Info returns a snapshot of the task.
func (t *Task) Info() *TaskInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info := &TaskInfo{
		ID:          t.ID,
		SessionID:   t.SessionID,
		State:       t.state,
		WorkItems:   t.WorkItems,
		SubmittedAt: t.SubmittedAt,
		StartedAt:   t.startedAt,
		CompletedAt: t.completedAt,
		Summary:     t.summary,
	}
	if t.err != nil {
		info.Error = t.err.Error()
	}
	return info
}

// start moves a queued task to running. It returns false if the task was
// cancelled while queued.
func (t *Task) start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TaskStateQueued {
		return false
	}
	now := time.Now()
	t.state = TaskStateRunning
	t.startedAt = &now
	return true
}

func (t *Task) finish(state TaskState, summary *MasterSummary, err error) {
	t.once.Do(func() {
		now := time.Now()
		t.mu.Lock()
		t.state = state
		t.summary = summary
		t.err = err
		t.completedAt = &now
		t.mu.Unlock()
		t.cancel()
		close(t.done)
	})
}

// DefaultTaskRetention is how many finished tasks stay queryable by ID.
const DefaultTaskRetention = 256

// Scheduler runs tasks on a fixed pool of workers fed by a bounded queue.
// At most one task per session is queued or running at any time.
type Scheduler struct {
	workers int
	retain  int
	queue   chan *Task
	metrics MetricsRecorder
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu protects tasks, finished, active, running and closed
	mu       sync.RWMutex
	tasks    map[string]*Task
	finished []string
	active   map[string]*Task
	running  int
	closed   bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerMetrics sets the metrics recorder.
func WithSchedulerMetrics(m MetricsRecorder) SchedulerOption {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(l zerolog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l.With().Str("component", "scheduler").Logger() }
}

// WithTaskRetention sets how many finished tasks are kept for lookup.
// Older finished tasks are forgotten first.
func WithTaskRetention(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.retain = n
		}
	}
}

// NewScheduler creates a scheduler and starts its workers.
func NewScheduler(workers, queueSize int, opts ...SchedulerOption) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		workers: workers,
		retain:  DefaultTaskRetention,
		queue:   make(chan *Task, queueSize),
		metrics: nopMetrics{},
		logger:  zerolog.Nop(),
		ctx:     ctx,
		cancel:  cancel,
		tasks:   make(map[string]*Task),
		active:  make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(s)
	}

	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Submit queues fn for sessionID and returns its handle.
func (s *Scheduler) Submit(sessionID string, workItems int, fn TaskFunc) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, NewInternalError("scheduler is shut down", nil)
	}
	if existing, ok := s.active[sessionID]; ok {
		return nil, NewConfigurationError("session already has an active run", nil).
			WithCode(ErrCodeAlreadyRunning).
			WithResource(sessionID).
			WithDetail("task_id", existing.ID)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	task := &Task{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		WorkItems:   workItems,
		SubmittedAt: time.Now(),
		fn:          fn,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		state:       TaskStateQueued,
	}

	select {
	case s.queue <- task:
	default:
		cancel()
		return nil, NewInternalError("task queue is full", nil).
			WithCode(ErrCodeQueueFull).
			WithDetail("queue_size", cap(s.queue))
	}

	s.tasks[task.ID] = task
	s.active[sessionID] = task
	s.metrics.SetQueuedTasks(len(s.queue))

	go s.release(task)

	s.logger.Info().
		Str("task_id", task.ID).
		Str("session_id", sessionID).
		Int("work_items", workItems).
		Msg("Task queued")
	return task, nil
}

// Task returns the task with the given ID.
func (s *Scheduler) Task(id string) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	return t, ok
}

// ActiveTask returns the queued or running task of a session.
func (s *Scheduler) ActiveTask(sessionID string) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.active[sessionID]
	return t, ok
}

// Running returns the number of tasks being executed.
func (s *Scheduler) Running() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Shutdown stops accepting tasks, cancels queued and running tasks and
// waits for the workers to exit or ctx to be done.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()

	for task := range s.queue {
		s.metrics.SetQueuedTasks(len(s.queue))
		if task.ctx.Err() != nil {
			task.finish(TaskStateCancelled, nil,
				NewInternalError("task cancelled", task.ctx.Err()).WithCode(ErrCodeCancelled))
			continue
		}
		if !task.start() {
			continue
		}
		s.run(task)
	}
}

func (s *Scheduler) run(task *Task) {
	s.setRunning(1)
	defer s.setRunning(-1)

	logger := s.logger.With().Str("task_id", task.ID).Str("session_id", task.SessionID).Logger()
	logger.Info().Msg("Task started")

	summary, err := s.invoke(task)

	state := TaskStateDone
	switch {
	case err != nil:
		state = TaskStateFailed
	case task.ctx.Err() != nil || (summary != nil && summary.Cancelled):
		state = TaskStateCancelled
	}
	task.finish(state, summary, err)

	event := logger.Info()
	if err != nil {
		event = logger.Error().Err(err)
	}
	event.Str("state", string(state)).Msg("Task finished")
}

// invoke runs the task body, converting a panic into an internal error.
func (s *Scheduler) invoke(task *Task) (summary *MasterSummary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewInternalError(fmt.Sprintf("task panicked: %v", r), nil).WithResource(task.ID)
		}
	}()
	return task.fn(task.ctx)
}

// release drops the session's active slot once the task is finished and
// forgets the oldest finished tasks beyond the retention limit.
func (s *Scheduler) release(task *Task) {
	<-task.done
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[task.SessionID] == task {
		delete(s.active, task.SessionID)
	}

	s.finished = append(s.finished, task.ID)
	for len(s.finished) > s.retain {
		delete(s.tasks, s.finished[0])
		s.finished = s.finished[1:]
	}
}

func (s *Scheduler) setRunning(delta int) {
	s.mu.Lock()
	s.running += delta
	n := s.running
	s.mu.Unlock()
	s.metrics.SetActiveTasks(n)
}
