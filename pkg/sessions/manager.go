package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/parity/pkg/engine"
	"github.com/openfroyo/parity/pkg/stores"
)

// ErrSessionNotFound is wrapped by every error reporting an unknown session.
var ErrSessionNotFound = errors.New("session not found")

// Eviction kinds reported to metrics.
const (
	EvictionSession   = "session"
	EvictionExecution = "execution"
)

// Config bounds how much session state is retained.
type Config struct {
	MaxSessions             int
	MaxExecutionsPerSession int
}

// DefaultConfig returns the default retention limits.
func DefaultConfig() Config {
	return Config{
		MaxSessions:             5,
		MaxExecutionsPerSession: 10,
	}
}

// Metrics receives eviction counts.
type Metrics interface {
	RecordEviction(kind string)
}

// Manager owns the session lifecycle: it keeps the registry, the retention
// limits and the progress records of evicted executions consistent.
type Manager struct {
	store    stores.SessionStore
	progress engine.ProgressStore
	config   Config
	events   engine.EventPublisher
	metrics  Metrics
	now      func() time.Time
	logger   zerolog.Logger

	// mu serializes eviction so progress records are removed once.
	mu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithEventPublisher publishes eviction events.
func WithEventPublisher(p engine.EventPublisher) Option {
	return func(m *Manager) { m.events = p }
}

// WithMetrics records eviction counts.
func WithMetrics(metrics Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l.With().Str("component", "sessions").Logger() }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a session manager.
func NewManager(store stores.SessionStore, progress engine.ProgressStore, cfg Config, opts ...Option) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultConfig().MaxSessions
	}
	if cfg.MaxExecutionsPerSession <= 0 {
		cfg.MaxExecutionsPerSession = DefaultConfig().MaxExecutionsPerSession
	}
	m := &Manager{
		store:    store,
		progress: progress,
		config:   cfg,
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewSessionID returns an id of the form sess_YYYYMMDD_HHMMSS_<6 hex>.
func NewSessionID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("sess_%s_%s", now.UTC().Format("20060102_150405"), suffix)
}

// Create registers a new session, evicting the oldest sessions beyond the limit.
func (m *Manager) Create(ctx context.Context, owner string) (*engine.Session, error) {
	if owner == "" {
		return nil, engine.NewConfigurationError("owner is required", nil).
			WithCode(engine.ErrCodeValidation)
	}

	now := m.now()
	session := &engine.Session{
		ID:         NewSessionID(now),
		Owner:      owner,
		Status:     engine.SessionStatusActive,
		Executions: []engine.ExecutionRef{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted, err := m.store.CreateSession(ctx, session, m.config.MaxSessions)
	if err != nil {
		return nil, engine.NewPersistenceError("failed to create session", err).
			WithResource(session.ID).
			WithOperation("create")
	}

	for _, old := range evicted {
		m.deleteProgress(ctx, old.ID, old.Executions)
		m.recordEviction(ctx, EvictionSession, old.ID, "", fmt.Sprintf("Session %s evicted", old.ID), map[string]interface{}{
			"executions":  len(old.Executions),
			"replaced_by": session.ID,
		})
	}

	m.logger.Info().
		Str("session_id", session.ID).
		Str("owner", owner).
		Int("evicted", len(evicted)).
		Msg("Session created")
	return session, nil
}

// Get implements engine.SessionTracker.
func (m *Manager) Get(ctx context.Context, sessionID string) (*engine.Session, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, m.wrap(err, sessionID, "get")
	}
	return session, nil
}

// List returns every retained session, newest first.
func (m *Manager) List(ctx context.Context) ([]*engine.Session, error) {
	sessions, err := m.store.ListSessions(ctx)
	if err != nil {
		return nil, engine.NewPersistenceError("failed to list sessions", err).WithOperation("list")
	}
	return sessions, nil
}

// AddExecution implements engine.SessionTracker.
func (m *Manager) AddExecution(ctx context.Context, sessionID string, ref engine.ExecutionRef) error {
	if ref.AddedAt.IsZero() {
		ref.AddedAt = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted, err := m.store.AppendExecution(ctx, sessionID, ref, m.config.MaxExecutionsPerSession)
	if err != nil {
		return m.wrap(err, sessionID, "add_execution")
	}

	m.deleteProgress(ctx, sessionID, evicted)
	for _, old := range evicted {
		m.recordEviction(ctx, EvictionExecution, sessionID, old.ID, fmt.Sprintf("Execution %s evicted", old.ID), map[string]interface{}{
			"work_item":    old.WorkItem.String(),
			"progress_key": old.ProgressKey,
		})
	}
	return nil
}

// SetStatus implements engine.SessionTracker.
func (m *Manager) SetStatus(ctx context.Context, sessionID string, status engine.SessionStatus) error {
	if err := status.Validate(); err != nil {
		return engine.NewConfigurationError("invalid session status", err).
			WithCode(engine.ErrCodeValidation).
			WithResource(sessionID)
	}
	if err := m.store.UpdateSessionStatus(ctx, sessionID, status, m.now()); err != nil {
		return m.wrap(err, sessionID, "set_status")
	}
	return nil
}

// Delete removes a session and the progress records of its executions.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return m.wrap(err, sessionID, "delete")
	}
	if err := m.store.DeleteSession(ctx, sessionID); err != nil {
		return m.wrap(err, sessionID, "delete")
	}
	m.deleteProgress(ctx, sessionID, session.Executions)

	m.logger.Info().Str("session_id", sessionID).Msg("Session deleted")
	return nil
}

// deleteProgress removes progress records; failures are logged and do not
// undo the registry change.
func (m *Manager) deleteProgress(ctx context.Context, sessionID string, refs []engine.ExecutionRef) {
	if m.progress == nil {
		return
	}
	for _, ref := range refs {
		if err := m.progress.DeleteSnapshot(ctx, ref.ProgressKey); err != nil {
			m.logger.Warn().
				Err(err).
				Str("event", "persistence_warning").
				Str("session_id", sessionID).
				Str("execution_id", ref.ID).
				Msg("Failed to delete progress record")
		}
	}
}

func (m *Manager) recordEviction(ctx context.Context, kind, sessionID, executionID, message string, details map[string]interface{}) {
	if m.metrics != nil {
		m.metrics.RecordEviction(kind)
	}

	m.logger.Info().
		Str("kind", kind).
		Str("session_id", sessionID).
		Str("execution_id", executionID).
		Msg(message)

	if m.events == nil {
		return
	}
	eventType := engine.EventTypeSessionEvicted
	if kind == EvictionExecution {
		eventType = engine.EventTypeExecutionEvicted
	}
	event := &engine.Event{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   m.now(),
		SessionID:   sessionID,
		ExecutionID: executionID,
		Message:     message,
		Details:     details,
		Level:       eventType.Severity(),
	}
	if err := m.events.Publish(context.WithoutCancel(ctx), event); err != nil {
		m.logger.Debug().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish event")
	}
}

func (m *Manager) wrap(err error, sessionID, operation string) error {
	if errors.Is(err, stores.ErrNotFound) {
		return engine.NewConfigurationError("session not found", fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)).
			WithCode(engine.ErrCodeNotFound).
			WithResource(sessionID).
			WithOperation(operation)
	}
	return engine.NewPersistenceError("session registry failure", err).
		WithResource(sessionID).
		WithOperation(operation)
}

var _ engine.SessionTracker = (*Manager)(nil)
