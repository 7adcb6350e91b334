package stores

import (
	"context"
	"errors"
	"time"

	"github.com/openfroyo/parity/pkg/engine"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("not found")

// SessionStore persists sessions and their ordered execution lists.
type SessionStore interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// CreateSession inserts a session and, in the same transaction, removes
	// the oldest sessions so that at most maxSessions remain. Removed
	// sessions are returned oldest first with their execution lists.
	CreateSession(ctx context.Context, session *engine.Session, maxSessions int) ([]*engine.Session, error)

	// GetSession returns a session with its executions, oldest first.
	GetSession(ctx context.Context, id string) (*engine.Session, error)

	// ListSessions returns every session, newest first.
	ListSessions(ctx context.Context) ([]*engine.Session, error)

	// UpdateSessionStatus sets the status and touches updated_at.
	UpdateSessionStatus(ctx context.Context, id string, status engine.SessionStatus, at time.Time) error

	// AppendExecution adds ref to the end of the session's execution list.
	// An existing entry with the same progress key is replaced. The oldest
	// entries beyond maxExecutions are removed and returned, oldest first.
	AppendExecution(ctx context.Context, sessionID string, ref engine.ExecutionRef, maxExecutions int) ([]engine.ExecutionRef, error)

	// DeleteSession removes a session and its execution list.
	DeleteSession(ctx context.Context, id string) error

	// HealthCheck verifies the database connection is healthy.
	HealthCheck(ctx context.Context) error
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
