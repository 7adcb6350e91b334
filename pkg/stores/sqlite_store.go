package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/parity/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the SessionStore interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 8
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database with WAL mode, foreign keys and a busy timeout
// applied to every pooled connection.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateSession inserts a session and evicts the oldest ones beyond maxSessions.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *engine.Session, maxSessions int) ([]*engine.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, owner, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, session.ID, session.Owner, session.Status, session.CreatedAt.UTC(), session.UpdatedAt.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	var evicted []*engine.Session
	if maxSessions > 0 {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count sessions: %w", err)
		}

		var ids []string
		if over := count - maxSessions; over > 0 {
			ids, err = queryStrings(ctx, tx, `SELECT id FROM sessions ORDER BY seq ASC LIMIT ?`, over)
			if err != nil {
				return nil, fmt.Errorf("failed to select sessions to evict: %w", err)
			}
		}

		for _, id := range ids {
			old, err := getSession(ctx, tx, id)
			if err != nil {
				return nil, err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
				return nil, fmt.Errorf("failed to evict session %s: %w", id, err)
			}
			evicted = append(evicted, old)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit session: %w", err)
	}
	return evicted, nil
}

// GetSession retrieves a session by ID
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*engine.Session, error) {
	return getSession(ctx, s.db, id)
}

// ListSessions lists sessions newest first
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*engine.Session, error) {
	ids, err := queryStrings(ctx, s.db, `SELECT id FROM sessions ORDER BY seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]*engine.Session, 0, len(ids))
	for _, id := range ids {
		session, err := getSession(ctx, s.db, id)
		if errors.Is(err, ErrNotFound) {
			// deleted between the two queries
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// UpdateSessionStatus updates the status of a session
func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, id string, status engine.SessionStatus, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET status = ?, updated_at = ?
		WHERE id = ?
	`, status, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	return requireRow(result, id)
}

// AppendExecution appends an execution to a session and trims its list.
func (s *SQLiteStore) AppendExecution(ctx context.Context, sessionID string, ref engine.ExecutionRef, maxExecutions int) ([]engine.ExecutionRef, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, ref.AddedAt.UTC(), sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}
	if err := requireRow(result, sessionID); err != nil {
		return nil, err
	}

	// a re-run of the same combination replaces its entry and moves it to the end
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM session_executions WHERE session_id = ? AND progress_key = ?
	`, sessionID, ref.ProgressKey); err != nil {
		return nil, fmt.Errorf("failed to replace execution: %w", err)
	}

	w := ref.WorkItem
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO session_executions (session_id, execution_id, category, product, plan, target_environment, progress_key, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sessionID, ref.ID, w.Category, w.Product, w.Plan, w.TargetEnvironment, ref.ProgressKey, ref.AddedAt.UTC()); err != nil {
		return nil, fmt.Errorf("failed to append execution: %w", err)
	}

	var evicted []engine.ExecutionRef
	if maxExecutions > 0 {
		refs, err := listExecutions(ctx, tx, sessionID)
		if err != nil {
			return nil, err
		}
		if over := len(refs) - maxExecutions; over > 0 {
			evicted = refs[:over]
			for _, old := range evicted {
				if _, err := tx.ExecContext(ctx, `
					DELETE FROM session_executions WHERE session_id = ? AND progress_key = ?
				`, sessionID, old.ProgressKey); err != nil {
					return nil, fmt.Errorf("failed to evict execution %s: %w", old.ID, err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit execution: %w", err)
	}
	return evicted, nil
}

// DeleteSession deletes a session by ID
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return requireRow(result, id)
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// querier is the subset shared by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getSession(ctx context.Context, q querier, id string) (*engine.Session, error) {
	session := &engine.Session{}
	err := q.QueryRowContext(ctx, `
		SELECT id, owner, status, created_at, updated_at
		FROM sessions
		WHERE id = ?
	`, id).Scan(
		&session.ID,
		&session.Owner,
		&session.Status,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	session.Executions, err = listExecutions(ctx, q, id)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func listExecutions(ctx context.Context, q querier, sessionID string) ([]engine.ExecutionRef, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT execution_id, category, product, plan, target_environment, progress_key, added_at
		FROM session_executions
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	refs := []engine.ExecutionRef{}
	for rows.Next() {
		var ref engine.ExecutionRef
		if err := rows.Scan(
			&ref.ID,
			&ref.WorkItem.Category,
			&ref.WorkItem.Product,
			&ref.WorkItem.Plan,
			&ref.WorkItem.TargetEnvironment,
			&ref.ProgressKey,
			&ref.AddedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		refs = append(refs, ref)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}
	return refs, nil
}

func queryStrings(ctx context.Context, q querier, query string, args ...interface{}) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func requireRow(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

var _ SessionStore = (*SQLiteStore)(nil)
