package policy

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // database/sql driver

	"aide/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	started_at TIMESTAMP NOT NULL,
	turns      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS permits (
	session_id TEXT NOT NULL,
	tool_name  TEXT NOT NULL,
	granted_at TIMESTAMP NOT NULL,
	PRIMARY KEY (session_id, tool_name),
	FOREIGN KEY (session_id) REFERENCES sessions(id)
);
`

// Store persists sessions and MED-risk session permits in SQLite. It is an
// injected service owned by the process lifecycle; SQLite supports a single
// writer, so the pool is capped at one connection.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// OpenStore opens (or creates) the permit database at dbPath.
func OpenStore(dbPath string, logger *logx.Logger) (*Store, error) {
	if logger == nil {
		logger = logx.NewLogger("policy-store")
	}

	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger.Info("permit store ready: %s", dbPath)
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSession upserts a session row so permits have a parent record.
func (s *Store) EnsureSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, started_at) VALUES (?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		sessionID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to ensure session %s: %w", sessionID, err)
	}
	return nil
}

// IncrementTurns bumps the session's turn counter.
func (s *Store) IncrementTurns(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET turns = turns + 1 WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to increment turns for %s: %w", sessionID, err)
	}
	return nil
}

// SessionTurns returns the session's turn counter, or zero for an unknown
// session.
func (s *Store) SessionTurns(ctx context.Context, sessionID string) (int, error) {
	var turns int
	err := s.db.QueryRowContext(ctx,
		`SELECT turns FROM sessions WHERE id = ?`, sessionID).Scan(&turns)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read session %s: %w", sessionID, err)
	}
	return turns, nil
}

// GrantPermit records that a MED-risk tool was confirmed for the session.
// Granting twice is a no-op.
func (s *Store) GrantPermit(ctx context.Context, sessionID, toolName string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO permits (session_id, tool_name, granted_at) VALUES (?, ?, ?)
		 ON CONFLICT(session_id, tool_name) DO NOTHING`,
		sessionID, toolName, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to grant permit (%s, %s): %w", sessionID, toolName, err)
	}
	return nil
}

// HasPermit reports whether the session already confirmed this tool.
func (s *Store) HasPermit(ctx context.Context, sessionID, toolName string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM permits WHERE session_id = ? AND tool_name = ?`,
		sessionID, toolName).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check permit (%s, %s): %w", sessionID, toolName, err)
	}
	return true, nil
}

// EndSession drops the session's permits. Permits are session-scoped and
// must not outlive it.
func (s *Store) EndSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM permits WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to end session %s: %w", sessionID, err)
	}
	return nil
}
