// Package history persists a log of terminal query outcomes so past activity
// survives restarts and is inspectable from the status surface.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS query_log (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	prompt TEXT NOT NULL,
	outcome TEXT NOT NULL,
	cached INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_query_log_created ON query_log(created_at);
`

// Outcome is one terminal query record.
type Outcome struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Prompt     string    `json:"prompt"`
	Outcome    string    `json:"outcome"`
	Cached     bool      `json:"cached"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store wraps a SQLite database holding the query log.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the query log database in dataDir. Pass ":memory:"
// as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "opticd.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Single connection avoids "database is locked" under concurrent writes.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends one terminal outcome. Outcomes without an ID (cache hits
// never get a query ID) are assigned one here.
func (s *Store) Record(o Outcome) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	createdAt := o.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO query_log (id, kind, prompt, outcome, cached, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Kind, o.Prompt, o.Outcome, o.Cached, o.DurationMs, createdAt,
	)
	if err != nil {
		return fmt.Errorf("recording outcome: %w", err)
	}
	return nil
}

// Recent returns up to n outcomes, newest first.
func (s *Store) Recent(n int) ([]Outcome, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := s.db.Query(
		`SELECT id, kind, prompt, outcome, cached, duration_ms, created_at
		 FROM query_log ORDER BY created_at DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("querying outcomes: %w", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var o Outcome
		if err := rows.Scan(&o.ID, &o.Kind, &o.Prompt, &o.Outcome, &o.Cached, &o.DurationMs, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
