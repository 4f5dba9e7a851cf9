package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// State is the persisted browser session state.
type State struct {
	LastRefresh      *time.Time
	ProfilePath      string
	DriverActive     bool
	SessionPreserved bool
}

// Store persists State in a small SQLite key/value table.
type Store struct {
	db     *sql.DB
	dbPath string
}

const schema = `CREATE TABLE IF NOT EXISTS session_state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

const (
	keyLastRefresh      = "last_refresh"
	keyProfilePath      = "profile_path"
	keyDriverActive     = "driver_active"
	keySessionPreserved = "session_preserved"
)

// Open opens or creates the session database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create session directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create session schema: %w", err)
	}

	return &Store{db: db, dbPath: path}, nil
}

// Load returns the saved state, or a zero State if nothing was saved yet.
func (s *Store) Load(ctx context.Context) (State, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM session_state`)
	if err != nil {
		return State{}, fmt.Errorf("failed to read session state: %w", err)
	}
	defer rows.Close()

	var st State
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return State{}, fmt.Errorf("failed to scan session state: %w", err)
		}
		switch k {
		case keyLastRefresh:
			if v == "" {
				continue
			}
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return State{}, fmt.Errorf("invalid last_refresh %q: %w", v, err)
			}
			st.LastRefresh = &t
		case keyProfilePath:
			st.ProfilePath = v
		case keyDriverActive:
			st.DriverActive, _ = strconv.ParseBool(v)
		case keySessionPreserved:
			st.SessionPreserved, _ = strconv.ParseBool(v)
		}
	}
	if err := rows.Err(); err != nil {
		return State{}, fmt.Errorf("failed to read session state: %w", err)
	}
	return st, nil
}

// Save writes every field of st in one transaction.
func (s *Store) Save(ctx context.Context, st State) error {
	lastRefresh := ""
	if st.LastRefresh != nil {
		lastRefresh = st.LastRefresh.UTC().Format(time.RFC3339Nano)
	}
	values := map[string]string{
		keyLastRefresh:      lastRefresh,
		keyProfilePath:      st.ProfilePath,
		keyDriverActive:     strconv.FormatBool(st.DriverActive),
		keySessionPreserved: strconv.FormatBool(st.SessionPreserved),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin session transaction: %w", err)
	}
	for k, v := range values {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_state (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
			return errors.Join(fmt.Errorf("failed to store %s: %w", k, err), tx.Rollback())
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session state: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
