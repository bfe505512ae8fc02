package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Timestamps are stored as fixed-width UTC text so that lexical comparison in
// SQL matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS remote (
	id TEXT PRIMARY KEY,
	user_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	config TEXT NOT NULL, -- JSON object
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS backup_config (
	id TEXT PRIMARY KEY,
	user_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	backup_type TEXT NOT NULL,
	backup_items TEXT NOT NULL, -- JSON array
	destination_type TEXT NOT NULL,
	destination_config TEXT NOT NULL, -- JSON object
	remote_id TEXT,
	secondary_remote_ids TEXT NOT NULL, -- JSON array
	schedule TEXT NOT NULL DEFAULT '',
	frequency TEXT NOT NULL,
	time_of_day TEXT,
	day_of_week INTEGER,
	keep_last INTEGER NOT NULL DEFAULT 0,
	keep_daily INTEGER NOT NULL DEFAULT 0,
	keep_weekly INTEGER NOT NULL DEFAULT 0,
	keep_monthly INTEGER NOT NULL DEFAULT 0,
	keep_yearly INTEGER NOT NULL DEFAULT 0,
	include_paths TEXT NOT NULL, -- JSON array
	exclude_patterns TEXT NOT NULL, -- JSON array
	is_active INTEGER NOT NULL DEFAULT 1,
	last_run_at TEXT,
	next_run_at TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	deleted_at TEXT,
	FOREIGN KEY (remote_id) REFERENCES remote(id) ON DELETE SET NULL
);

CREATE TABLE IF NOT EXISTS process (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	command_id TEXT NOT NULL,
	command TEXT NOT NULL,
	pid INTEGER,
	status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	output TEXT,
	error TEXT,
	return_code INTEGER,
	start_time TEXT NOT NULL,
	end_time TEXT,
	updated_at TEXT NOT NULL,
	type TEXT NOT NULL,
	args TEXT NOT NULL -- JSON object
);

CREATE TABLE IF NOT EXISTS backup (
	id TEXT PRIMARY KEY,
	backup_config_id TEXT,
	user_id INTEGER NOT NULL,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	size_bytes INTEGER,
	snapshot_id TEXT,
	started_at TEXT,
	completed_at TEXT,
	error_message TEXT,
	metadata TEXT NOT NULL, -- JSON object
	remote_id TEXT,
	remote_path TEXT,
	synced_remotes TEXT NOT NULL, -- JSON array
	process_id INTEGER,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	deleted_at TEXT,
	FOREIGN KEY (backup_config_id) REFERENCES backup_config(id) ON DELETE SET NULL,
	FOREIGN KEY (remote_id) REFERENCES remote(id) ON DELETE SET NULL,
	FOREIGN KEY (process_id) REFERENCES process(id) ON DELETE SET NULL
);

CREATE TABLE IF NOT EXISTS restore_operation (
	id TEXT PRIMARY KEY,
	backup_id TEXT NOT NULL,
	user_id INTEGER NOT NULL,
	status TEXT NOT NULL,
	target_path TEXT NOT NULL,
	include_paths TEXT NOT NULL, -- JSON array
	files_restored INTEGER,
	bytes_restored INTEGER,
	output TEXT,
	error_message TEXT,
	started_at TEXT,
	completed_at TEXT,
	process_id INTEGER,
	created_at TEXT NOT NULL,
	FOREIGN KEY (backup_id) REFERENCES backup(id) ON DELETE CASCADE,
	FOREIGN KEY (process_id) REFERENCES process(id) ON DELETE SET NULL
);

CREATE TABLE IF NOT EXISTS task_lock (
	name TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	acquired_at TEXT NOT NULL,
	expires_at TEXT NOT NULL
);

-- At most one pending/running backup per config. Inserts that would create a
-- second one fail, which makes the scheduling guard a single atomic statement.
CREATE UNIQUE INDEX IF NOT EXISTS idx_backup_single_active
	ON backup(backup_config_id)
	WHERE status IN ('pending', 'running') AND backup_config_id IS NOT NULL;

CREATE INDEX IF NOT EXISTS idx_backup_config_next_run ON backup_config(next_run_at);
CREATE INDEX IF NOT EXISTS idx_backup_config_user ON backup_config(user_id);
CREATE INDEX IF NOT EXISTS idx_backup_status ON backup(status);
CREATE INDEX IF NOT EXISTS idx_backup_config_id ON backup(backup_config_id);
CREATE INDEX IF NOT EXISTS idx_restore_backup_id ON restore_operation(backup_id);
CREATE INDEX IF NOT EXISTS idx_processes_status ON process(status);
CREATE INDEX IF NOT EXISTS idx_processes_type ON process(type);
CREATE INDEX IF NOT EXISTS idx_processes_command_id ON process(command_id);
`

type DB struct {
	*sqlx.DB
}

func New(dbPath string) (*DB, error) {
	db, err := sqlx.Connect("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// A single connection serializes writers and keeps pragmas and
	// :memory: databases bound to one session.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set busy timeout to handle concurrent access from the daemon and one-shot CLI runs
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &DB{db}, nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// NullString helper for optional string fields
func NullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: *s, Valid: true}
}

// NullInt64 helper for optional int64 fields
func NullInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

// NullInt helper for optional int fields
func NullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

// NullTime helper for optional time fields, stored as text
func NullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: FormatTime(*t), Valid: true}
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", value, err)
	}
	return t.UTC(), nil
}

func parseNullTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid {
		return nil, nil
	}
	t, err := parseTime(value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func stringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}

func int64Ptr(value sql.NullInt64) *int64 {
	if !value.Valid {
		return nil
	}
	i := value.Int64
	return &i
}

func intPtr(value sql.NullInt64) *int {
	if !value.Valid {
		return nil
	}
	i := int(value.Int64)
	return &i
}

func toJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal json column: %w", err)
	}
	return string(data), nil
}

func fromJSON(data string, v any) error {
	if data == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("failed to unmarshal json column: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// statusArgs converts typed statuses into driver values for sqlx.In.
func statusArgs[T ~string](statuses []T) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
