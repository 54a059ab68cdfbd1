// Package store implements the SQLite-backed record store for the
// outline: notes with materialized path/depth/position columns and
// optional task rows.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS notes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	parent_id   INTEGER REFERENCES notes(id),
	content     TEXT NOT NULL DEFAULT '',
	path        TEXT,
	depth       INTEGER DEFAULT 0,
	position    INTEGER DEFAULT 0,
	is_expanded BOOLEAN DEFAULT 1,
	created_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	modified_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS tasks (
	note_id      INTEGER PRIMARY KEY REFERENCES notes(id),
	status       TEXT CHECK(status IN ('active','complete','cancelled')) DEFAULT 'active',
	priority     INTEGER DEFAULT 0,
	start_date   DATETIME,
	due_date     DATETIME,
	completed_at TIMESTAMP,
	created_at   TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_notes_parent ON notes(parent_id);
CREATE INDEX IF NOT EXISTS idx_notes_path ON notes(path);
CREATE INDEX IF NOT EXISTS idx_notes_modified ON notes(modified_at);
`

// Additive migrations for databases created by older builds. Each is
// guarded: an "already exists" failure means the column is present.
var migrations = []string{
	`ALTER TABLE notes ADD COLUMN is_expanded BOOLEAN DEFAULT 1`,
	`ALTER TABLE tasks ADD COLUMN completed_at TIMESTAMP`,
}

// DB wraps a sql.DB bound to one outline database file.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens (or creates) the outline database at path and applies the
// schema. Repeated calls against the same file are safe: schema
// statements are idempotent and migrations are guarded.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	db := &DB{conn: conn, path: path}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) initSchema() error {
	if _, err := db.conn.Exec(schemaSQL); err != nil {
		return fmt.Errorf("store: apply schema: %w", err)
	}

	for _, m := range migrations {
		// Failure means the column already exists on this database.
		_, _ = db.conn.Exec(m)
	}

	// Bootstrap the permanent root note.
	var n int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM notes WHERE id = ?`, RootID).Scan(&n); err != nil {
		return fmt.Errorf("store: check root: %w", err)
	}
	if n == 0 {
		_, err := db.conn.Exec(
			`INSERT INTO notes (id, content, path, depth, is_expanded) VALUES (?, 'Root', ?, 0, 1)`,
			RootID, fmt.Sprintf("%d", RootID))
		if err != nil {
			return fmt.Errorf("store: create root: %w", err)
		}
	}
	return nil
}

// Path returns the database file path this store is bound to.
func (db *DB) Path() string { return db.path }

// Checkpoint flushes the WAL into the main database file so that the
// file on disk reflects all committed state. Required before the file
// is snapshotted or copied.
func (db *DB) Checkpoint() error {
	if _, err := db.conn.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("store: wal checkpoint: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
