package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/starford/othala/internal/apperr"
)

// Task date fields accepted by UpdateTaskDate.
const (
	DateFieldStart = "start"
	DateFieldDue   = "due"
)

// ToggleTask advances a note's task state machine one step:
//
//	no task -> active -> complete -> cancelled -> no task
//
// Entering complete stamps completed_at; entering cancelled clears it;
// leaving cancelled deletes the task row. The note's modified_at is
// deliberately untouched: task-state history lives in the task row's
// own timestamps.
//
// The returned status is the new state, "" when the task row was removed.
func (db *DB) ToggleTask(id int64) (string, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return "", fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM notes WHERE id = ?`, id).Scan(&exists); err != nil {
		return "", fmt.Errorf("store: check note %d: %w", id, err)
	}
	if exists == 0 {
		return "", fmt.Errorf("store: note %d: %w", id, apperr.ErrNotFound)
	}

	var status string
	err = tx.QueryRow(`SELECT status FROM tasks WHERE note_id = ?`, id).Scan(&status)
	switch {
	case err == sql.ErrNoRows:
		status = StatusActive
		if _, err := tx.Exec(
			`INSERT INTO tasks (note_id, status, priority) VALUES (?, ?, ?)`,
			id, StatusActive, DefaultPriority,
		); err != nil {
			return "", fmt.Errorf("store: create task: %w", err)
		}
	case err != nil:
		return "", fmt.Errorf("store: load task %d: %w", id, err)
	case status == StatusActive:
		status = StatusComplete
		if _, err := tx.Exec(
			`UPDATE tasks SET status = ?, completed_at = ? WHERE note_id = ?`,
			StatusComplete, time.Now().UTC(), id,
		); err != nil {
			return "", fmt.Errorf("store: complete task: %w", err)
		}
	case status == StatusComplete:
		status = StatusCancelled
		if _, err := tx.Exec(
			`UPDATE tasks SET status = ?, completed_at = NULL WHERE note_id = ?`,
			StatusCancelled, id,
		); err != nil {
			return "", fmt.Errorf("store: cancel task: %w", err)
		}
	default: // cancelled, or an unknown legacy status
		status = ""
		if _, err := tx.Exec(`DELETE FROM tasks WHERE note_id = ?`, id); err != nil {
			return "", fmt.Errorf("store: remove task: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("store: commit: %w", err)
	}
	return status, nil
}

// UpdateTaskDate sets or clears (value == nil) the start or due date of
// a note's task, creating an active task row first when none exists.
// Dates are user-significant metadata, so unlike status toggling this
// bumps the note's modified_at.
func (db *DB) UpdateTaskDate(id int64, field string, value *time.Time) error {
	var column string
	switch field {
	case DateFieldStart:
		column = "start_date"
	case DateFieldDue:
		column = "due_date"
	default:
		return fmt.Errorf("store: date field %q: %w", field, apperr.ErrInvalidArgument)
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := ensureTask(tx, id); err != nil {
		return err
	}

	var stored any
	if value != nil {
		stored = value.UTC()
	}
	if _, err := tx.Exec(`UPDATE tasks SET `+column+` = ? WHERE note_id = ?`, stored, id); err != nil {
		return fmt.Errorf("store: set %s: %w", column, err)
	}
	if _, err := tx.Exec(`UPDATE notes SET modified_at = ? WHERE id = ?`, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("store: bump modified_at: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// UpdateTaskFields applies a partial update of priority and/or dates in
// one transaction, creating an active task row first when none exists.
// Nil fields are left unchanged. No-op when all fields are nil.
func (db *DB) UpdateTaskFields(id int64, priority *int, start, due *time.Time) error {
	if priority == nil && start == nil && due == nil {
		return nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := ensureTask(tx, id); err != nil {
		return err
	}

	if priority != nil {
		if _, err := tx.Exec(`UPDATE tasks SET priority = ? WHERE note_id = ?`, *priority, id); err != nil {
			return fmt.Errorf("store: set priority: %w", err)
		}
	}
	if start != nil {
		if _, err := tx.Exec(`UPDATE tasks SET start_date = ? WHERE note_id = ?`, start.UTC(), id); err != nil {
			return fmt.Errorf("store: set start_date: %w", err)
		}
	}
	if due != nil {
		if _, err := tx.Exec(`UPDATE tasks SET due_date = ? WHERE note_id = ?`, due.UTC(), id); err != nil {
			return fmt.Errorf("store: set due_date: %w", err)
		}
	}
	if _, err := tx.Exec(`UPDATE notes SET modified_at = ? WHERE id = ?`, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("store: bump modified_at: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// PutTask writes a complete task row for a note, replacing any existing
// one. Used when re-creating copied subtrees so task state survives a
// paste.
func (db *DB) PutTask(id int64, t *Task) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM notes WHERE id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("store: check note %d: %w", id, err)
	}
	if exists == 0 {
		return fmt.Errorf("store: note %d: %w", id, apperr.ErrNotFound)
	}

	var start, due, completed any
	if t.StartDate != nil {
		start = t.StartDate.UTC()
	}
	if t.DueDate != nil {
		due = t.DueDate.UTC()
	}
	if t.CompletedAt != nil {
		completed = t.CompletedAt.UTC()
	}
	if _, err := tx.Exec(`
		INSERT INTO tasks (note_id, status, priority, start_date, due_date, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(note_id) DO UPDATE SET
			status       = excluded.status,
			priority     = excluded.priority,
			start_date   = excluded.start_date,
			due_date     = excluded.due_date,
			completed_at = excluded.completed_at
	`, id, t.Status, t.Priority, start, due, completed); err != nil {
		return fmt.Errorf("store: put task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// ensureTask verifies the note exists and inserts a default active task
// row when none is present yet.
func ensureTask(tx *sql.Tx, id int64) error {
	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM notes WHERE id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("store: check note %d: %w", id, err)
	}
	if exists == 0 {
		return fmt.Errorf("store: note %d: %w", id, apperr.ErrNotFound)
	}

	var taskID int64
	err := tx.QueryRow(`SELECT note_id FROM tasks WHERE note_id = ?`, id).Scan(&taskID)
	if err == sql.ErrNoRows {
		if _, err := tx.Exec(
			`INSERT INTO tasks (note_id, status, priority) VALUES (?, ?, ?)`,
			id, StatusActive, DefaultPriority,
		); err != nil {
			return fmt.Errorf("store: create task: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: load task %d: %w", id, err)
	}
	return nil
}
