package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/starford/othala/internal/apperr"
)

// CreateNote inserts a new note under parentID. When position is nil
// the note is appended after the last sibling; otherwise siblings at or
// after position are shifted down first so positions stay contiguous.
// A negative position is rejected; a position past the last sibling is
// treated as an append. The path is written in a second statement once
// the autoincrement id is known.
func (db *DB) CreateNote(parentID int64, content string, position *int) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	var parentPath string
	var parentDepth int
	err = tx.QueryRow(`SELECT path, depth FROM notes WHERE id = ?`, parentID).Scan(&parentPath, &parentDepth)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("store: parent note %d: %w", parentID, apperr.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("store: load parent %d: %w", parentID, err)
	}

	var pos int
	if position == nil {
		if err := tx.QueryRow(
			`SELECT COALESCE(MAX(position), -1) + 1 FROM notes WHERE parent_id = ?`, parentID,
		).Scan(&pos); err != nil {
			return 0, fmt.Errorf("store: next position: %w", err)
		}
	} else {
		pos = *position
		if pos < 0 {
			return 0, fmt.Errorf("store: create at position %d: %w", pos, apperr.ErrInvalidArgument)
		}
		var count int
		if err := tx.QueryRow(
			`SELECT COUNT(*) FROM notes WHERE parent_id = ?`, parentID,
		).Scan(&count); err != nil {
			return 0, fmt.Errorf("store: count siblings: %w", err)
		}
		// A slot past the last sibling would leave a gap; append instead.
		if pos > count {
			pos = count
		}
		if _, err := tx.Exec(
			`UPDATE notes SET position = position + 1 WHERE parent_id = ? AND position >= ?`,
			parentID, pos,
		); err != nil {
			return 0, fmt.Errorf("store: shift siblings: %w", err)
		}
	}

	res, err := tx.Exec(
		`INSERT INTO notes (parent_id, content, depth, position, path) VALUES (?, ?, ?, ?, '')`,
		parentID, content, parentDepth+1, pos,
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert note: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: last insert id: %w", err)
	}

	path := fmt.Sprintf("%s.%d", parentPath, id)
	if _, err := tx.Exec(`UPDATE notes SET path = ? WHERE id = ?`, path, id); err != nil {
		return 0, fmt.Errorf("store: set path: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit: %w", err)
	}
	return id, nil
}

// UpdateNote replaces a note's content and bumps modified_at. Unless
// force is set, a byte-identical content is a complete no-op (no write)
// so idle autosaves do not generate noise snapshots. The returned bool
// reports whether anything was written.
func (db *DB) UpdateNote(id int64, content string, force bool) (bool, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return false, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var current string
	err = tx.QueryRow(`SELECT content FROM notes WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("store: note %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("store: load note %d: %w", id, err)
	}
	if !force && current == content {
		return false, nil
	}

	if _, err := tx.Exec(
		`UPDATE notes SET content = ?, modified_at = ? WHERE id = ?`,
		content, time.Now().UTC(), id,
	); err != nil {
		return false, fmt.Errorf("store: update note %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: commit: %w", err)
	}
	return true, nil
}

// DeleteNote removes a note, every descendant (matched by path prefix),
// and all their task rows in one transaction. The root note is refused.
// Returns the deleted note's content for history messages.
func (db *DB) DeleteNote(id int64) (string, error) {
	if id == RootID {
		return "", apperr.ErrRootDelete
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return "", fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var content, path string
	var parentID int64
	var position int
	err = tx.QueryRow(`SELECT content, path, parent_id, position FROM notes WHERE id = ?`, id).
		Scan(&content, &path, &parentID, &position)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("store: note %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("store: load note %d: %w", id, err)
	}

	prefix := path + ".%"
	if _, err := tx.Exec(
		`DELETE FROM tasks WHERE note_id IN (SELECT id FROM notes WHERE path LIKE ? OR id = ?)`,
		prefix, id,
	); err != nil {
		return "", fmt.Errorf("store: delete tasks: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM notes WHERE path LIKE ? OR id = ?`, prefix, id); err != nil {
		return "", fmt.Errorf("store: delete notes: %w", err)
	}

	// Close the gap among the remaining siblings.
	if _, err := tx.Exec(
		`UPDATE notes SET position = position - 1 WHERE parent_id = ? AND position > ?`,
		parentID, position,
	); err != nil {
		return "", fmt.Errorf("store: close position gap: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("store: commit: %w", err)
	}
	return content, nil
}

// MoveNote relocates a note under newParentID at newPosition, keeping
// sibling positions contiguous in both the old and new parent and
// recomputing path/depth for the note and its whole subtree.
//
// Same-parent reorders use insert-before-slot semantics: moving down
// shifts the skipped-over range up and lands one short of the requested
// slot, moving up shifts the displaced range down. A negative position
// is rejected; one past the target's last sibling becomes an append.
func (db *DB) MoveNote(id, newParentID int64, newPosition int) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var oldParentID int64
	var oldPosition, oldDepth int
	var oldPath string
	err = tx.QueryRow(`SELECT parent_id, position, path, depth FROM notes WHERE id = ?`, id).
		Scan(&oldParentID, &oldPosition, &oldPath, &oldDepth)
	if err == sql.ErrNoRows {
		return fmt.Errorf("store: note %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("store: load note %d: %w", id, err)
	}

	var parentPath string
	var parentDepth int
	err = tx.QueryRow(`SELECT path, depth FROM notes WHERE id = ?`, newParentID).
		Scan(&parentPath, &parentDepth)
	if err == sql.ErrNoRows {
		return fmt.Errorf("store: parent note %d: %w", newParentID, apperr.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("store: load parent %d: %w", newParentID, err)
	}

	// A note may not become a descendant of itself.
	if newParentID == id || strings.HasPrefix(parentPath, oldPath+".") {
		return fmt.Errorf("store: move %d under %d: %w", id, newParentID, apperr.ErrInvalidArgument)
	}

	if newPosition < 0 {
		return fmt.Errorf("store: move %d to position %d: %w", id, newPosition, apperr.ErrInvalidArgument)
	}
	// Clamp a slot past the last sibling to an append; anything larger
	// would leave a gap in the target parent's positions. For a
	// same-parent move the count includes the moving note itself, so
	// slot count means "after the current last sibling".
	var siblingCount int
	if err := tx.QueryRow(
		`SELECT COUNT(*) FROM notes WHERE parent_id = ?`, newParentID,
	).Scan(&siblingCount); err != nil {
		return fmt.Errorf("store: count siblings: %w", err)
	}
	if newPosition > siblingCount {
		newPosition = siblingCount
	}

	if oldParentID == newParentID {
		if newPosition > oldPosition {
			// Moving down: close the gap above, then land one slot
			// short. The sibling at the target slot keeps its position;
			// shifting it too would collide with the moved note.
			if _, err := tx.Exec(
				`UPDATE notes SET position = position - 1 WHERE parent_id = ? AND position > ? AND position < ?`,
				oldParentID, oldPosition, newPosition,
			); err != nil {
				return fmt.Errorf("store: shift siblings: %w", err)
			}
			newPosition--
		} else {
			// Moving up: push the displaced range down.
			if _, err := tx.Exec(
				`UPDATE notes SET position = position + 1 WHERE parent_id = ? AND position >= ? AND position < ?`,
				oldParentID, newPosition, oldPosition,
			); err != nil {
				return fmt.Errorf("store: shift siblings: %w", err)
			}
		}
	} else {
		if _, err := tx.Exec(
			`UPDATE notes SET position = position - 1 WHERE parent_id = ? AND position > ?`,
			oldParentID, oldPosition,
		); err != nil {
			return fmt.Errorf("store: close old gap: %w", err)
		}
		if _, err := tx.Exec(
			`UPDATE notes SET position = position + 1 WHERE parent_id = ? AND position >= ?`,
			newParentID, newPosition,
		); err != nil {
			return fmt.Errorf("store: open new gap: %w", err)
		}
	}

	newPath := fmt.Sprintf("%s.%d", parentPath, id)
	newDepth := parentDepth + 1
	if _, err := tx.Exec(
		`UPDATE notes SET parent_id = ?, position = ?, path = ?, depth = ?, modified_at = ? WHERE id = ?`,
		newParentID, newPosition, newPath, newDepth, time.Now().UTC(), id,
	); err != nil {
		return fmt.Errorf("store: relocate note %d: %w", id, err)
	}

	// Recompute path and depth for every descendant. The ancestor-id
	// sequence changed, so both columns must be rewritten. Rows are
	// snapshotted up front and processed shortest path first so no
	// partially-updated row is ever read mid-traversal.
	type descRow struct {
		id    int64
		path  string
		depth int
	}
	rows, err := tx.Query(
		`SELECT id, path, depth FROM notes WHERE path LIKE ? ORDER BY length(path), path`,
		oldPath+".%",
	)
	if err != nil {
		return fmt.Errorf("store: load descendants: %w", err)
	}
	var descendants []descRow
	for rows.Next() {
		var d descRow
		if err := rows.Scan(&d.id, &d.path, &d.depth); err != nil {
			rows.Close()
			return err
		}
		descendants = append(descendants, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	depthDelta := newDepth - oldDepth
	for _, d := range descendants {
		descPath := newPath + strings.TrimPrefix(d.path, oldPath)
		if _, err := tx.Exec(
			`UPDATE notes SET path = ?, depth = ? WHERE id = ?`,
			descPath, d.depth+depthDelta, d.id,
		); err != nil {
			return fmt.Errorf("store: recompute descendant %d: %w", d.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// RebuildPaths recomputes path and depth for every note by a pre-order
// walk from the root, trusting only parent_id and position. Idempotent;
// used to repair drift.
func (db *DB) RebuildPaths() error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Worklist of (id, path, depth) seeded with the root.
	type item struct {
		id    int64
		path  string
		depth int
	}
	work := []item{{id: RootID, path: fmt.Sprintf("%d", RootID), depth: 0}}

	for len(work) > 0 {
		cur := work[0]
		work = work[1:]

		if _, err := tx.Exec(`UPDATE notes SET path = ?, depth = ? WHERE id = ?`, cur.path, cur.depth, cur.id); err != nil {
			return fmt.Errorf("store: rebuild node %d: %w", cur.id, err)
		}

		rows, err := tx.Query(`SELECT id FROM notes WHERE parent_id = ? ORDER BY position, id`, cur.id)
		if err != nil {
			return fmt.Errorf("store: rebuild children of %d: %w", cur.id, err)
		}
		for rows.Next() {
			var childID int64
			if err := rows.Scan(&childID); err != nil {
				rows.Close()
				return err
			}
			work = append(work, item{
				id:    childID,
				path:  fmt.Sprintf("%s.%d", cur.path, childID),
				depth: cur.depth + 1,
			})
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// SaveExpansionState persists the UI expansion flag. Deliberately does
// not touch modified_at; callers skip the snapshot commit for this too.
func (db *DB) SaveExpansionState(id int64, expanded bool) error {
	res, err := db.conn.Exec(`UPDATE notes SET is_expanded = ? WHERE id = ?`, expanded, id)
	if err != nil {
		return fmt.Errorf("store: save expansion: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: note %d: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// Subtree is a note with its children nested, ordered by position.
type Subtree struct {
	Note
	Children []*Subtree
}

// GetSubtree returns the note and all its descendants as a nested tree.
func (db *DB) GetSubtree(id int64) (*Subtree, error) {
	n, err := db.GetNote(id)
	if err != nil {
		return nil, err
	}
	root := &Subtree{Note: *n}
	children, err := db.Children(id)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		child, err := db.GetSubtree(c.ID)
		if err != nil {
			return nil, err
		}
		root.Children = append(root.Children, child)
	}
	return root, nil
}
