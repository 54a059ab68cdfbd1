package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/starford/othala/internal/apperr"
)

// noteColumns is the note/task join selected by every note-returning query.
const noteColumns = `n.id, n.parent_id, n.content, n.path, n.depth, n.position, n.is_expanded,
	n.created_at, n.modified_at,
	t.status, t.priority, t.start_date, t.due_date, t.completed_at, t.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(r rowScanner) (*Note, error) {
	var (
		n           Note
		parentID    sql.NullInt64
		status      sql.NullString
		priority    sql.NullInt64
		startDate   sql.NullTime
		dueDate     sql.NullTime
		completedAt sql.NullTime
		taskCreated sql.NullTime
	)
	err := r.Scan(&n.ID, &parentID, &n.Content, &n.Path, &n.Depth, &n.Position, &n.IsExpanded,
		&n.CreatedAt, &n.ModifiedAt,
		&status, &priority, &startDate, &dueDate, &completedAt, &taskCreated)
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		v := parentID.Int64
		n.ParentID = &v
	}
	if status.Valid {
		t := &Task{NoteID: n.ID, Status: status.String, Priority: int(priority.Int64)}
		if startDate.Valid {
			v := startDate.Time
			t.StartDate = &v
		}
		if dueDate.Valid {
			v := dueDate.Time
			t.DueDate = &v
		}
		if completedAt.Valid {
			v := completedAt.Time
			t.CompletedAt = &v
		}
		if taskCreated.Valid {
			t.CreatedAt = taskCreated.Time
		}
		n.Task = t
	}
	return &n, nil
}

// GetNote returns a note joined with its task row, or ErrNotFound.
func (db *DB) GetNote(id int64) (*Note, error) {
	row := db.conn.QueryRow(`
		SELECT `+noteColumns+`
		FROM notes n
		LEFT JOIN tasks t ON n.id = t.note_id
		WHERE n.id = ?
	`, id)
	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get note %d: %w", id, err)
	}
	return n, nil
}

// Children returns the direct children of a note ordered by position.
// Id is the tie-break for legacy rows with duplicate positions.
func (db *DB) Children(parentID int64) ([]*Note, error) {
	rows, err := db.conn.Query(`
		SELECT `+noteColumns+`
		FROM notes n
		LEFT JOIN tasks t ON n.id = t.note_id
		WHERE n.parent_id = ?
		ORDER BY n.position, n.id
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("store: children of %d: %w", parentID, err)
	}
	defer rows.Close()

	var out []*Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// NextChildPosition returns the position a new child of parentID would
// be appended at: max(position)+1, or 0 when there are no children.
func (db *DB) NextChildPosition(parentID int64) (int, error) {
	var pos int
	err := db.conn.QueryRow(
		`SELECT COALESCE(MAX(position), -1) + 1 FROM notes WHERE parent_id = ?`, parentID,
	).Scan(&pos)
	if err != nil {
		return 0, fmt.Errorf("store: next child position: %w", err)
	}
	return pos, nil
}

// SearchContent returns notes whose content contains term, newest
// modification first, capped at 100. A blank term matches nothing.
func (db *DB) SearchContent(term string) ([]*Note, error) {
	if strings.TrimSpace(term) == "" {
		return []*Note{}, nil
	}
	rows, err := db.conn.Query(`
		SELECT `+noteColumns+`
		FROM notes n
		LEFT JOIN tasks t ON n.id = t.note_id
		WHERE n.content LIKE ?
		ORDER BY n.modified_at DESC
		LIMIT 100
	`, "%"+term+"%")
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	defer rows.Close()

	out := []*Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// activityColumns extends noteColumns with the matching activity tag.
const activityColumns = noteColumns + `, %s AS activity_type, %s AS activity_time`

// NotesOnDate returns notes whose activity falls on the given calendar
// date (YYYY-MM-DD). activity selects which timestamps are considered:
// "created", "modified", or "all" (which also matches task completion).
func (db *DB) NotesOnDate(date, activity string) ([]*ActivityNote, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, fmt.Errorf("store: date %q: %w", date, apperr.ErrInvalidArgument)
	}

	var (
		query string
		args  []any
	)
	switch activity {
	case ActivityCreated:
		query = fmt.Sprintf(`
			SELECT `+activityColumns+`
			FROM notes n
			LEFT JOIN tasks t ON n.id = t.note_id
			WHERE date(n.created_at) = ?
			ORDER BY n.created_at DESC
		`, `'created'`, `n.created_at`)
		args = []any{date}
	case ActivityModified:
		query = fmt.Sprintf(`
			SELECT `+activityColumns+`
			FROM notes n
			LEFT JOIN tasks t ON n.id = t.note_id
			WHERE date(n.modified_at) = ? AND date(n.created_at) != ?
			ORDER BY n.modified_at DESC
		`, `'modified'`, `n.modified_at`)
		args = []any{date, date}
	case ActivityAll:
		created := fmt.Sprintf(`
			SELECT `+activityColumns+`
			FROM notes n
			LEFT JOIN tasks t ON n.id = t.note_id
			WHERE date(n.created_at) = ?
		`, `'created'`, `n.created_at`)
		modified := fmt.Sprintf(`
			SELECT `+activityColumns+`
			FROM notes n
			LEFT JOIN tasks t ON n.id = t.note_id
			WHERE date(n.modified_at) = ? AND date(n.created_at) != ?
		`, `'modified'`, `n.modified_at`)
		completed := fmt.Sprintf(`
			SELECT `+activityColumns+`
			FROM notes n
			JOIN tasks t ON n.id = t.note_id
			WHERE date(t.completed_at) = ? AND t.completed_at IS NOT NULL
		`, `'completed'`, `t.completed_at`)
		query = `SELECT * FROM (` + created + ` UNION ` + modified + ` UNION ` + completed + `) ORDER BY activity_time DESC`
		args = []any{date, date, date, date}
	default:
		return nil, fmt.Errorf("store: activity %q: %w", activity, apperr.ErrInvalidArgument)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: notes on date: %w", err)
	}
	defer rows.Close()

	out := []*ActivityNote{}
	for rows.Next() {
		an, err := scanActivityNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, an)
	}
	return out, rows.Err()
}

func scanActivityNote(r rowScanner) (*ActivityNote, error) {
	var (
		an          ActivityNote
		parentID    sql.NullInt64
		status      sql.NullString
		priority    sql.NullInt64
		startDate   sql.NullTime
		dueDate     sql.NullTime
		completedAt sql.NullTime
		taskCreated sql.NullTime
	)
	err := r.Scan(&an.ID, &parentID, &an.Content, &an.Path, &an.Depth, &an.Position, &an.IsExpanded,
		&an.CreatedAt, &an.ModifiedAt,
		&status, &priority, &startDate, &dueDate, &completedAt, &taskCreated,
		&an.ActivityType, &an.ActivityTime)
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		v := parentID.Int64
		an.ParentID = &v
	}
	if status.Valid {
		t := &Task{NoteID: an.ID, Status: status.String, Priority: int(priority.Int64)}
		if startDate.Valid {
			v := startDate.Time
			t.StartDate = &v
		}
		if dueDate.Valid {
			v := dueDate.Time
			t.DueDate = &v
		}
		if completedAt.Valid {
			v := completedAt.Time
			t.CompletedAt = &v
		}
		if taskCreated.Valid {
			t.CreatedAt = taskCreated.Time
		}
		an.Task = t
	}
	return &an, nil
}

// ActivityDates returns recent calendar dates with note activity, for
// history/calendar pickers.
func (db *DB) ActivityDates(limit int) ([]ActivityDate, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := db.conn.Query(`
		SELECT DISTINCT date(created_at) AS activity_date,
		       COUNT(*) AS note_count,
		       'created' AS activity_type
		FROM notes
		WHERE created_at IS NOT NULL
		GROUP BY date(created_at)

		UNION

		SELECT DISTINCT date(modified_at) AS activity_date,
		       COUNT(*) AS note_count,
		       'modified' AS activity_type
		FROM notes
		WHERE modified_at IS NOT NULL
		  AND date(modified_at) != date(created_at)
		GROUP BY date(modified_at)

		ORDER BY activity_date DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: activity dates: %w", err)
	}
	defer rows.Close()

	out := []ActivityDate{}
	for rows.Next() {
		var d ActivityDate
		if err := rows.Scan(&d.Date, &d.NoteCount, &d.ActivityType); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
