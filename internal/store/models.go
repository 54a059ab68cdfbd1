package store

import "time"

// Task status values. A note with no task row is "not a task".
const (
	StatusActive    = "active"
	StatusComplete  = "complete"
	StatusCancelled = "cancelled"
)

// DefaultPriority is assigned whenever a task row is created, regardless
// of which operation created it. The schema keeps DEFAULT 0 only as a
// fallback for rows written by older builds.
const DefaultPriority = 4

// RootID is the id of the permanent root note. The root always exists
// and is never deleted.
const RootID = 1

// Task is the optional 1:1 to-do extension of a note.
type Task struct {
	NoteID      int64
	Status      string
	Priority    int
	StartDate   *time.Time
	DueDate     *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// Note is one node of the outline tree, joined with its task row when
// one exists.
type Note struct {
	ID         int64
	ParentID   *int64
	Content    string
	Path       string
	Depth      int
	Position   int
	IsExpanded bool
	CreatedAt  time.Time
	ModifiedAt time.Time

	Task *Task
}

// IsTask reports whether the note carries a task row.
func (n *Note) IsTask() bool { return n.Task != nil }

// Activity kinds reported by date-based queries.
const (
	ActivityCreated   = "created"
	ActivityModified  = "modified"
	ActivityCompleted = "completed"
	ActivityAll       = "all"
)

// ActivityNote is a note tagged with which activity matched a date query.
type ActivityNote struct {
	Note
	ActivityType string
	ActivityTime time.Time
}

// ActivityDate summarises one calendar day with note activity.
type ActivityDate struct {
	Date         string
	NoteCount    int
	ActivityType string
}
