package api

import (
	"time"

	"github.com/starford/othala/internal/checksum"
	"github.com/starford/othala/internal/store"
)

// TaskDTO is the task portion of a note response.
type TaskDTO struct {
	Status      string     `json:"status"`
	Priority    int        `json:"priority"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NoteDTO is the API representation of an outline note. Checksum is the
// SHA-256 of the content, usable as an If-Match value on updates.
type NoteDTO struct {
	ID         int64     `json:"id"`
	ParentID   *int64    `json:"parent_id,omitempty"`
	Content    string    `json:"content"`
	Path       string    `json:"path"`
	Depth      int       `json:"depth"`
	Position   int       `json:"position"`
	IsExpanded bool      `json:"is_expanded"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
	Checksum   string    `json:"checksum"`
	Task       *TaskDTO  `json:"task,omitempty"`
}

// SubtreeDTO is a note with its children nested, for copy/paste flows.
type SubtreeDTO struct {
	NoteDTO
	Children []SubtreeDTO `json:"children,omitempty"`
}

// ActivityNoteDTO tags a note with the activity that matched a date query.
type ActivityNoteDTO struct {
	NoteDTO
	ActivityType string    `json:"activity_type"`
	ActivityTime time.Time `json:"activity_time"`
}

// CreateNoteRequest is the body for POST /notes.
type CreateNoteRequest struct {
	ParentID int64  `json:"parent_id"`
	Content  string `json:"content"`
	Position *int   `json:"position,omitempty"`
}

// UpdateNoteRequest is the body for PUT /notes/{id}.
type UpdateNoteRequest struct {
	Content string `json:"content"`
	Force   bool   `json:"force,omitempty"`
}

// MoveNoteRequest is the body for POST /notes/{id}/move.
type MoveNoteRequest struct {
	ParentID int64 `json:"parent_id"`
	Position int   `json:"position"`
}

// ExpandRequest is the body for PUT /notes/{id}/expanded.
type ExpandRequest struct {
	Expanded bool `json:"expanded"`
}

// TaskDateRequest is the body for PUT /notes/{id}/task/dates.
// A nil value clears the date.
type TaskDateRequest struct {
	Field string     `json:"field"`
	Value *time.Time `json:"value"`
}

// TaskFieldsRequest is the body for PUT /notes/{id}/task. Absent fields
// are left unchanged.
type TaskFieldsRequest struct {
	Priority  *int       `json:"priority,omitempty"`
	StartDate *time.Time `json:"start_date,omitempty"`
	DueDate   *time.Time `json:"due_date,omitempty"`
}

// WorkspaceRequest is the body for workspace load/save-as.
type WorkspaceRequest struct {
	Path string `json:"path"`
}

func toTaskDTO(t *store.Task) *TaskDTO {
	if t == nil {
		return nil
	}
	return &TaskDTO{
		Status:      t.Status,
		Priority:    t.Priority,
		StartDate:   t.StartDate,
		DueDate:     t.DueDate,
		CompletedAt: t.CompletedAt,
	}
}

func toNoteDTO(n *store.Note) NoteDTO {
	return NoteDTO{
		ID:         n.ID,
		ParentID:   n.ParentID,
		Content:    n.Content,
		Path:       n.Path,
		Depth:      n.Depth,
		Position:   n.Position,
		IsExpanded: n.IsExpanded,
		CreatedAt:  n.CreatedAt,
		ModifiedAt: n.ModifiedAt,
		Checksum:   checksum.Content(n.Content),
		Task:       toTaskDTO(n.Task),
	}
}

func toSubtreeDTO(s *store.Subtree) SubtreeDTO {
	out := SubtreeDTO{NoteDTO: toNoteDTO(&s.Note)}
	for _, c := range s.Children {
		out.Children = append(out.Children, toSubtreeDTO(c))
	}
	return out
}

func fromSubtreeDTO(d *SubtreeDTO) *store.Subtree {
	sub := &store.Subtree{
		Note: store.Note{Content: d.Content},
	}
	if d.Task != nil {
		sub.Task = &store.Task{
			Status:      d.Task.Status,
			Priority:    d.Task.Priority,
			StartDate:   d.Task.StartDate,
			DueDate:     d.Task.DueDate,
			CompletedAt: d.Task.CompletedAt,
		}
	}
	for i := range d.Children {
		sub.Children = append(sub.Children, fromSubtreeDTO(&d.Children[i]))
	}
	return sub
}
