package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/outline"
	"github.com/starford/othala/internal/store"
)

// Handler holds API route handlers.
type Handler struct {
	svc *outline.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *outline.Service) *Handler {
	return &Handler{svc: svc}
}

// noteID extracts and parses the {id} URL parameter.
func noteID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// writeErr maps service errors onto HTTP statuses.
func writeErr(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody("checksum mismatch"))
	case errors.Is(err, apperr.ErrInvalidArgument):
		writeJSON(w, http.StatusBadRequest, errorBody("invalid argument"))
	case errors.Is(err, apperr.ErrRootDelete):
		writeJSON(w, http.StatusBadRequest, errorBody("root note cannot be deleted"))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// GetNote handles GET /notes/{id}.
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid note id"))
		return
	}
	n, err := h.svc.GetNote(id)
	if err != nil {
		writeErr(w, "get note", err)
		return
	}
	writeJSON(w, http.StatusOK, toNoteDTO(n))
}

// Children handles GET /notes/{id}/children.
func (h *Handler) Children(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid note id"))
		return
	}
	children, err := h.svc.Children(id)
	if err != nil {
		writeErr(w, "list children", err)
		return
	}
	out := make([]NoteDTO, 0, len(children))
	for _, c := range children {
		out = append(out, toNoteDTO(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": out})
}

// Subtree handles GET /notes/{id}/subtree.
func (h *Handler) Subtree(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid note id"))
		return
	}
	sub, err := h.svc.Subtree(id)
	if err != nil {
		writeErr(w, "get subtree", err)
		return
	}
	writeJSON(w, http.StatusOK, toSubtreeDTO(sub))
}

// CreateNote handles POST /notes.
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req CreateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.ParentID <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("parent_id is required"))
		return
	}
	id, err := h.svc.CreateNote(req.ParentID, req.Content, req.Position)
	if err != nil {
		writeErr(w, "create note", err)
		return
	}
	n, err := h.svc.GetNote(id)
	if err != nil {
		writeErr(w, "create note", err)
		return
	}
	writeJSON(w, http.StatusCreated, toNoteDTO(n))
}

// UpdateNote handles PUT /notes/{id} with optional If-Match optimistic
// concurrency on the content checksum.
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	id, ok := noteID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid note id"))
		return
	}
	var req UpdateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`)
	var err error
	if ifMatch != "" {
		err = h.svc.UpdateNoteChecked(id, req.Content, ifMatch)
	} else {
		err = h.svc.UpdateNote(id, req.Content, req.Force)
	}
	if err != nil {
		writeErr(w, "update note", err)
		return
	}
	n, err := h.svc.GetNote(id)
	if err != nil {
		writeErr(w, "update note", err)
		return
	}
	writeJSON(w, http.StatusOK, toNoteDTO(n))
}

// DeleteNote handles DELETE /notes/{id}.
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid note id"))
		return
	}
	if err := h.svc.DeleteNote(id); err != nil {
		writeErr(w, "delete note", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MoveNote handles POST /notes/{id}/move.
func (h *Handler) MoveNote(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid note id"))
		return
	}
	var req MoveNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.ParentID <= 0 || req.Position < 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("parent_id and position are required"))
		return
	}
	if err := h.svc.MoveNote(id, req.ParentID, req.Position); err != nil {
		writeErr(w, "move note", err)
		return
	}
	n, err := h.svc.GetNote(id)
	if err != nil {
		writeErr(w, "move note", err)
		return
	}
	writeJSON(w, http.StatusOK, toNoteDTO(n))
}

// SaveExpansion handles PUT /notes/{id}/expanded.
func (h *Handler) SaveExpansion(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid note id"))
		return
	}
	var req ExpandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := h.svc.SaveExpansionState(id, req.Expanded); err != nil {
		writeErr(w, "save expansion", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PasteSubtree handles POST /notes/{id}/paste.
func (h *Handler) PasteSubtree(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	id, ok := noteID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid note id"))
		return
	}
	var req SubtreeDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	newID, err := h.svc.PasteSubtree(id, fromSubtreeDTO(&req))
	if err != nil {
		writeErr(w, "paste subtree", err)
		return
	}
	n, err := h.svc.GetNote(newID)
	if err != nil {
		writeErr(w, "paste subtree", err)
		return
	}
	writeJSON(w, http.StatusCreated, toNoteDTO(n))
}

// ToggleTask handles POST /notes/{id}/task/toggle.
func (h *Handler) ToggleTask(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid note id"))
		return
	}
	status, err := h.svc.ToggleTask(id)
	if err != nil {
		writeErr(w, "toggle task", err)
		return
	}
	var body any
	if status == "" {
		body = map[string]any{"status": nil}
	} else {
		body = map[string]any{"status": status}
	}
	writeJSON(w, http.StatusOK, body)
}

// UpdateTaskDate handles PUT /notes/{id}/task/dates.
func (h *Handler) UpdateTaskDate(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid note id"))
		return
	}
	var req TaskDateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := h.svc.UpdateTaskDate(id, req.Field, req.Value); err != nil {
		writeErr(w, "update task date", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateTaskFields handles PUT /notes/{id}/task.
func (h *Handler) UpdateTaskFields(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid note id"))
		return
	}
	var req TaskFieldsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := h.svc.UpdateTaskFields(id, req.Priority, req.StartDate, req.DueDate); err != nil {
		writeErr(w, "update task fields", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /search. A blank query returns an empty result
// set, never the whole tree.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	results, err := h.svc.Search(q)
	if err != nil {
		writeErr(w, "search", err)
		return
	}
	out := make([]NoteDTO, 0, len(results))
	for _, n := range results {
		out = append(out, toNoteDTO(n))
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

// ActivityDates handles GET /activity/dates.
func (h *Handler) ActivityDates(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	dates, err := h.svc.ActivityDates(limit)
	if err != nil {
		writeErr(w, "activity dates", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dates": dates})
}

// ActivityNotes handles GET /activity/notes?date=YYYY-MM-DD&type=all.
func (h *Handler) ActivityNotes(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	activity := r.URL.Query().Get("type")
	if activity == "" {
		activity = store.ActivityAll
	}
	notes, err := h.svc.NotesOnDate(date, activity)
	if err != nil {
		writeErr(w, "activity notes", err)
		return
	}
	out := make([]ActivityNoteDTO, 0, len(notes))
	for _, an := range notes {
		out = append(out, ActivityNoteDTO{
			NoteDTO:      toNoteDTO(&an.Note),
			ActivityType: an.ActivityType,
			ActivityTime: an.ActivityTime,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": out})
}

// History handles GET /history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	commits, err := h.svc.History(limit)
	if err != nil {
		writeErr(w, "history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"commits":  commits,
		"can_undo": h.svc.CanUndo(),
		"can_redo": h.svc.CanRedo(),
	})
}

// CommitTree handles GET /history/tree.
func (h *Handler) CommitTree(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	commits, err := h.svc.CommitTree(limit)
	if err != nil {
		writeErr(w, "commit tree", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commits": commits})
}

// Undo handles POST /history/undo.
func (h *Handler) Undo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": h.svc.Undo()})
}

// Redo handles POST /history/redo.
func (h *Handler) Redo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": h.svc.Redo()})
}

// RebuildPaths handles POST /maintenance/rebuild-paths.
func (h *Handler) RebuildPaths(w http.ResponseWriter, _ *http.Request) {
	if err := h.svc.RebuildPaths(); err != nil {
		writeErr(w, "rebuild paths", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Workspace handles GET /workspace.
func (h *Handler) Workspace(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"path": h.svc.DatabasePath()})
}

// LoadWorkspace handles POST /workspace/load.
func (h *Handler) LoadWorkspace(w http.ResponseWriter, r *http.Request) {
	var req WorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.svc.LoadDatabase(req.Path); err != nil {
		writeErr(w, "load workspace", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": h.svc.DatabasePath()})
}

// SaveWorkspaceAs handles POST /workspace/save-as.
func (h *Handler) SaveWorkspaceAs(w http.ResponseWriter, r *http.Request) {
	var req WorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.svc.SaveDatabaseAs(req.Path); err != nil {
		writeErr(w, "save workspace", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": h.svc.DatabasePath()})
}
