// Package outline coordinates the record store and the snapshot
// history: every structural or task mutation runs against the store in
// one transaction and, on success, is snapshotted into the commit log.
package outline

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/checksum"
	"github.com/starford/othala/internal/history"
	"github.com/starford/othala/internal/store"
)

// Event kinds published to the notify callback after mutations.
const (
	EventNoteCreated     = "note.created"
	EventNoteUpdated     = "note.updated"
	EventNoteDeleted     = "note.deleted"
	EventNoteMoved       = "note.moved"
	EventTaskUpdated     = "task.updated"
	EventHistoryReverted = "history.reverted"
	EventWorkspaceBound  = "workspace.changed"
)

// NotifyFunc receives change events for the external UI collaborator.
// id is 0 for events that are not tied to a single note.
type NotifyFunc func(kind string, id int64)

// Service is the core entry point for external collaborators. It owns
// one store/history pair bound to a single database path; switching the
// path fully re-binds both.
//
// Snapshot commits never fail a mutation: the store write has already
// committed, so history failures are logged and swallowed.
//
// Mutations and history operations hold the write lock, serialising the
// store transaction and its snapshot commit as one unit; reads share
// the read lock.
type Service struct {
	mu     sync.RWMutex
	db     *store.DB
	vcs    *history.VersionControl
	path   string
	logger *slog.Logger
	notify NotifyFunc

	maxUndo int
}

// Open creates a service bound to the database at path, initialising
// schema and commit log as needed.
func Open(path string, maxUndo int, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{path: path, logger: logger, maxUndo: maxUndo}

	db, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	s.db = db

	vcs, err := history.Open(path, maxUndo, s.flushStore, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.vcs = vcs
	return s, nil
}

// flushStore checkpoints pending WAL writes so the file on disk is
// complete before it is staged. Only called while a mutation holds the
// service lock, so s.db is stable and open here.
func (s *Service) flushStore() error {
	if s.db == nil {
		return nil
	}
	return s.db.Checkpoint()
}

// SetNotify installs the event callback. Call before serving traffic.
func (s *Service) SetNotify(fn NotifyFunc) { s.notify = fn }

func (s *Service) emit(kind string, id int64) {
	if s.notify != nil {
		s.notify(kind, id)
	}
}

// snapshot asks history for a commit and logs (only) on failure.
func (s *Service) snapshot(message string) {
	if !s.vcs.Commit(message) {
		s.logger.Warn("outline: snapshot missed", slog.String("message", message))
	}
}

// Close releases the store connection.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// truncate shortens content for history messages.
func truncate(content string, n int) string {
	if content == "" {
		return "(empty)"
	}
	runes := []rune(content)
	if len(runes) <= n {
		return content
	}
	return string(runes[:n])
}

// --- structural operations ---

// CreateNote creates a note under parentID, appended when position is
// nil, and snapshots the result.
func (s *Service) CreateNote(parentID int64, content string, position *int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.db.CreateNote(parentID, content, position)
	if err != nil {
		return 0, err
	}
	s.snapshot(fmt.Sprintf("Create note %d: %s", id, truncate(content, 50)))
	s.emit(EventNoteCreated, id)
	return id, nil
}

// UpdateNote replaces content. Unchanged content with force unset is a
// complete no-op: no write, no snapshot, no event.
func (s *Service) UpdateNote(id int64, content string, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed, err := s.db.UpdateNote(id, content, force)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	s.snapshot(fmt.Sprintf("Update note %d: %s", id, truncate(content, 50)))
	s.emit(EventNoteUpdated, id)
	return nil
}

// UpdateNoteChecked is UpdateNote with optimistic concurrency: when
// ifMatch is non-empty it must equal the SHA-256 checksum of the
// current content, otherwise ErrConflict is returned and nothing is
// written.
func (s *Service) UpdateNoteChecked(id int64, content, ifMatch string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ifMatch != "" {
		n, err := s.db.GetNote(id)
		if err != nil {
			return err
		}
		if checksum.Content(n.Content) != ifMatch {
			return fmt.Errorf("outline: note %d content changed: %w", id, apperr.ErrConflict)
		}
	}

	changed, err := s.db.UpdateNote(id, content, false)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	s.snapshot(fmt.Sprintf("Update note %d: %s", id, truncate(content, 50)))
	s.emit(EventNoteUpdated, id)
	return nil
}

// DeleteNote removes a note and its whole subtree, tasks included.
func (s *Service) DeleteNote(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := s.db.DeleteNote(id)
	if err != nil {
		return err
	}
	s.snapshot(fmt.Sprintf("Delete note %d: %s", id, truncate(content, 50)))
	s.emit(EventNoteDeleted, id)
	return nil
}

// MoveNote relocates a note (and subtree) under newParentID.
func (s *Service) MoveNote(id, newParentID int64, newPosition int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.MoveNote(id, newParentID, newPosition); err != nil {
		return err
	}
	s.snapshot(fmt.Sprintf("Move note %d to parent %d", id, newParentID))
	s.emit(EventNoteMoved, id)
	return nil
}

// RebuildPaths repairs path/depth drift across the whole tree.
func (s *Service) RebuildPaths() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.RebuildPaths(); err != nil {
		return err
	}
	s.snapshot("Rebuild note paths")
	return nil
}

// SaveExpansionState persists UI-only expansion state: no modified_at
// bump, no snapshot, no event.
func (s *Service) SaveExpansionState(id int64, expanded bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.SaveExpansionState(id, expanded)
}

// PasteSubtree re-creates a copied subtree under parentID, task rows
// included, appending at the end of the parent's children. One snapshot
// covers the whole paste.
func (s *Service) PasteSubtree(parentID int64, sub *store.Subtree) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rootID, count, err := s.pasteRec(parentID, sub)
	if err != nil {
		return 0, err
	}
	s.snapshot(fmt.Sprintf("Paste %d note(s) under %d", count, parentID))
	s.emit(EventNoteCreated, rootID)
	return rootID, nil
}

func (s *Service) pasteRec(parentID int64, sub *store.Subtree) (int64, int, error) {
	id, err := s.db.CreateNote(parentID, sub.Content, nil)
	if err != nil {
		return 0, 0, err
	}
	count := 1
	if sub.Task != nil {
		if err := s.db.PutTask(id, sub.Task); err != nil {
			return 0, 0, err
		}
	}
	for _, child := range sub.Children {
		_, n, err := s.pasteRec(id, child)
		if err != nil {
			return 0, 0, err
		}
		count += n
	}
	return id, count, nil
}

// --- task operations ---

// ToggleTask advances the note's task cycle and snapshots the change.
// Returns the new status, "" when the task row was removed.
func (s *Service) ToggleTask(id int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, err := s.db.ToggleTask(id)
	if err != nil {
		return "", err
	}
	if status == "" {
		s.snapshot(fmt.Sprintf("Remove task status from note %d", id))
	} else {
		s.snapshot(fmt.Sprintf("Toggle task %d to %s", id, status))
	}
	s.emit(EventTaskUpdated, id)
	return status, nil
}

// UpdateTaskDate sets or clears the start/due date of a note's task.
func (s *Service) UpdateTaskDate(id int64, field string, value *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.UpdateTaskDate(id, field, value); err != nil {
		return err
	}
	desc := "cleared"
	if value != nil {
		desc = value.Format("2006-01-02 15:04")
	}
	s.snapshot(fmt.Sprintf("Update task %d %s date to %s", id, field, desc))
	s.emit(EventTaskUpdated, id)
	return nil
}

// UpdateTaskFields batch-updates priority and/or dates.
func (s *Service) UpdateTaskFields(id int64, priority *int, start, due *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if priority == nil && start == nil && due == nil {
		return nil
	}
	if err := s.db.UpdateTaskFields(id, priority, start, due); err != nil {
		return err
	}

	changes := []string{}
	if priority != nil {
		changes = append(changes, fmt.Sprintf("priority to %d", *priority))
	}
	if start != nil {
		changes = append(changes, fmt.Sprintf("start date to %s", start.Format("2006-01-02")))
	}
	if due != nil {
		changes = append(changes, fmt.Sprintf("due date to %s", due.Format("2006-01-02")))
	}
	msg := fmt.Sprintf("Update task %d: %s", id, joinComma(changes))
	s.snapshot(msg)
	s.emit(EventTaskUpdated, id)
	return nil
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

// --- reads ---

// GetNote returns a note joined with its task row.
func (s *Service) GetNote(id int64) (*store.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.GetNote(id)
}

// Children returns a note's direct children in display order.
func (s *Service) Children(parentID int64) ([]*store.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.Children(parentID)
}

// Subtree returns a note with all descendants nested.
func (s *Service) Subtree(id int64) (*store.Subtree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.GetSubtree(id)
}

// Search returns notes whose content contains term.
func (s *Service) Search(term string) ([]*store.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.SearchContent(term)
}

// NotesOnDate returns notes with the given activity on a calendar date.
func (s *Service) NotesOnDate(date, activity string) ([]*store.ActivityNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.NotesOnDate(date, activity)
}

// ActivityDates returns recent dates with note activity.
func (s *Service) ActivityDates(limit int) ([]store.ActivityDate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.ActivityDates(limit)
}

// --- history operations ---

// Undo restores the store file to the previous snapshot. The store
// connection is flushed and closed before the destructive reset and
// reopened afterwards, so all in-memory projections must be reloaded by
// the caller (the emitted event signals this).
func (s *Service) Undo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.vcs.CanUndo() {
		return false
	}
	ok := s.withStoreClosed(func() bool { return s.vcs.Undo() })
	if ok {
		s.emit(EventHistoryReverted, 0)
	}
	return ok
}

// Redo restores the most recently undone snapshot.
func (s *Service) Redo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.vcs.CanRedo() {
		return false
	}
	ok := s.withStoreClosed(func() bool { return s.vcs.Redo() })
	if ok {
		s.emit(EventHistoryReverted, 0)
	}
	return ok
}

// withStoreClosed runs fn with the store connection flushed and closed,
// then reopens the store regardless of the outcome. A hard reset that
// races with an open SQLite handle can leave a torn file, so the close
// is not optional.
func (s *Service) withStoreClosed(fn func() bool) bool {
	if err := s.db.Checkpoint(); err != nil {
		s.logger.Warn("outline: checkpoint before reset failed", slog.String("error", err.Error()))
	}
	if err := s.db.Close(); err != nil {
		s.logger.Warn("outline: close before reset failed", slog.String("error", err.Error()))
	}
	s.db = nil

	ok := fn()

	for attempt := 1; attempt <= 3; attempt++ {
		db, err := store.Open(s.path)
		if err == nil {
			s.db = db
			return ok
		}
		s.logger.Warn("outline: reopen store failed",
			slog.Int("attempt", attempt), slog.String("path", s.path), slog.String("error", err.Error()))
		if attempt < 3 {
			time.Sleep(250 * time.Millisecond)
		}
	}

	// The reset already happened and the stacks moved with it, so a
	// reopen failure must not misreport the revert. The store stays
	// unbound until a reload succeeds.
	s.logger.Error("outline: store unavailable after reset", slog.String("path", s.path))
	return ok
}

// CanUndo reports whether an undo target exists.
func (s *Service) CanUndo() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vcs.CanUndo()
}

// CanRedo reports whether a redo target exists.
func (s *Service) CanRedo() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vcs.CanRedo()
}

// History returns the linear snapshot log from HEAD.
func (s *Service) History(limit int) ([]history.Commit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vcs.History(limit)
}

// CommitTree returns the full snapshot DAG including preservation branches.
func (s *Service) CommitTree(limit int) ([]history.TreeCommit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vcs.CommitTree(limit)
}

// --- store lifecycle ---

// DatabasePath returns the path of the currently bound store file.
func (s *Service) DatabasePath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

// LoadDatabase re-binds the service to a different store file,
// reinitialising both the store and its commit log.
func (s *Service) LoadDatabase(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := store.Open(path)
	if err != nil {
		return err
	}
	// The fresh connection may hold schema writes in the WAL; the file
	// must be complete before the commit log stages it.
	if err := db.Checkpoint(); err != nil {
		db.Close()
		return err
	}
	vcs, err := history.Open(path, s.maxUndo, s.flushStore, s.logger)
	if err != nil {
		db.Close()
		return err
	}

	if s.db != nil {
		_ = s.db.Checkpoint()
		_ = s.db.Close()
	}
	s.db = db
	s.vcs = vcs
	s.path = path
	s.snapshot(fmt.Sprintf("Load database %s", path))
	s.emit(EventWorkspaceBound, 0)
	return nil
}

// SaveDatabaseAs copies the current store file to path and re-binds the
// service (and its commit log) to the copy.
func (s *Service) SaveDatabaseAs(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot("Save before copy")
	if err := s.db.Checkpoint(); err != nil {
		return err
	}
	if err := copyFile(s.path, path); err != nil {
		return fmt.Errorf("outline: copy database: %w", err)
	}

	oldPath := s.path
	db, err := store.Open(path)
	if err != nil {
		return err
	}
	if err := db.Checkpoint(); err != nil {
		db.Close()
		return err
	}
	vcs, err := history.Open(path, s.maxUndo, s.flushStore, s.logger)
	if err != nil {
		db.Close()
		return err
	}

	_ = s.db.Close()
	s.db = db
	s.vcs = vcs
	s.path = path
	s.snapshot(fmt.Sprintf("Saved from %s", oldPath))
	s.emit(EventWorkspaceBound, 0)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
