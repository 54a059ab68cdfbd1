package outline

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/checksum"
	"github.com/starford/othala/internal/store"
)

func testService(t *testing.T) *Service {
	t.Helper()
	path := filepath.Join(t.TempDir(), "outline.db")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := Open(path, 100, logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

// eventRecorder collects notify callbacks for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *eventRecorder) record(kind string, id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind)
}

func (r *eventRecorder) has(kind string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == kind {
			return true
		}
	}
	return false
}

func TestCreateGetChildren(t *testing.T) {
	svc := testService(t)
	rec := &eventRecorder{}
	svc.SetNotify(rec.record)

	id, err := svc.CreateNote(store.RootID, "first note", nil)
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	if !rec.has(EventNoteCreated) {
		t.Error("note.created event not emitted")
	}

	n, err := svc.GetNote(id)
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if n.Content != "first note" {
		t.Errorf("content = %q", n.Content)
	}

	children, err := svc.Children(store.RootID)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 || children[0].ID != id {
		t.Fatalf("children = %+v", children)
	}
}

func TestMutationsAreSnapshotted(t *testing.T) {
	svc := testService(t)

	id, _ := svc.CreateNote(store.RootID, "snapshot me", nil)
	if err := svc.UpdateNote(id, "edited", false); err != nil {
		t.Fatal(err)
	}

	commits, err := svc.History(10)
	if err != nil {
		t.Fatal(err)
	}
	// Initial state + create + update.
	if len(commits) != 3 {
		t.Fatalf("commit count = %d, want 3", len(commits))
	}
	if !strings.HasPrefix(commits[0].Message, "Update note") {
		t.Errorf("newest message = %q", commits[0].Message)
	}
	if !strings.HasPrefix(commits[1].Message, "Create note") {
		t.Errorf("second message = %q", commits[1].Message)
	}
}

func TestUpdateNote_NoopSkipsSnapshot(t *testing.T) {
	svc := testService(t)
	id, _ := svc.CreateNote(store.RootID, "stable", nil)

	before, _ := svc.History(10)
	if err := svc.UpdateNote(id, "stable", false); err != nil {
		t.Fatal(err)
	}
	after, _ := svc.History(10)
	if len(after) != len(before) {
		t.Errorf("no-op update grew history from %d to %d", len(before), len(after))
	}
}

func TestUpdateNoteChecked(t *testing.T) {
	svc := testService(t)
	id, _ := svc.CreateNote(store.RootID, "guarded", nil)

	good := checksum.Content("guarded")
	if err := svc.UpdateNoteChecked(id, "edited", good); err != nil {
		t.Fatalf("matching checksum rejected: %v", err)
	}

	if err := svc.UpdateNoteChecked(id, "again", good); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("stale checksum: err = %v, want ErrConflict", err)
	}
	n, _ := svc.GetNote(id)
	if n.Content != "edited" {
		t.Errorf("conflicting write must not change content, got %q", n.Content)
	}
}

func TestDeleteUndoRedo(t *testing.T) {
	svc := testService(t)
	rec := &eventRecorder{}
	svc.SetNotify(rec.record)

	id, _ := svc.CreateNote(store.RootID, "precious", nil)
	child, _ := svc.CreateNote(id, "child", nil)

	if err := svc.DeleteNote(id); err != nil {
		t.Fatalf("DeleteNote: %v", err)
	}
	if _, err := svc.GetNote(id); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("note should be gone, err = %v", err)
	}

	if !svc.Undo() {
		t.Fatal("Undo returned false")
	}
	if !rec.has(EventHistoryReverted) {
		t.Error("history.reverted event not emitted")
	}
	n, err := svc.GetNote(id)
	if err != nil {
		t.Fatalf("note not restored: %v", err)
	}
	if n.Content != "precious" {
		t.Errorf("restored content = %q", n.Content)
	}
	if _, err := svc.GetNote(child); err != nil {
		t.Errorf("child not restored: %v", err)
	}

	if !svc.Redo() {
		t.Fatal("Redo returned false")
	}
	if _, err := svc.GetNote(id); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("redo should re-delete, err = %v", err)
	}
}

func TestUndoOnFreshService(t *testing.T) {
	svc := testService(t)
	if svc.Undo() {
		t.Error("nothing to undo on a fresh service")
	}
	if svc.Redo() {
		t.Error("nothing to redo on a fresh service")
	}
}

func TestServiceSurvivesUndoRedoCycle(t *testing.T) {
	svc := testService(t)
	id, _ := svc.CreateNote(store.RootID, "v1", nil)
	svc.UpdateNote(id, "v2", false)
	svc.Undo()
	svc.Redo()

	// The store connection was swapped twice; normal operation resumes.
	next, err := svc.CreateNote(store.RootID, "after cycle", nil)
	if err != nil {
		t.Fatalf("CreateNote after undo/redo: %v", err)
	}
	if _, err := svc.GetNote(next); err != nil {
		t.Fatal(err)
	}
}

func TestToggleTaskMessages(t *testing.T) {
	svc := testService(t)
	id, _ := svc.CreateNote(store.RootID, "chore", nil)

	for _, want := range []string{store.StatusActive, store.StatusComplete, store.StatusCancelled, ""} {
		got, err := svc.ToggleTask(id)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("toggle = %q, want %q", got, want)
		}
	}

	commits, _ := svc.History(10)
	if !strings.HasPrefix(commits[0].Message, "Remove task status") {
		t.Errorf("newest message = %q", commits[0].Message)
	}
	if !strings.Contains(commits[1].Message, "cancelled") {
		t.Errorf("second message = %q", commits[1].Message)
	}
}

func TestUpdateTaskFieldsMessage(t *testing.T) {
	svc := testService(t)
	id, _ := svc.CreateNote(store.RootID, "plan", nil)

	prio := 2
	due := time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC)
	if err := svc.UpdateTaskFields(id, &prio, nil, &due); err != nil {
		t.Fatal(err)
	}

	commits, _ := svc.History(5)
	msg := commits[0].Message
	if !strings.Contains(msg, "priority to 2") || !strings.Contains(msg, "due date to 2026-09-30") {
		t.Errorf("message = %q", msg)
	}
}

func TestSaveExpansionStateSkipsSnapshot(t *testing.T) {
	svc := testService(t)
	id, _ := svc.CreateNote(store.RootID, "fold", nil)

	before, _ := svc.History(10)
	if err := svc.SaveExpansionState(id, false); err != nil {
		t.Fatal(err)
	}
	after, _ := svc.History(10)
	if len(after) != len(before) {
		t.Error("expansion state must not snapshot")
	}
}

func TestPasteSubtree(t *testing.T) {
	svc := testService(t)

	src, _ := svc.CreateNote(store.RootID, "source", nil)
	childID, _ := svc.CreateNote(src, "source child", nil)
	if _, err := svc.ToggleTask(childID); err != nil {
		t.Fatal(err)
	}
	sub, err := svc.Subtree(src)
	if err != nil {
		t.Fatal(err)
	}

	target, _ := svc.CreateNote(store.RootID, "target", nil)
	newID, err := svc.PasteSubtree(target, sub)
	if err != nil {
		t.Fatalf("PasteSubtree: %v", err)
	}
	if newID == src {
		t.Fatal("paste must create new ids")
	}

	copied, err := svc.Subtree(newID)
	if err != nil {
		t.Fatal(err)
	}
	if copied.Content != "source" || len(copied.Children) != 1 {
		t.Fatalf("copied subtree = %+v", copied)
	}
	cc := copied.Children[0]
	if cc.Content != "source child" {
		t.Errorf("copied child content = %q", cc.Content)
	}
	if cc.Task == nil || cc.Task.Status != store.StatusActive {
		t.Errorf("copied child task = %+v", cc.Task)
	}

	// One snapshot for the whole paste.
	commits, _ := svc.History(5)
	if !strings.HasPrefix(commits[0].Message, "Paste 2 note(s)") {
		t.Errorf("newest message = %q", commits[0].Message)
	}
}

func TestSearchAndActivity(t *testing.T) {
	svc := testService(t)
	id, _ := svc.CreateNote(store.RootID, "find the needle", nil)

	hits, err := svc.Search("needle")
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != id {
		t.Fatalf("hits = %+v", hits)
	}

	empty, err := svc.Search("  ")
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Error("blank search must match nothing")
	}

	today := time.Now().UTC().Format("2006-01-02")
	notes, err := svc.NotesOnDate(today, store.ActivityCreated)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, an := range notes {
		if an.ID == id {
			found = true
		}
	}
	if !found {
		t.Error("created note missing from today's activity")
	}
}

func TestLoadDatabase(t *testing.T) {
	svc := testService(t)
	svc.CreateNote(store.RootID, "old workspace", nil)

	other := filepath.Join(t.TempDir(), "other.db")
	if err := svc.LoadDatabase(other); err != nil {
		t.Fatalf("LoadDatabase: %v", err)
	}
	if svc.DatabasePath() != other {
		t.Errorf("path = %q, want %q", svc.DatabasePath(), other)
	}

	// The new workspace is a fresh tree: only the root.
	children, err := svc.Children(store.RootID)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 0 {
		t.Errorf("fresh workspace has %d root children", len(children))
	}
}

func TestSaveDatabaseAs(t *testing.T) {
	svc := testService(t)
	id, _ := svc.CreateNote(store.RootID, "carry me over", nil)

	dst := filepath.Join(t.TempDir(), "copy.db")
	if err := svc.SaveDatabaseAs(dst); err != nil {
		t.Fatalf("SaveDatabaseAs: %v", err)
	}
	if svc.DatabasePath() != dst {
		t.Errorf("path = %q, want %q", svc.DatabasePath(), dst)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("copy missing: %v", err)
	}

	n, err := svc.GetNote(id)
	if err != nil {
		t.Fatalf("note missing in copy: %v", err)
	}
	if n.Content != "carry me over" {
		t.Errorf("content = %q", n.Content)
	}
}

func TestConcurrentMutations(t *testing.T) {
	svc := testService(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := svc.CreateNote(store.RootID, fmt.Sprintf("concurrent %d", n), nil); err != nil {
				t.Errorf("CreateNote: %v", err)
			}
		}(i)
	}
	wg.Wait()

	children, err := svc.Children(store.RootID)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 8 {
		t.Fatalf("child count = %d, want 8", len(children))
	}
	for i, c := range children {
		if c.Position != i {
			t.Errorf("child %d position = %d, want %d", c.ID, c.Position, i)
		}
	}

	commits, err := svc.History(20)
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 9 {
		t.Errorf("commit count = %d, want 9 (initial plus one per create)", len(commits))
	}
}

func TestUndoResultSurvivesReopenFailure(t *testing.T) {
	svc := testService(t)

	// Replace the database file with a directory while the store is
	// closed so reopening fails; the reset outcome must still be
	// reported truthfully.
	ok := svc.withStoreClosed(func() bool {
		_ = os.Remove(svc.path)
		_ = os.Mkdir(svc.path, 0o755)
		return true
	})
	if !ok {
		t.Fatal("a successful reset must be reported even when the store cannot reopen")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("", 50); got != "(empty)" {
		t.Errorf("truncate empty = %q", got)
	}
	if got := truncate("short", 50); got != "short" {
		t.Errorf("truncate short = %q", got)
	}
	long := strings.Repeat("я", 60)
	if got := truncate(long, 50); got != strings.Repeat("я", 50) {
		t.Errorf("truncate long = %q", got)
	}
}
