package history

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testVC creates a version-controlled database file in a temp dir and
// returns the VersionControl plus the file path.
func testVC(t *testing.T) (*VersionControl, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "outline.db")
	writeFile(t, path, "v0")

	vc, err := Open(path, 0, nil, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return vc, path
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestOpenCreatesInitialCommit(t *testing.T) {
	vc, _ := testVC(t)

	commits, err := vc.History(10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(commits) != 1 {
		t.Fatalf("commit count = %d, want 1", len(commits))
	}
	if commits[0].Message != "Initial database state" {
		t.Errorf("message = %q", commits[0].Message)
	}
	if commits[0].Author != "Othala" {
		t.Errorf("author = %q", commits[0].Author)
	}
	if vc.CanUndo() {
		t.Error("fresh repository should have nothing to undo")
	}
}

func TestCommitAdvancesUndoStack(t *testing.T) {
	vc, path := testVC(t)

	writeFile(t, path, "v1")
	if !vc.Commit("Change to v1") {
		t.Fatal("Commit returned false")
	}

	if !vc.CanUndo() {
		t.Error("expected an undo target after a commit")
	}
	if vc.CanRedo() {
		t.Error("redo should be empty after a fresh commit")
	}

	commits, _ := vc.History(10)
	if len(commits) != 2 || commits[0].Message != "Change to v1" {
		t.Fatalf("history = %+v", commits)
	}
}

func TestUndoRedoRoundTrip(t *testing.T) {
	vc, path := testVC(t)

	writeFile(t, path, "v1")
	vc.Commit("Change to v1")
	writeFile(t, path, "v2")
	vc.Commit("Change to v2")

	if !vc.Undo() {
		t.Fatal("Undo returned false")
	}
	if got := readFile(t, path); got != "v1" {
		t.Errorf("after undo file = %q, want v1", got)
	}
	if !vc.CanRedo() {
		t.Error("redo target expected after undo")
	}

	if !vc.Undo() {
		t.Fatal("second Undo returned false")
	}
	if got := readFile(t, path); got != "v0" {
		t.Errorf("after second undo file = %q, want v0", got)
	}
	if vc.CanUndo() {
		t.Error("undo stack should be exhausted")
	}

	if !vc.Redo() {
		t.Fatal("Redo returned false")
	}
	if got := readFile(t, path); got != "v1" {
		t.Errorf("after redo file = %q, want v1", got)
	}
	if !vc.Redo() {
		t.Fatal("second Redo returned false")
	}
	if got := readFile(t, path); got != "v2" {
		t.Errorf("after second redo file = %q, want v2", got)
	}
	if vc.CanRedo() {
		t.Error("redo stack should be exhausted")
	}
}

func TestUndoOnEmptyStack(t *testing.T) {
	vc, path := testVC(t)
	if vc.Undo() {
		t.Error("Undo on empty stack should return false")
	}
	if got := readFile(t, path); got != "v0" {
		t.Errorf("file changed by failed undo: %q", got)
	}
	if vc.Redo() {
		t.Error("Redo on empty stack should return false")
	}
}

func TestNewCommitClearsRedo(t *testing.T) {
	vc, path := testVC(t)

	writeFile(t, path, "v1")
	vc.Commit("Change to v1")
	vc.Undo()
	if !vc.CanRedo() {
		t.Fatal("redo expected after undo")
	}

	writeFile(t, path, "fork")
	vc.Commit("Diverge")
	if vc.CanRedo() {
		t.Error("a new commit must invalidate pending redo")
	}
}

func TestUndoPreservesDisplacedCommits(t *testing.T) {
	vc, path := testVC(t)

	writeFile(t, path, "v1")
	vc.Commit("Change to v1")
	head, err := vc.Head()
	if err != nil {
		t.Fatal(err)
	}
	vc.Undo()

	// The displaced commit must stay reachable via a preservation branch.
	commits, err := vc.CommitTree(50)
	if err != nil {
		t.Fatalf("CommitTree: %v", err)
	}
	found := false
	for _, c := range commits {
		if c.ID != head {
			continue
		}
		found = true
		branch := false
		for _, r := range c.Refs {
			if strings.HasPrefix(r, "undone-") || strings.HasPrefix(r, "stack-") {
				branch = true
			}
		}
		if !branch {
			t.Errorf("displaced commit refs = %v, want a preservation branch", c.Refs)
		}
	}
	if !found {
		t.Error("displaced commit missing from commit tree")
	}
}

func TestCommitTreeMarksHead(t *testing.T) {
	vc, path := testVC(t)
	writeFile(t, path, "v1")
	vc.Commit("Change to v1")

	head, _ := vc.Head()
	commits, err := vc.CommitTree(50)
	if err != nil {
		t.Fatal(err)
	}
	heads := 0
	for _, c := range commits {
		if c.IsHead {
			heads++
			if c.ID != head {
				t.Errorf("IsHead on %s, HEAD is %s", c.ID, head)
			}
		}
	}
	if heads != 1 {
		t.Errorf("head count = %d, want 1", heads)
	}
}

func TestReopenRebuildsUndoStack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "outline.db")
	writeFile(t, path, "v0")

	vc, err := Open(path, 0, nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, "v1")
	vc.Commit("Change to v1")
	writeFile(t, path, "v2")
	vc.Commit("Change to v2")

	// A fresh instance on the same directory derives undo from ancestry.
	vc2, err := Open(path, 0, nil, testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !vc2.CanUndo() {
		t.Fatal("rebuilt instance should be able to undo")
	}
	if vc2.CanRedo() {
		t.Error("redo is not derivable from ancestry")
	}
	if !vc2.Undo() {
		t.Fatal("Undo after rebuild returned false")
	}
	if got := readFile(t, path); got != "v1" {
		t.Errorf("after rebuilt undo file = %q, want v1", got)
	}
}

func TestUndoStackBound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "outline.db")
	writeFile(t, path, "v0")

	vc, err := Open(path, 3, nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 6; i++ {
		writeFile(t, path, strings.Repeat("x", i+1))
		vc.Commit("bump")
	}
	if len(vc.undo) != 3 {
		t.Errorf("undo depth = %d, want 3", len(vc.undo))
	}
}

func TestConcurrentCommits(t *testing.T) {
	vc, path := testVC(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = os.WriteFile(path, []byte(fmt.Sprintf("writer %d", n)), 0o644)
			vc.Commit(fmt.Sprintf("Concurrent change %d", n))
		}(i)
	}
	wg.Wait()

	if got := len(vc.undo); got != 8 {
		t.Errorf("undo depth = %d, want 8", got)
	}
	commits, err := vc.History(20)
	if err != nil {
		t.Fatalf("History after concurrent commits: %v", err)
	}
	if len(commits) != 9 {
		t.Errorf("commit count = %d, want 9", len(commits))
	}
}

func TestReopenAppliesUndoBound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "outline.db")
	writeFile(t, path, "v0")

	vc, err := Open(path, 2, nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		writeFile(t, path, strings.Repeat("y", i+1))
		vc.Commit("bump")
	}

	// The rebuilt stack must honour the configured bound, not just the
	// ancestry walk cap.
	vc2, err := Open(path, 2, nil, testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := len(vc2.undo); got != 2 {
		t.Errorf("rebuilt undo depth = %d, want 2", got)
	}
}

func TestFlushRunsBeforeCommit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "outline.db")
	writeFile(t, path, "stale")

	flushed := 0
	flush := func() error {
		flushed++
		writeFile(t, path, "flushed")
		return nil
	}
	vc, err := Open(path, 0, flush, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if flushed == 0 {
		t.Fatal("flush should run before the initial commit")
	}

	vc.Commit("snapshot")
	vc.Undo()
	if got := readFile(t, path); got != "flushed" {
		t.Errorf("initial commit captured %q, want flushed content", got)
	}
}
