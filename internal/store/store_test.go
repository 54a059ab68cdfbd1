package store

import (
	"path/filepath"
	"strconv"
	"testing"
)

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "outline-test.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// childIDs returns direct child ids of parentID in sibling order.
func childIDs(t *testing.T, db *DB, parentID int64) []int64 {
	t.Helper()
	children, err := db.Children(parentID)
	if err != nil {
		t.Fatalf("Children(%d): %v", parentID, err)
	}
	out := make([]int64, 0, len(children))
	for _, c := range children {
		out = append(out, c.ID)
	}
	return out
}

// mustCreate appends a note under parentID and returns its id.
func mustCreate(t *testing.T, db *DB, parentID int64, content string) int64 {
	t.Helper()
	id, err := db.CreateNote(parentID, content, nil)
	if err != nil {
		t.Fatalf("CreateNote(%d, %q): %v", parentID, content, err)
	}
	return id
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM notes`).Scan(&count); err != nil {
		t.Fatalf("notes table missing: %v", err)
	}
	if err := db.conn.QueryRow(`SELECT count(*) FROM tasks`).Scan(&count); err != nil {
		t.Fatalf("tasks table missing: %v", err)
	}
}

func TestRootBootstrap(t *testing.T) {
	db := testDB(t)
	root, err := db.GetNote(RootID)
	if err != nil {
		t.Fatalf("GetNote(root): %v", err)
	}
	if root.ParentID != nil {
		t.Errorf("root parent = %v, want nil", *root.ParentID)
	}
	if root.Path != "1" || root.Depth != 0 {
		t.Errorf("root path/depth = %q/%d, want \"1\"/0", root.Path, root.Depth)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outline-test.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	id := mustCreate(t, db, RootID, "survives reopen")
	db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer db.Close()

	var roots int
	if err := db.conn.QueryRow(`SELECT count(*) FROM notes WHERE parent_id IS NULL`).Scan(&roots); err != nil {
		t.Fatal(err)
	}
	if roots != 1 {
		t.Errorf("root count after reopen = %d, want 1", roots)
	}
	n, err := db.GetNote(id)
	if err != nil {
		t.Fatalf("GetNote after reopen: %v", err)
	}
	if n.Content != "survives reopen" {
		t.Errorf("content = %q", n.Content)
	}
}

func TestCheckpoint(t *testing.T) {
	db := testDB(t)
	mustCreate(t, db, RootID, "wal me")
	if err := db.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
}

func TestGetNote_NotFound(t *testing.T) {
	db := testDB(t)
	if _, err := db.GetNote(9999); err == nil {
		t.Fatal("expected error for missing note")
	}
}
