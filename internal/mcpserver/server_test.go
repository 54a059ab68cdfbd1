package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/othala/internal/outline"
	"github.com/starford/othala/internal/store"
	"github.com/starford/othala/internal/testutil"
)

func testServer(t *testing.T) (*Server, *outline.Service) {
	t.Helper()
	svc := testutil.TestService(t)
	return New(svc), svc
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go doesn't expose a direct "call tool" test helper, so the
	// handler functions are exercised directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "read_note":
		result, err = srv.readNote(ctx, req)
	case "list_children":
		result, err = srv.listChildren(ctx, req)
	case "create_note":
		result, err = srv.createNote(ctx, req)
	case "update_note":
		result, err = srv.updateNote(ctx, req)
	case "move_note":
		result, err = srv.moveNote(ctx, req)
	case "delete_note":
		result, err = srv.deleteNote(ctx, req)
	case "toggle_task":
		result, err = srv.toggleTask(ctx, req)
	case "set_task_date":
		result, err = srv.setTaskDate(ctx, req)
	case "search_notes":
		result, err = srv.searchNotes(ctx, req)
	case "undo":
		result, err = srv.undo(ctx, req)
	case "redo":
		result, err = srv.redo(ctx, req)
	case "get_history":
		result, err = srv.getHistory(ctx, req)
	case "get_outline_contract":
		result, err = srv.getOutlineContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestCreateAndReadNote(t *testing.T) {
	srv, svc := testServer(t)

	r := callTool(t, srv, "create_note", map[string]interface{}{
		"parent_id": float64(store.RootID),
		"content":   "from the tool",
	})
	text := resultText(r)
	if !strings.HasPrefix(text, "created note ") {
		t.Fatalf("create result = %q", text)
	}

	children, err := svc.Children(store.RootID)
	if err != nil || len(children) != 1 {
		t.Fatalf("children = %v, %v", children, err)
	}
	id := children[0].ID

	r = callTool(t, srv, "read_note", map[string]interface{}{"id": float64(id)})
	var note noteJSON
	if err := json.Unmarshal([]byte(resultText(r)), &note); err != nil {
		t.Fatalf("read result not JSON: %v", err)
	}
	if note.Content != "from the tool" {
		t.Errorf("content = %q", note.Content)
	}
}

func TestListChildren(t *testing.T) {
	srv, svc := testServer(t)
	svc.CreateNote(store.RootID, "a", nil)
	svc.CreateNote(store.RootID, "b", nil)

	r := callTool(t, srv, "list_children", map[string]interface{}{"id": float64(store.RootID)})
	var notes []noteJSON
	if err := json.Unmarshal([]byte(resultText(r)), &notes); err != nil {
		t.Fatalf("list result not JSON: %v", err)
	}
	if len(notes) != 2 || notes[0].Content != "a" {
		t.Errorf("notes = %+v", notes)
	}
}

func TestReadNoteMissing(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "read_note", map[string]interface{}{"id": float64(9999)})
	if !r.IsError {
		t.Error("expected error for missing note")
	}
}

func TestDeleteAndUndoTools(t *testing.T) {
	srv, svc := testServer(t)
	id, _ := svc.CreateNote(store.RootID, "doomed", nil)

	r := callTool(t, srv, "delete_note", map[string]interface{}{"id": float64(id)})
	if r.IsError {
		t.Fatalf("delete failed: %s", resultText(r))
	}
	if _, err := svc.GetNote(id); err == nil {
		t.Fatal("note still present after delete")
	}

	r = callTool(t, srv, "undo", nil)
	if resultText(r) != "reverted to previous state" {
		t.Fatalf("undo result = %q", resultText(r))
	}
	if _, err := svc.GetNote(id); err != nil {
		t.Errorf("note not restored: %v", err)
	}

	r = callTool(t, srv, "redo", nil)
	if resultText(r) != "reapplied undone state" {
		t.Fatalf("redo result = %q", resultText(r))
	}
}

func TestToggleTaskTool(t *testing.T) {
	srv, svc := testServer(t)
	id, _ := svc.CreateNote(store.RootID, "task", nil)

	r := callTool(t, srv, "toggle_task", map[string]interface{}{"id": float64(id)})
	if !strings.Contains(resultText(r), "active") {
		t.Errorf("toggle result = %q", resultText(r))
	}
}

func TestSetTaskDateTool(t *testing.T) {
	srv, svc := testServer(t)
	id, _ := svc.CreateNote(store.RootID, "dated", nil)

	r := callTool(t, srv, "set_task_date", map[string]interface{}{
		"id":    float64(id),
		"field": "due",
		"date":  "2026-09-15",
	})
	if r.IsError {
		t.Fatalf("set date failed: %s", resultText(r))
	}
	n, _ := svc.GetNote(id)
	if n.Task == nil || n.Task.DueDate == nil {
		t.Fatalf("task = %+v", n.Task)
	}

	r = callTool(t, srv, "set_task_date", map[string]interface{}{
		"id":    float64(id),
		"field": "due",
		"date":  "next tuesday",
	})
	if !r.IsError {
		t.Error("expected error for unparseable date")
	}
}

func TestSearchTool(t *testing.T) {
	srv, svc := testServer(t)
	svc.CreateNote(store.RootID, "findable content", nil)

	r := callTool(t, srv, "search_notes", map[string]interface{}{"query": "findable"})
	var notes []noteJSON
	if err := json.Unmarshal([]byte(resultText(r)), &notes); err != nil {
		t.Fatalf("search result not JSON: %v", err)
	}
	if len(notes) != 1 {
		t.Errorf("hits = %d, want 1", len(notes))
	}
}

func TestMoveNoteTool(t *testing.T) {
	srv, svc := testServer(t)
	a, _ := svc.CreateNote(store.RootID, "a", nil)
	b, _ := svc.CreateNote(store.RootID, "b", nil)

	r := callTool(t, srv, "move_note", map[string]interface{}{
		"id":        float64(b),
		"parent_id": float64(a),
		"position":  float64(0),
	})
	if r.IsError {
		t.Fatalf("move failed: %s", resultText(r))
	}
	n, _ := svc.GetNote(b)
	if n.ParentID == nil || *n.ParentID != a {
		t.Errorf("parent = %v", n.ParentID)
	}
}

func TestGetHistoryTool(t *testing.T) {
	srv, svc := testServer(t)
	svc.CreateNote(store.RootID, "entry", nil)

	r := callTool(t, srv, "get_history", map[string]interface{}{})
	text := resultText(r)
	if !strings.Contains(text, "Create note") {
		t.Errorf("history = %q", text)
	}
}

func TestOutlineContract(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_outline_contract", nil)
	if !strings.Contains(resultText(r), "Othala Outline Contract") {
		t.Error("contract text missing")
	}
}
