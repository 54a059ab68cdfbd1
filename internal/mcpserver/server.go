// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Othala outline tools for LLM integration via stdio
// transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/othala/internal/outline"
	"github.com/starford/othala/internal/store"
)

// Server wraps the MCP server with Othala tools.
type Server struct {
	mcp *server.MCPServer
	svc *outline.Service
}

// New creates a new MCP server with all Othala tools registered.
func New(svc *outline.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Othala",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read a single note with its task state."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Note id")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("list_children",
		mcp.WithDescription("List the direct children of a note in sibling order. "+
			"Start from note 1 (the root) to discover the tree."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Parent note id")),
	), s.listChildren)

	s.mcp.AddTool(mcp.NewTool("create_note",
		mcp.WithDescription("Create a note under the given parent. Read the outline "+
			"contract first via the get_outline_contract tool or the "+
			"othala://outline-contract resource."),
		mcp.WithNumber("parent_id", mcp.Required(), mcp.Description("Parent note id")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Note content")),
		mcp.WithNumber("position", mcp.Description("Optional sibling slot to insert before (0-based); omit to append")),
	), s.createNote)

	s.mcp.AddTool(mcp.NewTool("update_note",
		mcp.WithDescription("Replace the content of an existing note."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Note id")),
		mcp.WithString("content", mcp.Required(), mcp.Description("New note content")),
	), s.updateNote)

	s.mcp.AddTool(mcp.NewTool("move_note",
		mcp.WithDescription("Move a note (and its whole subtree) to a new parent and position."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Note id")),
		mcp.WithNumber("parent_id", mcp.Required(), mcp.Description("New parent note id")),
		mcp.WithNumber("position", mcp.Required(), mcp.Description("Sibling slot to insert before (0-based)")),
	), s.moveNote)

	s.mcp.AddTool(mcp.NewTool("delete_note",
		mcp.WithDescription("Delete a note and its whole subtree. Recoverable via undo."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Note id")),
	), s.deleteNote)

	s.mcp.AddTool(mcp.NewTool("toggle_task",
		mcp.WithDescription("Cycle a note's task status: none -> active -> complete -> cancelled -> none."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Note id")),
	), s.toggleTask)

	s.mcp.AddTool(mcp.NewTool("set_task_date",
		mcp.WithDescription("Set or clear a task's start or due date."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Note id")),
		mcp.WithString("field", mcp.Required(), mcp.Description("Either 'start' or 'due'")),
		mcp.WithString("date", mcp.Description("ISO-8601 date (YYYY-MM-DD); empty or omitted clears the field")),
	), s.setTaskDate)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Substring search through note content. A blank query matches nothing."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("undo",
		mcp.WithDescription("Revert the outline to the state before the last mutation."),
	), s.undo)

	s.mcp.AddTool(mcp.NewTool("redo",
		mcp.WithDescription("Reapply the most recently undone mutation."),
	), s.redo)

	s.mcp.AddTool(mcp.NewTool("get_history",
		mcp.WithDescription("List recent version snapshots, newest first."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of entries (default 20)")),
	), s.getHistory)

	s.mcp.AddTool(mcp.NewTool("get_outline_contract",
		mcp.WithDescription("Returns the outline data model contract. "+
			"Call this before mutating the tree."),
	), s.getOutlineContract)

	// Resource: outline contract.
	s.mcp.AddResource(
		mcp.NewResource("othala://outline-contract", "Outline Contract",
			mcp.WithResourceDescription("Data model and mutation rules for the Othala outline."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readOutlineContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// noteJSON is the wire shape returned by read tools.
type noteJSON struct {
	ID       int64     `json:"id"`
	ParentID *int64    `json:"parent_id,omitempty"`
	Content  string    `json:"content"`
	Position int       `json:"position"`
	Task     *taskJSON `json:"task,omitempty"`
}

type taskJSON struct {
	Status    string `json:"status"`
	Priority  int    `json:"priority"`
	StartDate string `json:"start_date,omitempty"`
	DueDate   string `json:"due_date,omitempty"`
}

func toNoteJSON(n *store.Note) noteJSON {
	out := noteJSON{ID: n.ID, ParentID: n.ParentID, Content: n.Content, Position: n.Position}
	if n.Task != nil {
		t := &taskJSON{Status: n.Task.Status, Priority: n.Task.Priority}
		if n.Task.StartDate != nil {
			t.StartDate = n.Task.StartDate.Format("2006-01-02")
		}
		if n.Task.DueDate != nil {
			t.DueDate = n.Task.DueDate.Format("2006-01-02")
		}
		out.Task = t
	}
	return out
}

func requireID(req mcp.CallToolRequest, key string) (int64, error) {
	v, err := req.RequireInt(key)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be a positive note id", key)
	}
	return int64(v), nil
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(req, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.GetNote(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("note %d: %v", id, err)), nil
	}
	out, _ := json.MarshalIndent(toNoteJSON(n), "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listChildren(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(req, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	children, err := s.svc.Children(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out := make([]noteJSON, 0, len(children))
	for _, c := range children {
		out = append(out, toNoteJSON(c))
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) createNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	parentID, err := requireID(req, "parent_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var position *int
	if p, perr := req.RequireInt("position"); perr == nil {
		position = &p
	}
	id, err := s.svc.CreateNote(parentID, content, position)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created note %d", id)), nil
}

func (s *Server) updateNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(req, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.UpdateNote(id, content, false); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("updated note %d", id)), nil
}

func (s *Server) moveNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(req, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	parentID, err := requireID(req, "parent_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	position, err := req.RequireInt("position")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.MoveNote(id, parentID, position); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("moved note %d to parent %d position %d", id, parentID, position)), nil
}

func (s *Server) deleteNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(req, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.DeleteNote(id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted note %d and its subtree", id)), nil
}

func (s *Server) toggleTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(req, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	status, err := s.svc.ToggleTask(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if status == "" {
		return mcp.NewToolResultText(fmt.Sprintf("note %d is no longer a task", id)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("note %d task status is now %s", id, status)), nil
}

func (s *Server) setTaskDate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(req, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	field, err := req.RequireString("field")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var value *time.Time
	if raw := req.GetString("date", ""); raw != "" {
		t, perr := time.Parse("2006-01-02", raw)
		if perr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid date %q: use YYYY-MM-DD", raw)), nil
		}
		value = &t
	}
	if err := s.svc.UpdateTaskDate(id, field, value); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if value == nil {
		return mcp.NewToolResultText(fmt.Sprintf("cleared %s date on note %d", field, id)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("set %s date on note %d to %s", field, id, value.Format("2006-01-02"))), nil
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(query)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out := make([]noteJSON, 0, len(results))
	for _, n := range results {
		out = append(out, toNoteJSON(n))
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) undo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.svc.Undo() {
		return mcp.NewToolResultText("nothing to undo"), nil
	}
	return mcp.NewToolResultText("reverted to previous state"), nil
}

func (s *Server) redo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.svc.Redo() {
		return mcp.NewToolResultText("nothing to redo"), nil
	}
	return mcp.NewToolResultText("reapplied undone state"), nil
}

func (s *Server) getHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)
	commits, err := s.svc.History(limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, _ := json.MarshalIndent(commits, "", "  ")
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) getOutlineContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(OutlineContract), nil
}

func (s *Server) readOutlineContractResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "othala://outline-contract",
			MIMEType: "text/markdown",
			Text:     OutlineContract,
		},
	}, nil
}
