package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/starford/othala/internal/outline"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *outline.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Notes CRUD and tree operations.
	r.Post("/notes", h.CreateNote)
	r.Get("/notes/{id}", h.GetNote)
	r.Put("/notes/{id}", h.UpdateNote)
	r.Delete("/notes/{id}", h.DeleteNote)
	r.Get("/notes/{id}/children", h.Children)
	r.Get("/notes/{id}/subtree", h.Subtree)
	r.Post("/notes/{id}/move", h.MoveNote)
	r.Put("/notes/{id}/expanded", h.SaveExpansion)
	r.Post("/notes/{id}/paste", h.PasteSubtree)

	// Task state and scheduling.
	r.Post("/notes/{id}/task/toggle", h.ToggleTask)
	r.Put("/notes/{id}/task/dates", h.UpdateTaskDate)
	r.Put("/notes/{id}/task", h.UpdateTaskFields)

	// Search and activity.
	r.Get("/search", h.Search)
	r.Get("/activity/dates", h.ActivityDates)
	r.Get("/activity/notes", h.ActivityNotes)

	// Version history.
	r.Get("/history", h.History)
	r.Get("/history/tree", h.CommitTree)
	r.Post("/history/undo", h.Undo)
	r.Post("/history/redo", h.Redo)

	// Workspace lifecycle.
	r.Get("/workspace", h.Workspace)
	r.Post("/workspace/load", h.LoadWorkspace)
	r.Post("/workspace/save-as", h.SaveWorkspaceAs)

	// Maintenance.
	r.Post("/maintenance/rebuild-paths", h.RebuildPaths)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
