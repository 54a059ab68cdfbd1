// Package testutil provides shared test helpers for packages built on
// top of the outline service.
package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/starford/othala/internal/outline"
)

// TestService opens a full outline service (store plus commit log) in a
// temporary directory that is cleaned up with the test.
func TestService(t *testing.T) *outline.Service {
	t.Helper()
	path := filepath.Join(t.TempDir(), "outline.db")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := outline.Open(path, 100, logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}
