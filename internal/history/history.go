// Package history snapshots the outline database file into a git
// commit log colocated with it, providing linear undo/redo. The store
// file is treated as an opaque blob: one commit per successful
// mutation, full file content each time.
package history

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	defaultMaxUndo  = 100
	rebuildWalkCap  = 50
	resetAttempts   = 3
	resetBackoff    = 250 * time.Millisecond
	signatureName   = "Othala"
	signatureEmail  = "othala@app.local"
	undoBranchStamp = "undone-%d"
)

// Commit is one entry in the snapshot log.
type Commit struct {
	ID      string    `json:"id"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
}

// TreeCommit annotates a commit with DAG structure for diagnostics:
// parents, children, the refs that reach it, and whether it is HEAD.
type TreeCommit struct {
	Commit
	Parents  []string `json:"parents"`
	Children []string `json:"children"`
	Refs     []string `json:"refs"`
	IsHead   bool     `json:"is_head"`
}

// VersionControl owns the commit log for one store file. One instance
// per open store; callers receive it by injection, never via a global.
//
// Undo/redo hard-reset the working file, so the owning service must
// flush and close its store connections before calling Undo or Redo
// and reload afterwards.
type VersionControl struct {
	repo    *git.Repository
	dir     string
	file    string
	flush   func() error
	logger  *slog.Logger
	maxUndo int

	// mu serializes commits, resets, and stack movement; mutations can
	// arrive concurrently from REST and MCP callers.
	mu   sync.Mutex
	undo []plumbing.Hash
	redo []plumbing.Hash
}

// Open binds a VersionControl to the directory containing dbPath,
// initialising a git repository there when none exists. flush is called
// before each commit to push pending store writes into the file (WAL
// checkpoint); it may be nil. For an existing repository the undo stack
// is rebuilt from commit ancestry; the redo stack always starts empty.
func Open(dbPath string, maxUndo int, flush func() error, logger *slog.Logger) (*VersionControl, error) {
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return nil, fmt.Errorf("history: resolve %s: %w", dbPath, err)
	}
	if maxUndo <= 0 {
		maxUndo = defaultMaxUndo
	}
	if logger == nil {
		logger = slog.Default()
	}

	vc := &VersionControl{
		dir:     filepath.Dir(abs),
		file:    filepath.Base(abs),
		flush:   flush,
		logger:  logger,
		maxUndo: maxUndo,
	}

	repo, err := git.PlainOpen(vc.dir)
	switch {
	case err == nil:
		vc.repo = repo
		vc.rebuildUndoStack()
	case errors.Is(err, git.ErrRepositoryNotExists):
		repo, err = git.PlainInit(vc.dir, false)
		if err != nil {
			return nil, fmt.Errorf("history: init repository: %w", err)
		}
		vc.repo = repo
		vc.Commit("Initial database state")
	default:
		return nil, fmt.Errorf("history: open repository: %w", err)
	}

	return vc, nil
}

func signature() *object.Signature {
	return &object.Signature{Name: signatureName, Email: signatureEmail, When: time.Now()}
}

// Commit snapshots the current store file content as a new commit on
// top of HEAD. The previous HEAD becomes undoable and any pending redo
// branch is invalidated. Never returns an error: the store mutation
// already succeeded, so a missed snapshot is logged and reported as
// false rather than blocking the caller.
func (vc *VersionControl) Commit(message string) bool {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	if vc.flush != nil {
		if err := vc.flush(); err != nil {
			vc.logger.Warn("history: flush before commit failed", slog.String("error", err.Error()))
		}
	}

	wt, err := vc.repo.Worktree()
	if err != nil {
		vc.logger.Warn("history: worktree", slog.String("error", err.Error()))
		return false
	}
	if _, err := wt.Add(vc.file); err != nil {
		vc.logger.Warn("history: stage failed", slog.String("file", vc.file), slog.String("error", err.Error()))
		return false
	}

	var prev plumbing.Hash
	hasPrev := false
	if head, headErr := vc.repo.Head(); headErr == nil {
		prev = head.Hash()
		hasPrev = true
	}

	if _, err := wt.Commit(message, &git.CommitOptions{
		Author:            signature(),
		AllowEmptyCommits: true,
	}); err != nil {
		vc.logger.Warn("history: commit failed", slog.String("error", err.Error()))
		return false
	}

	// Undo targets the state before this change, so the previous HEAD
	// goes onto the stack, not the new commit.
	if hasPrev {
		vc.undo = append(vc.undo, prev)
		if len(vc.undo) > vc.maxUndo {
			vc.undo = vc.undo[len(vc.undo)-vc.maxUndo:]
		}
	}
	vc.redo = vc.redo[:0]

	vc.logger.Debug("history: committed", slog.String("message", message))
	return true
}

// Undo hard-resets the store file to the most recent undoable commit.
// The displaced HEAD is first preserved on an undone-<timestamp> branch
// so the commits being undone past stay reachable, then pushed onto the
// redo stack. Returns false with state unchanged when there is nothing
// to undo or the reset keeps failing.
func (vc *VersionControl) Undo() bool {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	if len(vc.undo) == 0 {
		return false
	}
	head, err := vc.repo.Head()
	if err != nil {
		vc.logger.Warn("history: undo: no HEAD", slog.String("error", err.Error()))
		return false
	}
	current := head.Hash()
	target := vc.undo[len(vc.undo)-1]

	vc.preserveBranch(current)

	if !vc.resetWithRetry(target) {
		return false
	}

	vc.undo = vc.undo[:len(vc.undo)-1]
	vc.redo = append(vc.redo, current)
	return true
}

// Redo hard-resets forward to the most recently undone commit. Returns
// false with state unchanged when the redo stack is empty or the reset
// keeps failing.
func (vc *VersionControl) Redo() bool {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	if len(vc.redo) == 0 {
		return false
	}
	head, err := vc.repo.Head()
	if err != nil {
		vc.logger.Warn("history: redo: no HEAD", slog.String("error", err.Error()))
		return false
	}
	current := head.Hash()
	target := vc.redo[len(vc.redo)-1]

	if !vc.resetWithRetry(target) {
		return false
	}

	vc.redo = vc.redo[:len(vc.redo)-1]
	vc.undo = append(vc.undo, current)
	return true
}

// preserveBranch points a new branch at hash so a hard reset cannot
// make the displaced commits unreachable. Failure is logged only; an
// unpreserved branch is not worth blocking the undo for.
func (vc *VersionControl) preserveBranch(hash plumbing.Hash) {
	name := plumbing.NewBranchReferenceName(fmt.Sprintf(undoBranchStamp, time.Now().Unix()))
	if _, err := vc.repo.Reference(name, false); err == nil {
		return // two undos within one second share the branch
	}
	if err := vc.repo.Storer.SetReference(plumbing.NewHashReference(name, hash)); err != nil {
		vc.logger.Warn("history: preservation branch failed",
			slog.String("branch", name.Short()), slog.String("error", err.Error()))
	} else {
		vc.logger.Debug("history: preserved undone commits", slog.String("branch", name.Short()))
	}
}

// resetWithRetry hard-resets the worktree to target. The reset rewrites
// the store file in place and can race with lingering file handles, so
// it retries a bounded number of times with backoff; the caller has
// already flushed and closed its connections.
func (vc *VersionControl) resetWithRetry(target plumbing.Hash) bool {
	wt, err := vc.repo.Worktree()
	if err != nil {
		vc.logger.Warn("history: worktree", slog.String("error", err.Error()))
		return false
	}
	for attempt := 1; attempt <= resetAttempts; attempt++ {
		err = wt.Reset(&git.ResetOptions{Commit: target, Mode: git.HardReset})
		if err == nil {
			return true
		}
		vc.logger.Warn("history: reset failed",
			slog.Int("attempt", attempt), slog.String("error", err.Error()))
		if attempt < resetAttempts {
			time.Sleep(resetBackoff)
		}
	}
	return false
}

// CanUndo reports whether an undo target is available.
func (vc *VersionControl) CanUndo() bool {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return len(vc.undo) > 0
}

// CanRedo reports whether a redo target is available.
func (vc *VersionControl) CanRedo() bool {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return len(vc.redo) > 0
}

// Head returns the current HEAD commit id.
func (vc *VersionControl) Head() (string, error) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	head, err := vc.repo.Head()
	if err != nil {
		return "", fmt.Errorf("history: head: %w", err)
	}
	return head.Hash().String(), nil
}

// History returns up to limit commits walking back from HEAD.
func (vc *VersionControl) History(limit int) ([]Commit, error) {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	head, err := vc.repo.Head()
	if err != nil {
		return []Commit{}, nil
	}
	iter, err := vc.repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("history: log: %w", err)
	}
	defer iter.Close()

	out := []Commit{}
	err = iter.ForEach(func(c *object.Commit) error {
		out = append(out, Commit{
			ID:      c.Hash.String(),
			Message: trimMessage(c.Message),
			Author:  c.Author.Name,
			Date:    c.Author.When,
		})
		if len(out) >= limit {
			return errStopIter
		}
		return nil
	})
	if err != nil && err != errStopIter {
		return nil, fmt.Errorf("history: walk: %w", err)
	}
	return out, nil
}

var errStopIter = errors.New("stop iteration")

// CommitTree returns the commit DAG reachable from HEAD, all local
// branches (including preservation branches), and any commits still
// referenced only by the undo/redo stacks. For diagnostic and
// visualization use.
func (vc *VersionControl) CommitTree(limit int) ([]TreeCommit, error) {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}

	type ref struct {
		name string
		hash plumbing.Hash
	}
	var refs []ref
	var headHash plumbing.Hash

	if head, err := vc.repo.Head(); err == nil {
		headHash = head.Hash()
		refs = append(refs, ref{name: "HEAD", hash: headHash})
	}
	if branches, err := vc.repo.Branches(); err == nil {
		_ = branches.ForEach(func(r *plumbing.Reference) error {
			refs = append(refs, ref{name: r.Name().Short(), hash: r.Hash()})
			return nil
		})
	}
	for _, h := range append(append([]plumbing.Hash{}, vc.undo...), vc.redo...) {
		refs = append(refs, ref{name: "stack-" + h.String()[:8], hash: h})
	}

	all := map[string]*TreeCommit{}
	children := map[string][]string{}

	for _, r := range refs {
		iter, err := vc.repo.Log(&git.LogOptions{From: r.hash})
		if err != nil {
			continue
		}
		walkErr := iter.ForEach(func(c *object.Commit) error {
			id := c.Hash.String()
			tc, seen := all[id]
			if !seen {
				if len(all) >= limit {
					return errStopIter
				}
				tc = &TreeCommit{
					Commit: Commit{
						ID:      id,
						Message: trimMessage(c.Message),
						Author:  c.Author.Name,
						Date:    c.Author.When,
					},
					IsHead: c.Hash == headHash,
				}
				for _, p := range c.ParentHashes {
					pid := p.String()
					tc.Parents = append(tc.Parents, pid)
					children[pid] = append(children[pid], id)
				}
				all[id] = tc
			}
			if !contains(tc.Refs, r.name) {
				tc.Refs = append(tc.Refs, r.name)
			}
			return nil
		})
		iter.Close()
		if walkErr != nil && walkErr != errStopIter {
			return nil, fmt.Errorf("history: walk %s: %w", r.name, walkErr)
		}
	}

	out := make([]TreeCommit, 0, len(all))
	for id, tc := range all {
		for _, child := range children[id] {
			if !contains(tc.Children, child) {
				tc.Children = append(tc.Children, child)
			}
		}
		out = append(out, *tc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// rebuildUndoStack repopulates the undo stack from HEAD's ancestry,
// bounded to the most recent commits. Redo targets are not derivable
// from linear ancestry, so the redo stack stays empty.
func (vc *VersionControl) rebuildUndoStack() {
	vc.undo = vc.undo[:0]
	vc.redo = vc.redo[:0]

	head, err := vc.repo.Head()
	if err != nil {
		return // empty repository, nothing to rebuild
	}
	iter, err := vc.repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		vc.logger.Warn("history: rebuild undo stack", slog.String("error", err.Error()))
		return
	}
	defer iter.Close()

	// The chain includes HEAD itself, so a stack of maxUndo targets
	// needs at most maxUndo+1 ancestors.
	walk := rebuildWalkCap
	if vc.maxUndo+1 < walk {
		walk = vc.maxUndo + 1
	}

	var chain []plumbing.Hash
	_ = iter.ForEach(func(c *object.Commit) error {
		chain = append(chain, c.Hash)
		if len(chain) >= walk {
			return errStopIter
		}
		return nil
	})

	// chain is newest-first and includes HEAD itself; the stack wants
	// oldest-first with the most recent undo target last.
	for i := len(chain) - 1; i >= 1; i-- {
		vc.undo = append(vc.undo, chain[i])
	}
	vc.logger.Debug("history: rebuilt undo stack", slog.Int("depth", len(vc.undo)))
}

func trimMessage(msg string) string {
	for len(msg) > 0 && (msg[len(msg)-1] == '\n' || msg[len(msg)-1] == ' ') {
		msg = msg[:len(msg)-1]
	}
	return msg
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
