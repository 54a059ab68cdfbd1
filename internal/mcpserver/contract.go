package mcpserver

// OutlineContract describes the outline data model that LLM consumers
// should understand before mutating the tree.
const OutlineContract = `# Othala Outline Contract

Othala stores a single tree of notes. Every mutation is recorded as a
version snapshot, so any change can be undone.

## Structure

- Note ` + "`" + `1` + "`" + ` is the root. It always exists and cannot be deleted or moved.
- Every other note has exactly one parent and a zero-based position
  among its siblings.
- A note's content is plain text. Line breaks are allowed.

## Tasks

Any note can carry a task status. Toggling cycles through:

    (no task) -> active -> complete -> cancelled -> (no task)

Tasks may additionally carry a priority (1 = highest, default 4), a
start date and a due date. Dates are ISO-8601.

## Rules

1. ` + "`" + `create_note` + "`" + ` requires a parent id. Omit ` + "`" + `position` + "`" + ` to append as the
   last child; pass it to insert before that sibling slot.
2. ` + "`" + `move_note` + "`" + ` cannot move a note into its own subtree.
3. ` + "`" + `delete_note` + "`" + ` removes the whole subtree. There is no partial delete.
4. Deletions are recoverable: every mutation is snapshotted, and
   ` + "`" + `undo` + "`" + ` restores the previous state.
5. Use ` + "`" + `list_children` + "`" + ` starting from note 1 to discover the tree; do not
   guess ids.
`
