// Package checksum digests note content for optimistic concurrency checks.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Content returns the hex-encoded SHA-256 digest of a note's content.
// Clients echo it back in If-Match headers to guard concurrent updates.
func Content(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}
