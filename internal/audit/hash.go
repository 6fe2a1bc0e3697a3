// Package audit implements the content-addressable audit log: each
// LLM request/response pair is hashed before any truncation, deduplicated
// against an append-only JSONL dictionary, and emitted to the caller's
// session stream as either a full entry or a {"$ref": hash} on repeat.
package audit

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/cespare/xxhash/v2"
)

// Hash returns the dictionary key for content: sha256(content)[0:16] hex
// characters (8 bytes of digest), always computed against the full
// pre-truncation string per spec's "hash before truncate" rule.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:8])
}

// fastHash is an in-process-only fingerprint kept in the dictionary's
// fastSeen LRU, which maps it to the sha256 key above. The sha256 key is
// always computed as well; fastHash is never written to the wire or the
// JSONL file, matching the teacher's own use of xxhash as a pure
// in-memory fingerprint (internal/llm/mistral_native.go's long-id hashing).
func fastHash(content string) uint64 {
	return xxhash.Sum64String(content)
}
