package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// ToolCall is the internal representation of one tool invocation the
// orchestrator is about to execute. ArgumentsJSON is the canonical-key
// JSON encoding of Input, kept alongside the decoded map so adapters can
// round-trip the wire string form without re-deriving it.
type ToolCall struct {
	ID            string
	Name          string
	Input         map[string]any
	ArgumentsJSON string
}

// Signature computes sha256(name + canonical-json(args))[0:16], used by
// the agent loop's tool-call-loop detector. Canonicalisation means: sort
// object keys recursively so semantically identical arguments never
// produce different signatures because of map iteration order.
func (c ToolCall) Signature() string {
	canon := canonicalizeJSON(c.Input)
	enc, _ := json.Marshal(canon)
	sum := sha256.Sum256(append([]byte(c.Name), enc...))
	return hex.EncodeToString(sum[:])[:16]
}

// canonicalizeJSON walks an arbitrary decoded-JSON value and returns an
// equivalent value whose map keys, when later marshalled, are emitted in
// a deterministic order. encoding/json already sorts map[string]any keys
// on marshal, so the real work here is recursing into nested maps/slices
// so canonicalization doesn't just apply one level deep.
func canonicalizeJSON(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(val))
		for _, k := range keys {
			out[k] = canonicalizeJSON(val[k])
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = canonicalizeJSON(e)
		}
		return out
	default:
		return val
	}
}
