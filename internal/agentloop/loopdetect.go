package agentloop

import "github.com/lynkr/lynkr/internal/canonical"

// signatureTracker counts how many times each tool-call signature has
// been seen within a single Run, the request-scoped counterpart to
// the teacher's sentence-level LoopDetector — keyed on
// sha256(name+canonical-json(args))[0:16] instead of text n-grams, per
// §4.5.
type signatureTracker struct {
	counts map[string]int
}

func newSignatureTracker() *signatureTracker {
	return &signatureTracker{counts: make(map[string]int)}
}

// observe records one sighting of call and returns the updated count.
func (t *signatureTracker) observe(call canonical.ToolUseBlock) (string, int) {
	tc := canonical.ToolCall{Name: call.Name, Input: call.Input}
	sig := tc.Signature()
	t.counts[sig]++
	return sig, t.counts[sig]
}
