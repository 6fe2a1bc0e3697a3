package session

import "testing"

func TestGenerateIDIsNonEmptyAndVaries(t *testing.T) {
	a := GenerateID()
	b := GenerateID()

	if a == "" || b == "" {
		t.Fatalf("expected non-empty ids, got %q and %q", a, b)
	}
	if a == b {
		t.Fatalf("expected distinct ids across calls, got %q twice", a)
	}
	if len(a) != 12 {
		t.Fatalf("expected a 12-char hex id, got %q (len %d)", a, len(a))
	}
}
