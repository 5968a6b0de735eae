package correlation

import "testing"

func TestHashKey_IsDeterministic(t *testing.T) {
	a := hashKey("session-123")
	b := hashKey("session-123")
	if a != b {
		t.Fatalf("hashKey is not deterministic: %d != %d", a, b)
	}
}

func TestHashKey_DifferentInputsLikelyDiffer(t *testing.T) {
	a := hashKey("session-123")
	b := hashKey("session-456")
	if a == b {
		t.Fatalf("expected different hashes for different session ids")
	}
}
