package utils

import "testing"

func TestNewIDIsUnique(t *testing.T) {
	seen := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		id := NewID()
		if !IsID(id) {
			t.Fatalf("NewID() = %q, not a uuid", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
	if IsID("r1") {
		t.Fatal("IsID accepted a non-uuid")
	}
}
