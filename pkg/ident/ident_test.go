package ident

import "testing"

func TestAllocate(t *testing.T) {
	seen := map[int64]bool{}
	for i := 0; i < 10000; i++ {
		id := Allocate()
		if id <= 0 {
			t.Fatalf("allocated non-positive id %d", id)
		}
		if seen[id] {
			t.Fatalf("allocated duplicate id %d after %d draws", id, i)
		}
		seen[id] = true
	}
}
