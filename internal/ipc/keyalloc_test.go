package ipc

import "testing"

func TestKeyAllocatorNeverRepeats(t *testing.T) {
	alloc := NewKeyAllocator(1)
	seen := make(map[int]bool)
	for i := 0; i < 10000; i++ {
		k := alloc.Next()
		if seen[k] {
			t.Fatalf("key %d returned twice", k)
		}
		seen[k] = true
	}
}

func TestKeyAllocatorSeed(t *testing.T) {
	alloc := NewKeyAllocator(42)
	if got := alloc.Next(); got != 42 {
		t.Fatalf("first key = %d, want 42", got)
	}
	if got := alloc.Next(); got != 43 {
		t.Fatalf("second key = %d, want 43", got)
	}
}
