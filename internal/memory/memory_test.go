package memory

import "testing"

func TestSharedMemory_SetAllFlushAndSubset(t *testing.T) {
	m := New()
	m.SetAll(map[string]any{"x": 1.0, "y": "hello"})

	if v, ok := m.Get("x"); !ok || v != 1.0 {
		t.Fatalf("expected x=1.0, got %v ok=%v", v, ok)
	}

	sub := m.Subset([]string{"x", "missing"})
	if len(sub) != 1 {
		t.Fatalf("expected subset to contain only present keys, got %+v", sub)
	}

	snap := m.Snapshot()
	snap["x"] = 999.0 // mutating the copy must not affect the store
	if v, _ := m.Get("x"); v != 1.0 {
		t.Fatalf("Snapshot must return a copy, store was mutated: %v", v)
	}
}

func TestFromSnapshot(t *testing.T) {
	m := FromSnapshot(map[string]any{"a": true})
	if v, ok := m.Get("a"); !ok || v != true {
		t.Fatalf("expected a=true from snapshot, got %v ok=%v", v, ok)
	}
}
