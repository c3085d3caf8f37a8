package cache

import (
	"fmt"
	"testing"
)

// TestExplainCache_GetPut tests basic store and retrieve
func TestExplainCache_GetPut(t *testing.T) {
	c := New(10)

	key := Key{Term: "goroutine", LanguageID: "go"}
	if _, ok := c.Get(key); ok {
		t.Error("Expected miss on empty cache")
	}

	c.Put(key, "A goroutine is a lightweight thread.")

	value, ok := c.Get(key)
	if !ok {
		t.Fatal("Expected hit after Put")
	}
	if value != "A goroutine is a lightweight thread." {
		t.Errorf("Unexpected cached value: %q", value)
	}
}

// TestExplainCache_KeyIncludesLanguage tests that the same term under
// different language ids occupies distinct entries
func TestExplainCache_KeyIncludesLanguage(t *testing.T) {
	c := New(10)

	c.Put(Key{Term: "map", LanguageID: "go"}, "go map")
	c.Put(Key{Term: "map", LanguageID: "javascript"}, "js map")

	if v, _ := c.Get(Key{Term: "map", LanguageID: "go"}); v != "go map" {
		t.Errorf("Expected 'go map', got %q", v)
	}
	if v, _ := c.Get(Key{Term: "map", LanguageID: "javascript"}); v != "js map" {
		t.Errorf("Expected 'js map', got %q", v)
	}
	if _, ok := c.Get(Key{Term: "map", LanguageID: ""}); ok {
		t.Error("Expected miss for missing language id")
	}
}

// TestExplainCache_EvictsOldestAtCapacity tests that inserting past capacity
// evicts exactly the oldest entry
func TestExplainCache_EvictsOldestAtCapacity(t *testing.T) {
	c := New(3)

	for i := 0; i < 3; i++ {
		c.Put(Key{Term: fmt.Sprintf("term%d", i)}, fmt.Sprintf("value%d", i))
	}
	if c.Len() != 3 {
		t.Fatalf("Expected 3 entries, got %d", c.Len())
	}

	c.Put(Key{Term: "term3"}, "value3")

	if c.Len() != 3 {
		t.Errorf("Expected size to stay at capacity, got %d", c.Len())
	}
	if _, ok := c.Get(Key{Term: "term0"}); ok {
		t.Error("Expected oldest entry to be evicted")
	}
	for i := 1; i <= 3; i++ {
		if _, ok := c.Get(Key{Term: fmt.Sprintf("term%d", i)}); !ok {
			t.Errorf("Expected term%d to survive", i)
		}
	}
}

// TestExplainCache_OverwriteKeepsPosition tests that overwriting an entry does
// not refresh its eviction position
func TestExplainCache_OverwriteKeepsPosition(t *testing.T) {
	c := New(2)

	c.Put(Key{Term: "a"}, "1")
	c.Put(Key{Term: "b"}, "2")

	// Overwrite the oldest; it must remain the oldest.
	c.Put(Key{Term: "a"}, "1-updated")
	if v, _ := c.Get(Key{Term: "a"}); v != "1-updated" {
		t.Errorf("Expected overwritten value, got %q", v)
	}
	if c.Len() != 2 {
		t.Fatalf("Expected overwrite to not grow the cache, got %d", c.Len())
	}

	c.Put(Key{Term: "c"}, "3")

	if _, ok := c.Get(Key{Term: "a"}); ok {
		t.Error("Expected 'a' to be evicted despite recent overwrite")
	}
	if _, ok := c.Get(Key{Term: "b"}); !ok {
		t.Error("Expected 'b' to survive")
	}
}

// TestExplainCache_DefaultCapacity tests the fallback for non-positive capacities
func TestExplainCache_DefaultCapacity(t *testing.T) {
	if c := New(0); c.Capacity() != DefaultCapacity {
		t.Errorf("Expected default capacity %d, got %d", DefaultCapacity, c.Capacity())
	}
	if c := New(-5); c.Capacity() != DefaultCapacity {
		t.Errorf("Expected default capacity %d, got %d", DefaultCapacity, c.Capacity())
	}
}
