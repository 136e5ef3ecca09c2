package cache

import (
	"testing"
	"time"
)

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	// Touch "a" so "b" becomes the eviction candidate.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a to be cached")
	}
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %v, %v", v, ok)
	}
	if c.Size() != 2 {
		t.Errorf("Size() = %d, want 2", c.Size())
	}
}

func TestLRUCache_TTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRUCache[string](10, time.Second)
	c.now = func() time.Time { return now }

	c.Set("k", "v")
	c.Set("other", "v")
	now = now.Add(500 * time.Millisecond)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry should still be live")
	}

	now = now.Add(time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatal("entry should have expired")
	}
	if removed := c.CleanExpired(); removed != 1 {
		t.Errorf("CleanExpired() = %d, want 1", removed)
	}
	if c.Size() != 0 {
		t.Errorf("Size() = %d, want 0", c.Size())
	}
}

func TestLRUCache_Delete(t *testing.T) {
	var c Cache[int] = NewLRUCache[int](10, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("a should be deleted")
	}
	c.Delete("missing")
	if c.Size() != 1 {
		t.Errorf("Size() = %d, want 1", c.Size())
	}
}

func TestManager_CleanNow(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRUCache[int](10, time.Second)
	c.now = func() time.Time { return now }
	c.Set("a", 1)
	c.Set("b", 2)

	m := NewManager(nil)
	m.Register(c)

	if n := m.CleanNow(); n != 0 {
		t.Fatalf("nothing expired yet, removed %d", n)
	}
	now = now.Add(2 * time.Second)
	if n := m.CleanNow(); n != 2 {
		t.Fatalf("CleanNow() = %d, want 2", n)
	}

	m.StartCleanup(time.Millisecond)
	m.Stop()
}
