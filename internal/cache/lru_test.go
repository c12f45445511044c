package cache

import (
	"testing"
	"time"
)

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("a should be present")
	}
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Fatalf("b should have been evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("a: got %v %v", v, ok)
	}
	if c.Size() != 2 {
		t.Fatalf("size: got %d", c.Size())
	}
}

func TestLRUExpiryAndSweep(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRUCache[string](10, time.Minute)
	c.now = func() time.Time { return now }

	c.Set("k1", "v1")
	c.Set("k2", "v2")
	now = now.Add(2 * time.Minute)
	c.Set("k3", "v3")

	if _, ok := c.Get("k1"); ok {
		t.Fatalf("k1 should be expired")
	}

	m := NewManager(nil)
	m.Register(c)
	if n := m.Sweep(); n != 1 {
		t.Fatalf("expected 1 expired entry swept, got %d", n)
	}
	if c.Size() != 1 {
		t.Fatalf("size after sweep: %d", c.Size())
	}
}

func TestLRUPurgeAndStats(t *testing.T) {
	c := NewLRUCache[int](4, time.Minute)
	c.Set("a", 1)
	c.Get("a")
	c.Get("missing")
	c.Purge()
	if _, ok := c.Get("a"); ok {
		t.Fatalf("purge left entries behind")
	}
	st := c.Stats()
	if st.Size != 0 || st.Hits != 1 || st.Misses != 2 {
		t.Fatalf("unexpected stats %+v", st)
	}
}
