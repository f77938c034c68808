package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestGetMiss(t *testing.T) {
	c := New(10)
	if _, ok := c.Get("nope"); ok {
		t.Error("Get on empty cache should miss")
	}
	if s := c.Stats(); s.Misses != 1 || s.Hits != 0 {
		t.Errorf("stats = %+v, want 1 miss", s)
	}
}

func TestPutGet(t *testing.T) {
	c := New(10)
	c.Put("k", "answer")

	e, ok := c.Get("k")
	if !ok {
		t.Fatal("Get after Put should hit")
	}
	if e.Answer != "answer" {
		t.Errorf("Answer = %q, want %q", e.Answer, "answer")
	}
	if e.HitCount != 1 {
		t.Errorf("HitCount = %d, want 1", e.HitCount)
	}

	e, _ = c.Get("k")
	if e.HitCount != 2 {
		t.Errorf("HitCount after second get = %d, want 2", e.HitCount)
	}
}

// TestLRUEviction exercises the capacity=2 scenario: put(A), put(B), get(A)
// promotes A, put(C) evicts B.
func TestLRUEviction(t *testing.T) {
	c := New(2)
	c.Put("a", "1")
	c.Put("b", "2")

	if _, ok := c.Get("a"); !ok {
		t.Fatal("a should be cached")
	}

	c.Put("c", "3")

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted as LRU")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should survive eviction")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("c should be cached")
	}
}

func TestCapacityNeverExceeded(t *testing.T) {
	c := New(3)
	for i := 0; i < 20; i++ {
		c.Put(fmt.Sprintf("k%d", i), "v")
		if s := c.Stats(); s.Size > 3 {
			t.Fatalf("size = %d exceeds capacity 3", s.Size)
		}
	}
	if s := c.Stats(); s.Size != 3 {
		t.Errorf("final size = %d, want 3", s.Size)
	}
}

func TestPutExistingReplaces(t *testing.T) {
	c := New(2)
	c.Put("k", "old")
	c.Put("k", "new")

	e, ok := c.Get("k")
	if !ok || e.Answer != "new" {
		t.Errorf("Get = %q, %v; want new, true", e.Answer, ok)
	}
	if s := c.Stats(); s.Size != 1 {
		t.Errorf("size = %d, want 1", s.Size)
	}
}

func TestContainsLeavesStatsAlone(t *testing.T) {
	c := New(10)
	c.Put("k", "v")

	if !c.Contains("k") {
		t.Error("Contains should see the stored key")
	}
	if c.Contains("missing") {
		t.Error("Contains should miss an absent key")
	}
	if s := c.Stats(); s.Hits != 0 || s.Misses != 0 {
		t.Errorf("stats = %+v, Contains must not count hits or misses", s)
	}

	e, _ := c.Get("k")
	if e.HitCount != 1 {
		t.Errorf("HitCount = %d, Contains must not bump it", e.HitCount)
	}
}

func TestClear(t *testing.T) {
	c := New(10)
	c.Put("a", "1")
	c.Put("b", "2")
	c.Clear()

	if s := c.Stats(); s.Size != 0 {
		t.Errorf("size after clear = %d, want 0", s.Size)
	}
	if _, ok := c.Get("a"); ok {
		t.Error("cleared entry should miss")
	}
}

func TestHitRate(t *testing.T) {
	c := New(10)
	c.Put("k", "v")
	c.Get("k")
	c.Get("k")
	c.Get("missing")
	c.Get("missing")

	s := c.Stats()
	if s.Hits != 2 || s.Misses != 2 {
		t.Fatalf("hits/misses = %d/%d, want 2/2", s.Hits, s.Misses)
	}
	if s.HitRate != 0.5 {
		t.Errorf("HitRate = %f, want 0.5", s.HitRate)
	}
}

func TestLastAccessUpdated(t *testing.T) {
	c := New(10)
	base := time.Now()
	step := 0
	c.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}

	c.Put("k", "v")
	first, _ := c.Get("k")
	second, _ := c.Get("k")

	if !second.LastAccessAt.After(first.LastAccessAt) {
		t.Error("LastAccessAt should advance on each get")
	}
	if !first.CreatedAt.Equal(second.CreatedAt) {
		t.Error("CreatedAt should not change on access")
	}
}
