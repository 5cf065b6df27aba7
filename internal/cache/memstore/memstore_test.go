package memstore

import (
	"fmt"
	"testing"
	"time"

	"github.com/mohammed-shakir/price-cluster-map/internal/cache"
)

var _ cache.Interface = (*Store)(nil)

func TestSetMGetDel(t *testing.T) {
	s := New(10, time.Hour)
	if err := s.Set("a", []byte("1"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	_ = s.Set("b", []byte("2"), time.Minute)

	got, err := s.MGet([]string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if len(got) != 2 || string(got["a"]) != "1" || string(got["b"]) != "2" {
		t.Fatalf("got=%v", got)
	}

	_ = s.Del("a", "zzz")
	if _, ok, _ := cache.Get(s, "a"); ok {
		t.Fatalf("a should be gone")
	}
}

func TestPerEntryTTL(t *testing.T) {
	s := New(10, time.Hour)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_ = s.Set("short", []byte("x"), time.Minute)
	_ = s.Set("long", []byte("y"), 30*time.Minute)
	_ = s.Set("capped", []byte("z"), 48*time.Hour)

	now = now.Add(2 * time.Minute)
	got, _ := s.MGet([]string{"short", "long", "capped"})
	if _, ok := got["short"]; ok {
		t.Fatalf("short should have expired")
	}
	if _, ok := got["long"]; !ok {
		t.Fatalf("long should still be cached")
	}

	now = now.Add(2 * time.Hour)
	got, _ = s.MGet([]string{"capped"})
	if len(got) != 0 {
		t.Fatalf("ttl above max must be capped; got=%v", got)
	}
	if s.Len() != 1 {
		t.Fatalf("expired entries should be removed on read; len=%d", s.Len())
	}
}

func TestMaxEntries_EvictsOldest(t *testing.T) {
	s := New(3, time.Hour)
	for i := range 5 {
		_ = s.Set(fmt.Sprintf("k%d", i), []byte{byte(i)}, time.Minute)
	}
	if s.Len() != 3 {
		t.Fatalf("len=%d want 3", s.Len())
	}
	got, _ := s.MGet([]string{"k0", "k1", "k2", "k3", "k4"})
	if _, ok := got["k0"]; ok {
		t.Fatalf("k0 should have been evicted")
	}
	if _, ok := got["k4"]; !ok {
		t.Fatalf("k4 should be present")
	}
}

func TestSet_CopiesValue(t *testing.T) {
	s := New(2, time.Hour)
	buf := []byte("abc")
	_ = s.Set("k", buf, time.Minute)
	buf[0] = 'X'
	v, _, _ := cache.Get(s, "k")
	if string(v) != "abc" {
		t.Fatalf("stored value aliased caller buffer: %q", v)
	}
}

func TestFull_DropsExpiredBeforeLive(t *testing.T) {
	s := New(2, 24*time.Hour)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_ = s.Set("estimate", []byte("e"), 24*time.Hour)
	_ = s.Set("bulk", []byte("b"), 15*time.Minute)

	now = now.Add(time.Hour)
	_ = s.Set("viewport", []byte("v"), 5*time.Minute)

	got, _ := s.MGet([]string{"estimate", "bulk", "viewport"})
	if _, ok := got["estimate"]; !ok {
		t.Fatalf("live entry evicted while an expired one was held; got=%v", got)
	}
	if _, ok := got["viewport"]; !ok {
		t.Fatalf("new entry missing; got=%v", got)
	}
	if s.Len() != 2 {
		t.Fatalf("len=%d want 2", s.Len())
	}
}

func TestFull_OverwriteKeepsOthers(t *testing.T) {
	s := New(2, time.Hour)
	_ = s.Set("a", []byte("1"), time.Minute)
	_ = s.Set("b", []byte("2"), time.Minute)
	_ = s.Set("a", []byte("3"), time.Minute)

	got, _ := s.MGet([]string{"a", "b"})
	if string(got["a"]) != "3" || string(got["b"]) != "2" {
		t.Fatalf("got=%v", got)
	}
}
