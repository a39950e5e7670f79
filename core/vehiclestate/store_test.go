package vehiclestate

import (
	"fmt"
	"sync"
	"testing"
)

func TestGetOrCreateAndEvict(t *testing.T) {
	s := NewStore()
	v, created := s.GetOrCreate("v2", "north")
	if !created || v.ID != "v2" || v.Meta.FleetID != "north" {
		t.Fatalf("unexpected vehicle %+v created=%v", v, created)
	}
	again, created := s.GetOrCreate("v2", "south")
	if created || again != v {
		t.Fatalf("expected existing vehicle")
	}
	s.GetOrCreate("v1", "north")
	if ids := s.IDs(); len(ids) != 2 || ids[0] != "v1" || ids[1] != "v2" {
		t.Fatalf("unexpected ids %v", ids)
	}
	if !s.Evict("v2") {
		t.Fatalf("evict failed")
	}
	if s.Evict("v2") {
		t.Fatalf("second evict must report unknown")
	}
	if _, ok := s.Get("v2"); ok {
		t.Fatalf("vehicle still present")
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 vehicle, got %d", s.Len())
	}
}

func TestDirtyTracking(t *testing.T) {
	var v Vehicle
	if v.Dirty() {
		t.Fatalf("new vehicle must be clean")
	}
	v.Touch()
	if n := v.Touch(); n != 2 || !v.Dirty() {
		t.Fatalf("expected 2 dirty updates, got %d", n)
	}
	v.MarkClean()
	if v.Dirty() || v.Touch() != 1 {
		t.Fatalf("counter not reset")
	}
}

func TestConcurrentCreate(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	seen := make([]*Vehicle, 64)
	for i := range seen {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _ := s.GetOrCreate(fmt.Sprintf("v%d", i%4), "f")
			seen[i] = v
		}(i)
	}
	wg.Wait()
	if s.Len() != 4 {
		t.Fatalf("expected 4 vehicles, got %d", s.Len())
	}
	for i, v := range seen {
		if want, _ := s.Get(fmt.Sprintf("v%d", i%4)); want != v {
			t.Fatalf("duplicate vehicle created for %s", v.ID)
		}
	}
	var visited []string
	s.Each(func(v *Vehicle) { visited = append(visited, v.ID) })
	if len(visited) != 4 || visited[0] != "v0" {
		t.Fatalf("unexpected visit order %v", visited)
	}
}
