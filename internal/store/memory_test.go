package store

import (
	"sync"
	"testing"
	"time"

	"mapahead/internal/model"
)

func twoPoints() []model.RoutePoint {
	return []model.RoutePoint{{Lat: 47.0, Lon: 10.0}, {Lat: 47.0, Lon: 10.1}}
}

func TestPutGetEvict(t *testing.T) {
	m := NewMemory(0, -1)
	defer m.Close()

	id, err := m.Put(twoPoints(), "alps.gpx")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	e, err := m.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e.Filename != "alps.gpx" || e.Index.TotalLength() <= 0 {
		t.Fatalf("bad entry: %+v", e)
	}
	if !m.Evict(id) {
		t.Fatal("Evict returned false for existing route")
	}
	if _, err := m.Get(id); err != ErrNotFound {
		t.Fatalf("Get after evict: got %v, want ErrNotFound", err)
	}
	if m.Evict(id) {
		t.Fatal("Evict returned true for missing route")
	}
}

func TestPutRejectsShortRoutes(t *testing.T) {
	m := NewMemory(0, -1)
	defer m.Close()

	if _, err := m.Put([]model.RoutePoint{{Lat: 47, Lon: 10}}, ""); err != ErrInvalidRoute {
		t.Fatalf("got %v, want ErrInvalidRoute", err)
	}
	if _, err := m.Put(nil, ""); err != ErrInvalidRoute {
		t.Fatalf("got %v, want ErrInvalidRoute", err)
	}
}

func TestCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	m := NewMemory(2, -1)
	defer m.Close()

	first, _ := m.Put(twoPoints(), "a.gpx")
	time.Sleep(2 * time.Millisecond)
	second, _ := m.Put(twoPoints(), "b.gpx")
	time.Sleep(2 * time.Millisecond)

	// Touch the first route so the second becomes the eviction candidate.
	if _, err := m.Get(first); err != nil {
		t.Fatalf("Get first: %v", err)
	}
	time.Sleep(2 * time.Millisecond)

	third, _ := m.Put(twoPoints(), "c.gpx")
	if m.Len() != 2 {
		t.Fatalf("len: got %d, want 2", m.Len())
	}
	if _, err := m.Get(second); err != ErrNotFound {
		t.Fatalf("expected second route evicted, got %v", err)
	}
	for _, id := range []string{first, third} {
		if _, err := m.Get(id); err != nil {
			t.Fatalf("route %s should have survived: %v", id, err)
		}
	}
}

func TestConcurrentReaders(t *testing.T) {
	m := NewMemory(0, -1)
	defer m.Close()

	id, err := m.Put(twoPoints(), "")
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, err := m.Get(id); err != nil {
					t.Errorf("Get: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}
