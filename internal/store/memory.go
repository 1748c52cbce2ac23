package store

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mapahead/internal/model"
	"mapahead/internal/route"
)

// Default bounds for the in-memory registry. Routes only live for the
// serving process, but unbounded growth is still a resource leak, so the
// store caps entries and ages out idle routes.
const (
	DefaultCapacity = 256
	DefaultTTL      = 24 * time.Hour

	janitorInterval = 5 * time.Minute
)

// Memory is the in-memory Store. Writes happen once per upload; reads may
// run concurrently under the read lock. Last-access times are tracked
// atomically so Get never takes the write lock.
type Memory struct {
	mu       sync.RWMutex
	entries  map[string]*memEntry
	capacity int
	ttl      time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

type memEntry struct {
	Entry
	lastAccess atomic.Int64 // UnixNano
}

// NewMemory creates a Memory store with the given bounds and starts the
// eviction janitor. Zero values select the defaults; a negative ttl disables
// time-based eviction.
func NewMemory(capacity int, ttl time.Duration) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl == 0 {
		ttl = DefaultTTL
	}
	m := &Memory{
		entries:  make(map[string]*memEntry),
		capacity: capacity,
		ttl:      ttl,
		stop:     make(chan struct{}),
	}
	go m.janitor()
	return m
}

// Put indexes the samples and registers the route under a fresh id.
func (m *Memory) Put(points []model.RoutePoint, filename string) (string, error) {
	ix, err := route.NewIndex(points)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	e := &memEntry{Entry: Entry{ID: id, Index: ix, Filename: filename, CreatedAt: time.Now()}}
	e.lastAccess.Store(time.Now().UnixNano())

	m.mu.Lock()
	m.entries[id] = e
	if len(m.entries) > m.capacity {
		m.evictOldestLocked()
	}
	m.mu.Unlock()

	log.Printf("store: route %s registered (%d points, %.1f km)", id, len(ix.Points()), ix.TotalLength())
	return id, nil
}

// Get returns the entry for id, refreshing its last-access time.
func (m *Memory) Get(id string) (*Entry, error) {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	e.lastAccess.Store(time.Now().UnixNano())
	return &e.Entry, nil
}

// Evict removes the route if present.
func (m *Memory) Evict(id string) bool {
	m.mu.Lock()
	_, ok := m.entries[id]
	delete(m.entries, id)
	m.mu.Unlock()
	return ok
}

// Len returns the number of stored routes.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close stops the eviction janitor.
func (m *Memory) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Memory) evictOldestLocked() {
	var oldestID string
	var oldest int64
	for id, e := range m.entries {
		if la := e.lastAccess.Load(); oldestID == "" || la < oldest {
			oldestID, oldest = id, la
		}
	}
	if oldestID != "" {
		delete(m.entries, oldestID)
		log.Printf("store: route %s evicted (capacity %d reached)", oldestID, m.capacity)
	}
}

func (m *Memory) janitor() {
	if m.ttl < 0 {
		return
	}
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-m.ttl).UnixNano()
			m.mu.Lock()
			for id, e := range m.entries {
				if e.lastAccess.Load() < cutoff {
					delete(m.entries, id)
					log.Printf("store: route %s evicted (idle beyond %s)", id, m.ttl)
				}
			}
			m.mu.Unlock()
		}
	}
}
