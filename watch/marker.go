package watch

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultMarkerTTL is how long a mark lasts if nothing consumes it.
const DefaultMarkerTTL = 2 * time.Second

// Marker remembers paths that were just changed,
// so that the echo of a change
// (a "modified" event that follows a create or a write)
// is not sent a second time.
// Each mark is consumed by the first matching check,
// or expires after its TTL.
// At most size marks are kept;
// the least recently used go first.
type Marker struct {
	c   *lru.Cache // path -> time.Time of marking
	ttl time.Duration

	mu  sync.Mutex // serializes Consume
	now func() time.Time
}

func NewMarker(size int, ttl time.Duration) (*Marker, error) {
	c, err := lru.New(size)
	return &Marker{c: c, ttl: ttl, now: time.Now}, err
}

// Mark records path as just changed.
func (m *Marker) Mark(path string) {
	m.c.Add(path, m.now())
}

// Consume tells whether path was marked and the mark has not expired,
// removing the mark in either case.
func (m *Marker) Consume(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	got, ok := m.c.Get(path)
	if !ok {
		return false
	}
	m.c.Remove(path)
	return m.now().Sub(got.(time.Time)) < m.ttl
}

// Len is the number of marks held, expired or not.
func (m *Marker) Len() int {
	return m.c.Len()
}
