package watcher

import (
	"sync"
	"time"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

// Dedup remembers request ids for a TTL so overlapping scans and log
// replays after a re-org do not emit the same assignment twice. It is safe
// for concurrent use.
type Dedup struct {
	seen map[domain.RequestID]time.Time
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup with the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[domain.RequestID]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Seen reports whether id was recorded within the TTL. An unseen or expired
// id is recorded and false is returned.
func (d *Dedup) Seen(id domain.RequestID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if at, ok := d.seen[id]; ok && now.Sub(at) < d.ttl {
		return true
	}
	d.seen[id] = now
	return false
}

// Cleanup drops expired entries.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, id)
		}
	}
}

// Len returns the number of remembered ids.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
