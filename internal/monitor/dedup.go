package monitor

import (
	"sync"
	"time"
)

// Dedup remembers signatures for a TTL so a live feed that repeats a
// notification does not start a second fetch for it. It only saves work; the
// reconciliation engine stays correct without it.
type Dedup struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Seen reports whether signature was marked within the TTL, and marks it
// when it was not.
func (d *Dedup) Seen(signature string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if at, ok := d.seen[signature]; ok && now.Sub(at) < d.ttl {
		return true
	}
	d.seen[signature] = now
	return false
}

// Forget drops signature so its next delivery is processed again.
func (d *Dedup) Forget(signature string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, signature)
}

// Cleanup forgets expired signatures.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for sig, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, sig)
		}
	}
}

// Len returns the number of remembered signatures.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
