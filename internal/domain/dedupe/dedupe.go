// Package dedupe remembers recently seen ids so repeated work can be skipped.
package dedupe

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Deduper records seen ids. Entries expire after a TTL and the oldest entry
// is evicted once the size bound is reached.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen and has not expired.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id, typically because the work it guarded failed.
	Unrecord(ctx context.Context, id string)

	Size() int
}

type entry struct {
	id   string
	seen time.Time
}

// inMemoryDeduper keeps ids in insertion order; the list front is the newest.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: defaultMaxSize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]*list.Element)
	d.order = list.New()
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if el, ok := d.seen[id]; ok {
		if !d.expired(el.Value.(entry), now) {
			return true
		}
		d.remove(el)
	}

	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.remove(d.order.Back())
	}
	d.seen[id] = d.order.PushFront(entry{id: id, seen: now})
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.seen[id]; ok {
		d.remove(el)
	}
}

func (d *inMemoryDeduper) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *inMemoryDeduper) expired(e entry, now time.Time) bool {
	return d.ttl > 0 && now.Sub(e.seen) >= d.ttl
}

// remove must be called with d.mu held.
func (d *inMemoryDeduper) remove(el *list.Element) {
	if el == nil {
		return
	}
	delete(d.seen, el.Value.(entry).id)
	d.order.Remove(el)
}
