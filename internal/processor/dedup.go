package processor

import "sync"

// dedupSet is a bounded set of recently seen dedup keys. Insertion order is
// tracked in a ring so the oldest key is evicted once capacity is reached.
type dedupSet struct {
	mu   sync.Mutex
	keys map[string]struct{}
	ring []string
	next int
}

func newDedupSet(capacity int) *dedupSet {
	if capacity < 1 {
		capacity = 1
	}
	return &dedupSet{
		keys: make(map[string]struct{}, capacity),
		ring: make([]string, capacity),
	}
}

// Seen records the key and reports whether it was already present.
func (d *dedupSet) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.keys[key]; ok {
		return true
	}
	if old := d.ring[d.next]; old != "" {
		delete(d.keys, old)
	}
	d.ring[d.next] = key
	d.next = (d.next + 1) % len(d.ring)
	d.keys[key] = struct{}{}
	return false
}

func (d *dedupSet) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.keys)
}
