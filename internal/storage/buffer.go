package storage

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"liqflow/internal/models"
)

const bufferShardCount = 16

// ringBuffer holds the most recent events for one symbol in a fixed-capacity
// ring. The oldest entry is overwritten silently once full.
type ringBuffer struct {
	mu     sync.Mutex
	events []models.LiquidationEvent
	next   int
	filled bool
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer{events: make([]models.LiquidationEvent, capacity)}
}

func (b *ringBuffer) add(event models.LiquidationEvent) {
	b.mu.Lock()
	b.events[b.next] = event
	b.next++
	if b.next == len(b.events) {
		b.next = 0
		b.filled = true
	}
	b.mu.Unlock()
}

// snapshot returns buffered events within the window, oldest first in
// canonical order.
func (b *ringBuffer) snapshot(window time.Duration, now time.Time) []models.LiquidationEvent {
	b.mu.Lock()
	size := b.next
	if b.filled {
		size = len(b.events)
	}
	out := make([]models.LiquidationEvent, 0, size)
	start := 0
	if b.filled {
		start = b.next
	}
	cutoffMs := int64(0)
	if window > 0 {
		cutoffMs = now.Add(-window).UnixMilli()
	}
	for i := 0; i < size; i++ {
		ev := b.events[(start+i)%len(b.events)]
		if ev.EventTimeMs >= cutoffMs {
			out = append(out, ev)
		}
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Before(&out[j])
	})
	return out
}

type bufferShard struct {
	mu      sync.RWMutex
	buffers map[string]*ringBuffer
}

// BufferSet is the hot tier: per-symbol ring buffers behind sharded locks so
// concurrent writers for different symbols rarely contend.
type BufferSet struct {
	shards            [bufferShardCount]*bufferShard
	capacityPerSymbol int
}

// NewBufferSet creates the hot tier with the given per-symbol capacity.
func NewBufferSet(capacityPerSymbol int) *BufferSet {
	if capacityPerSymbol < 1 {
		capacityPerSymbol = 1
	}
	s := &BufferSet{capacityPerSymbol: capacityPerSymbol}
	for i := range s.shards {
		s.shards[i] = &bufferShard{buffers: make(map[string]*ringBuffer)}
	}
	return s
}

func (s *BufferSet) shardFor(symbol string) *bufferShard {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return s.shards[h.Sum32()%bufferShardCount]
}

func (s *BufferSet) bufferFor(symbol string) *ringBuffer {
	shard := s.shardFor(symbol)
	shard.mu.RLock()
	buf, ok := shard.buffers[symbol]
	shard.mu.RUnlock()
	if ok {
		return buf
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()
	if buf, ok = shard.buffers[symbol]; ok {
		return buf
	}
	buf = newRingBuffer(s.capacityPerSymbol)
	shard.buffers[symbol] = buf
	return buf
}

// Add appends the event to the symbol's ring buffer.
func (s *BufferSet) Add(event models.LiquidationEvent) {
	s.bufferFor(event.Symbol).add(event)
}

// Recent returns buffered events for the symbol within the trailing window,
// oldest first. window <= 0 returns the whole buffer.
func (s *BufferSet) Recent(symbol string, window time.Duration) []models.LiquidationEvent {
	shard := s.shardFor(symbol)
	shard.mu.RLock()
	buf, ok := shard.buffers[symbol]
	shard.mu.RUnlock()
	if !ok {
		return nil
	}
	return buf.snapshot(window, time.Now())
}

// Symbols lists symbols with at least one buffered event.
func (s *BufferSet) Symbols() []string {
	var out []string
	for _, shard := range s.shards {
		shard.mu.RLock()
		for sym := range shard.buffers {
			out = append(out, sym)
		}
		shard.mu.RUnlock()
	}
	sort.Strings(out)
	return out
}
