package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"liqflow/config"
	"liqflow/internal/models"
)

type failingSink struct {
	mu       sync.Mutex
	attempts int
}

func (f *failingSink) Put(ctx context.Context, key string, data []byte) error {
	f.mu.Lock()
	f.attempts++
	f.mu.Unlock()
	return errors.New("sink unavailable")
}

type memorySink struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemorySink() *memorySink {
	return &memorySink{objects: make(map[string][]byte)}
}

func (m *memorySink) Put(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	m.objects[key] = append([]byte(nil), data...)
	m.mu.Unlock()
	return nil
}

func (m *memorySink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

type memoryKV struct {
	mu    sync.Mutex
	items map[string][]byte
	fail  bool
}

func newMemoryKV() *memoryKV {
	return &memoryKV{items: make(map[string][]byte)}
}

func (m *memoryKV) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("kv unavailable")
	}
	m.items[key] = append([]byte(nil), val...)
	return nil
}

func (m *memoryKV) Get(ctx context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	return v, ok
}

func storageConfig() *config.Config {
	return &config.Config{
		Storage: config.StorageConfig{
			Buffer: config.BufferConfig{CapacityPerSymbol: 32},
			Writer: config.WriterConfig{
				BatchSize:       4,
				FlushInterval:   50 * time.Millisecond,
				QueueCapacity:   16,
				ShutdownTimeout: time.Second,
			},
		},
	}
}

func pipelineEvent(symbol string, seq uint64) models.LiquidationEvent {
	now := time.Now()
	return models.LiquidationEvent{
		Exchange:      models.ExchangeBybit,
		Symbol:        symbol,
		Side:          models.SideShort,
		Price:         200,
		Quantity:      2,
		ValueUSD:      400,
		EventTimeMs:   now.UnixMilli(),
		ReceiveTimeNs: now.UnixNano(),
		LocalSeq:      seq,
	}
}

func TestPipelineSurvivesFailingDurableSink(t *testing.T) {
	cfg := storageConfig()
	sink := &failingSink{}
	w := NewAsyncWriter(cfg, sink)
	p := NewPipeline(cfg, nil, w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		p.Record(pipelineEvent("BTC", uint64(i+1)))
	}

	got := p.Recent("BTC", time.Minute)
	if len(got) != 10 {
		t.Fatalf("hot tier must serve reads despite sink failures, got %d events", len(got))
	}

	p.Stop()

	sink.mu.Lock()
	attempts := sink.attempts
	sink.mu.Unlock()
	if attempts == 0 {
		t.Error("expected the writer to have attempted the failing sink")
	}
	if w.Stats().ErrorsCount == 0 {
		t.Error("expected sink failures to be counted")
	}
}

func TestPipelineWarmTierWriteThrough(t *testing.T) {
	cfg := storageConfig()
	kv := newMemoryKV()
	cache := NewCacheWithStore(kv, time.Minute, 10)
	p := NewPipeline(cfg, cache, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	p.Record(pipelineEvent("ETH", 1))

	deadline := time.Now().Add(2 * time.Second)
	key := cacheKey(models.ExchangeBybit, "ETH")
	for time.Now().Before(deadline) {
		if _, ok := kv.Get(context.Background(), key); ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := kv.Get(context.Background(), key); !ok {
		t.Fatal("expected warm tier key to be written")
	}

	p.Stop()
}

func TestPipelineWarmTierFailureIsSilent(t *testing.T) {
	cfg := storageConfig()
	kv := newMemoryKV()
	kv.fail = true
	cache := NewCacheWithStore(kv, time.Minute, 10)
	p := NewPipeline(cfg, cache, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		p.Record(pipelineEvent("SOL", uint64(i+1)))
	}
	time.Sleep(50 * time.Millisecond)

	if got := p.Recent("SOL", time.Minute); len(got) != 5 {
		t.Errorf("hot tier must be unaffected by warm tier failure, got %d", len(got))
	}
	p.Stop()
}

func TestAsyncWriterBatchesBySize(t *testing.T) {
	cfg := storageConfig()
	sink := newMemorySink()
	w := NewAsyncWriter(cfg, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 4; i++ {
		w.Enqueue(pipelineEvent("BTC", uint64(i+1)))
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && sink.count() == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if sink.count() == 0 {
		t.Fatal("expected a parquet object after reaching batch size")
	}

	w.Stop()
	stats := w.Stats()
	if stats.FilesWritten == 0 || stats.BytesWritten == 0 {
		t.Errorf("expected write counters to advance: %+v", stats)
	}
}

func TestAsyncWriterFinalFlushOnStop(t *testing.T) {
	cfg := storageConfig()
	cfg.Storage.Writer.BatchSize = 100
	cfg.Storage.Writer.FlushInterval = time.Hour
	sink := newMemorySink()
	w := NewAsyncWriter(cfg, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	w.Enqueue(pipelineEvent("ETH", 1))
	w.Enqueue(pipelineEvent("ETH", 2))
	w.Stop()

	if sink.count() != 1 {
		t.Fatalf("expected one flushed object on stop, got %d", sink.count())
	}
}

func TestAsyncWriterQueueOverflowDropsOldest(t *testing.T) {
	cfg := storageConfig()
	cfg.Storage.Writer.QueueCapacity = 2
	sink := newMemorySink()
	w := NewAsyncWriter(cfg, sink)

	// not started: queue fills and overflows deterministically
	w.Enqueue(pipelineEvent("BTC", 1))
	w.Enqueue(pipelineEvent("BTC", 2))
	w.Enqueue(pipelineEvent("BTC", 3))

	if len(w.queue) != 2 {
		t.Fatalf("queue must stay bounded, got %d", len(w.queue))
	}
	first := <-w.queue
	if first.LocalSeq != 2 {
		t.Errorf("expected oldest event dropped, head is seq %d", first.LocalSeq)
	}
}
