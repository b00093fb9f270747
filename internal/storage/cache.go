package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	appconfig "liqflow/config"
	"liqflow/internal/models"
	"liqflow/logger"
)

const cacheWarnInterval = time.Minute

// KVStore is the warm-tier backend: SETEX style writes with a TTL.
type KVStore interface {
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool)
}

type redisStore struct {
	client *redis.Client
}

func (r *redisStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, val, ttl).Err()
}

func (r *redisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return b, true
}

// Cache is the warm tier: the most recent events per (exchange, symbol) are
// kept in redis under a TTL so sibling processes can observe ingestion.
// A nil or unreachable backend disables the tier without affecting callers.
type Cache struct {
	store      KVStore
	ttl        time.Duration
	maxEvents  int
	log        *logger.Log
	queue      chan models.LiquidationEvent
	wg         sync.WaitGroup
	cancel     context.CancelFunc
	mu         sync.Mutex
	recent     map[string][]models.LiquidationEvent
	lastWarnAt time.Time
	started    bool
}

// NewCache builds the warm tier from config. Returns a disabled cache when
// the tier is off or redis cannot be reached.
func NewCache(cfg *appconfig.Config) *Cache {
	log := logger.GetLogger()
	c := &Cache{
		ttl:       cfg.Storage.Redis.TTL,
		maxEvents: cfg.Storage.Redis.MaxEvents,
		log:       log,
		recent:    make(map[string][]models.LiquidationEvent),
	}
	if c.ttl <= 0 {
		c.ttl = 5 * time.Minute
	}
	if c.maxEvents <= 0 {
		c.maxEvents = 100
	}

	if !cfg.Storage.Redis.Enabled {
		return c
	}

	opt, err := redis.ParseURL(cfg.Storage.Redis.URL)
	if err != nil {
		log.WithComponent("liq_cache").WithError(err).Warn("invalid redis url, warm tier disabled")
		return c
	}
	client := redis.NewClient(opt)
	ctx, cancelPing := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelPing()
	if err := client.Ping(ctx).Err(); err != nil {
		log.WithComponent("liq_cache").WithError(err).Warn("redis unreachable, warm tier disabled")
		return c
	}

	c.store = &redisStore{client: client}
	log.WithComponent("liq_cache").Info("warm cache tier enabled")
	return c
}

// NewCacheWithStore is used by the pipeline and tests to inject a backend.
func NewCacheWithStore(store KVStore, ttl time.Duration, maxEvents int) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxEvents <= 0 {
		maxEvents = 100
	}
	return &Cache{
		store:     store,
		ttl:       ttl,
		maxEvents: maxEvents,
		log:       logger.GetLogger(),
		recent:    make(map[string][]models.LiquidationEvent),
	}
}

// Enabled reports whether the tier has a live backend.
func (c *Cache) Enabled() bool {
	return c != nil && c.store != nil
}

// Start launches the async write worker. A disabled cache starts nothing.
func (c *Cache) Start(ctx context.Context) {
	if !c.Enabled() {
		return
	}
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.queue = make(chan models.LiquidationEvent, 1024)
	var workerCtx context.Context
	workerCtx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.worker(workerCtx)
}

// Stop drains the worker.
func (c *Cache) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

// Store queues the event for an async warm-tier write. Never blocks; on a
// full queue the write is skipped.
func (c *Cache) Store(event models.LiquidationEvent) {
	if !c.Enabled() {
		return
	}
	c.mu.Lock()
	started := c.started
	queue := c.queue
	c.mu.Unlock()
	if !started {
		return
	}
	select {
	case queue <- event:
	default:
	}
}

func (c *Cache) worker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-c.queue:
			c.write(ctx, event)
		}
	}
}

func (c *Cache) write(ctx context.Context, event models.LiquidationEvent) {
	key := cacheKey(event.Exchange, event.Symbol)

	c.mu.Lock()
	list := append(c.recent[key], event)
	if len(list) > c.maxEvents {
		list = list[len(list)-c.maxEvents:]
	}
	c.recent[key] = list
	payload, err := json.Marshal(list)
	c.mu.Unlock()
	if err != nil {
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.store.Set(writeCtx, key, payload, c.ttl); err != nil {
		c.warnOnce(err)
		return
	}
	logger.IncrementCacheWrite(len(payload))
}

// warnOnce rate limits backend failure logging so a dead redis does not spam.
func (c *Cache) warnOnce(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.lastWarnAt) < cacheWarnInterval {
		return
	}
	c.lastWarnAt = time.Now()
	c.log.WithComponent("liq_cache").WithError(err).Warn("warm tier write failed, continuing without cache")
}

func cacheKey(exchange models.Exchange, symbol string) string {
	return fmt.Sprintf("liqflow:recent:%s:%s", strings.ToLower(string(exchange)), strings.ToUpper(symbol))
}
