package processor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	appconfig "liqflow/config"
	liqchannel "liqflow/internal/channel/liq"
	metrics "liqflow/internal/metrics"
	"liqflow/internal/models"
	"liqflow/logger"
)

// Venue clocks drift by at most a few seconds; an event timestamp further
// ahead of the local receive time than this is treated as corrupted.
const maxEventTimeSkewMs = 5_000

// StorageSink receives every accepted event for persistence.
type StorageSink interface {
	Record(event models.LiquidationEvent)
}

// VelocitySink receives every accepted event for sliding-window statistics.
type VelocitySink interface {
	AddEvent(event models.LiquidationEvent)
}

// Router consumes raw liquidation payloads, normalizes them per exchange,
// drops duplicates, assigns local sequence numbers and fans the canonical
// events out to storage and the velocity engine.
type Router struct {
	config   *appconfig.Config
	channels *liqchannel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	dedup    *dedupSet
	seq      atomic.Uint64
	storage  StorageSink
	velocity VelocitySink
	onEvent  func(event models.LiquidationEvent)
}

// NewRouter builds the ingestion router. Either sink may be nil, which skips
// that fan-out leg.
func NewRouter(cfg *appconfig.Config, ch *liqchannel.Channels, storage StorageSink, velocity VelocitySink) *Router {
	capacity := cfg.Router.DedupCapacity
	if capacity <= 0 {
		capacity = 65536
	}
	return &Router{
		config:   cfg,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		dedup:    newDedupSet(capacity),
		storage:  storage,
		velocity: velocity,
	}
}

// SetEventHook registers a callback invoked for every accepted event, after
// fan-out. Must be called before Start.
func (r *Router) SetEventHook(fn func(event models.LiquidationEvent)) {
	r.onEvent = fn
}

// Start launches the worker pool consuming the raw channel.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("ingestion router already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	log := r.log.WithComponent("ingestion_router").WithFields(logger.Fields{"operation": "start"})

	workers := r.config.Router.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	log.WithFields(logger.Fields{"workers": workers}).Info("ingestion router started")
	return nil
}

// Stop waits for all workers to drain.
func (r *Router) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("ingestion_router").Info("stopping ingestion router")
	r.wg.Wait()
	r.log.WithComponent("ingestion_router").Info("ingestion router stopped")
}

func (r *Router) worker(id int) {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case raw, ok := <-r.channels.Raw:
			if !ok {
				return
			}
			r.handleMessage(raw)
		}
	}
}

func (r *Router) handleMessage(raw models.RawLiquidationMessage) {
	var (
		events []models.LiquidationEvent
		ok     bool
	)

	switch raw.Exchange {
	case models.ExchangeBinance:
		events, ok = normalizeBinanceLiq(raw)
	case models.ExchangeBybit:
		events, ok = normalizeBybitLiq(raw)
	case models.ExchangeOkx:
		events, ok = normalizeOkxLiq(raw)
	case models.ExchangeKucoin:
		events, ok = normalizeKucoinLiq(raw)
	case models.ExchangeHyperliquid:
		invert := false
		if hl := r.config.Source.Hyperliquid; hl != nil {
			invert = hl.InvertSideInference
		}
		events, ok = normalizeHyperliquidLiq(raw, invert)
	default:
		r.log.WithComponent("ingestion_router").WithFields(logger.Fields{
			"exchange": raw.Exchange,
		}).Debug("unsupported liquidation exchange, dropping message")
		return
	}

	if !ok {
		metrics.EmitDropMetric(r.log, metrics.DropMetricParse, string(raw.Exchange), raw.Symbol, "parse")
		r.log.WithComponent("ingestion_router").WithFields(logger.Fields{
			"exchange": raw.Exchange,
			"symbol":   raw.Symbol,
		}).Debug("unparseable liquidation payload, dropping message")
		return
	}

	for i := range events {
		r.acceptEvent(&events[i], raw)
	}
}

func (r *Router) acceptEvent(event *models.LiquidationEvent, raw models.RawLiquidationMessage) {
	if r.dedup.Seen(event.DedupKey) {
		metrics.EmitDropMetric(r.log, metrics.DropMetricDuplicate, string(event.Exchange), event.Symbol, "dedup")
		return
	}

	event.ReceiveTimeNs = raw.ReceiveTimeNs
	if event.ReceiveTimeNs == 0 {
		event.ReceiveTimeNs = time.Now().UnixNano()
	}
	recvMs := event.ReceiveTimeNs / int64(time.Millisecond)
	if event.EventTimeMs == 0 || event.EventTimeMs > recvMs+maxEventTimeSkewMs {
		event.EventTimeMs = recvMs
	}
	event.LocalSeq = r.seq.Add(1)

	if r.storage != nil {
		r.storage.Record(*event)
	}
	if r.velocity != nil {
		r.velocity.AddEvent(*event)
	}
	logger.IncrementEventIngested(len(raw.Data))

	if r.onEvent != nil {
		r.onEvent(*event)
	}
}
