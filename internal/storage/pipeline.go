package storage

import (
	"context"
	"time"

	appconfig "liqflow/config"
	"liqflow/internal/models"
	"liqflow/logger"
)

// Pipeline is the three-tier storage facade. Record never blocks on the warm
// or cold tier; the hot buffer is the only synchronous write, and Recent is
// always served from it.
type Pipeline struct {
	buffers *BufferSet
	cache   *Cache
	writer  *AsyncWriter
	log     *logger.Log
}

// NewPipeline wires the tiers together. cache and writer may be nil when the
// corresponding tier is disabled.
func NewPipeline(cfg *appconfig.Config, cache *Cache, writer *AsyncWriter) *Pipeline {
	return &Pipeline{
		buffers: NewBufferSet(cfg.Storage.Buffer.CapacityPerSymbol),
		cache:   cache,
		writer:  writer,
		log:     logger.GetLogger(),
	}
}

// Start launches the async tiers.
func (p *Pipeline) Start(ctx context.Context) error {
	if p.cache != nil {
		p.cache.Start(ctx)
	}
	if p.writer != nil {
		if err := p.writer.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stop shuts the async tiers down, cold tier last so it can flush.
func (p *Pipeline) Stop() {
	if p.cache != nil {
		p.cache.Stop()
	}
	if p.writer != nil {
		p.writer.Stop()
	}
}

// Record stores the event in the hot buffer and hands it to the warm and
// cold tiers without waiting on either.
func (p *Pipeline) Record(event models.LiquidationEvent) {
	p.buffers.Add(event)
	if p.cache != nil {
		p.cache.Store(event)
	}
	if p.writer != nil {
		p.writer.Enqueue(event)
	}
}

// Recent returns buffered events for the symbol within the trailing window,
// oldest first in canonical order.
func (p *Pipeline) Recent(symbol string, window time.Duration) []models.LiquidationEvent {
	return p.buffers.Recent(symbol, window)
}

// Symbols lists symbols present in the hot tier.
func (p *Pipeline) Symbols() []string {
	return p.buffers.Symbols()
}
