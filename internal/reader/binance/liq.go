package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	appconfig "liqflow/config"
	liq "liqflow/internal/channel/liq"
	metrics "liqflow/internal/metrics"
	"liqflow/internal/models"
	"liqflow/logger"

	futures "github.com/adshao/go-binance/v2/futures"
	"github.com/sirupsen/logrus"
)

// Binance_LIQ_Reader streams liquidation orders from the Binance futures
// websocket API and forwards raw payloads to the configured channel.
type Binance_LIQ_Reader struct {
	config   *appconfig.Config
	channels *liq.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
	symbols  []string

	healthMu    sync.RWMutex
	lastEventMs int64
	consecErrs  int
}

// Binance_LIQ_NewReader constructs a new liquidation reader.
func Binance_LIQ_NewReader(cfg *appconfig.Config, ch *liq.Channels, symbols []string) *Binance_LIQ_Reader {
	return &Binance_LIQ_Reader{
		config:   cfg,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		symbols:  symbols,
	}
}

// Binance_LIQ_Start launches websocket subscriptions for each configured
// symbol. Subscriptions are restarted automatically until the context is
// cancelled.
func (r *Binance_LIQ_Reader) Binance_LIQ_Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("binance liquidation reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	cfg := r.config.Source.Binance
	log := r.log.WithComponent("binance_liq_reader").WithFields(logger.Fields{"operation": "Binance_LIQ_Start"})

	if cfg == nil || !cfg.Enabled {
		log.Warn("binance futures liquidation stream disabled via configuration")
		return fmt.Errorf("binance futures liquidation stream disabled")
	}
	if len(r.symbols) == 0 {
		if len(cfg.Symbols) == 0 {
			log.Warn("no symbols configured for binance liquidation reader")
			return fmt.Errorf("no symbols configured for binance liquidation reader")
		}
		r.symbols = cfg.Symbols
	}

	log.WithFields(logger.Fields{"symbols": strings.Join(r.symbols, ",")}).Info("starting binance liquidation reader")

	for _, symbol := range r.symbols {
		sym := strings.ToUpper(symbol)
		r.wg.Add(1)
		go r.streamSymbol(sym)
	}

	log.Info("binance liquidation reader started successfully")
	return nil
}

// Binance_LIQ_Stop waits for all symbol workers to stop.
func (r *Binance_LIQ_Reader) Binance_LIQ_Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("binance_liq_reader").Info("stopping binance liquidation reader")
	r.wg.Wait()
	r.log.WithComponent("binance_liq_reader").Info("binance liquidation reader stopped")
}

// Health reports the connector status for external monitoring.
func (r *Binance_LIQ_Reader) Health() models.ConnectorHealth {
	r.mu.RLock()
	running := r.running
	r.mu.RUnlock()

	r.healthMu.RLock()
	defer r.healthMu.RUnlock()

	state := models.ConnectorConnected
	switch {
	case !running:
		state = models.ConnectorStopped
	case r.consecErrs > 0:
		state = models.ConnectorErroring
	case r.isStale():
		state = models.ConnectorStale
	}

	return models.ConnectorHealth{
		Exchange:        models.ExchangeBinance,
		State:           state,
		LastEventTimeMs: r.lastEventMs,
		ConsecutiveErrs: r.consecErrs,
	}
}

func (r *Binance_LIQ_Reader) isStale() bool {
	staleAfter := r.config.Source.Binance.StaleAfter
	if staleAfter <= 0 || r.lastEventMs == 0 {
		return false
	}
	return time.Since(time.UnixMilli(r.lastEventMs)) > staleAfter
}

func (r *Binance_LIQ_Reader) markEvent(eventTimeMs int64) {
	r.healthMu.Lock()
	r.lastEventMs = eventTimeMs
	r.consecErrs = 0
	r.healthMu.Unlock()
}

func (r *Binance_LIQ_Reader) markError() {
	r.healthMu.Lock()
	r.consecErrs++
	r.healthMu.Unlock()
}

func (r *Binance_LIQ_Reader) streamSymbol(symbol string) {
	defer r.wg.Done()

	log := r.log.WithComponent("binance_liq_reader").WithFields(logger.Fields{
		"symbol": symbol,
		"worker": "liquidation_stream",
	})

	handler := func(event *futures.WsLiquidationOrderEvent) {
		payload, err := json.Marshal(event)
		if err != nil {
			log.WithError(err).Warn("failed to marshal liquidation event")
			return
		}

		r.markEvent(event.Time)

		msg := models.RawLiquidationMessage{
			Exchange:      models.ExchangeBinance,
			Symbol:        strings.ToUpper(event.LiquidationOrder.Symbol),
			Data:          payload,
			ReceiveTimeNs: time.Now().UnixNano(),
		}

		if r.channels.SendRaw(r.ctx, msg) {
			if log.Logger.IsLevelEnabled(logrus.DebugLevel) {
				log.WithFields(logger.Fields{
					"payload_bytes": len(payload),
					"side":          event.LiquidationOrder.Side,
				}).Debug("forwarded liquidation event to raw channel")
			}
		} else if r.ctx.Err() != nil {
			return
		} else {
			metrics.EmitDropMetric(r.log, metrics.DropMetricLiquidationRaw, "binance", symbol, "raw")
			log.Warn("liquidation raw channel full, dropping message")
		}
	}

	errHandler := func(err error) {
		if err != nil {
			r.markError()
			log.WithError(err).Warn("websocket error")
		}
	}

	reconnect := r.config.Source.Binance.ReconnectDelay
	if reconnect <= 0 {
		reconnect = 5 * time.Second
	}

	for {
		if r.ctx.Err() != nil {
			return
		}

		doneC, stopC, err := futures.WsLiquidationOrderServe(symbol, handler, errHandler)
		if err != nil {
			r.markError()
			log.WithError(err).Error("failed to subscribe to liquidation stream")
			select {
			case <-time.After(reconnect):
				continue
			case <-r.ctx.Done():
				return
			}
		}

		select {
		case <-r.ctx.Done():
			close(stopC)
			<-doneC
			return
		case <-doneC:
			log.Warn("liquidation stream closed, reconnecting")
			close(stopC)
			select {
			case <-r.ctx.Done():
				<-doneC
				return
			case <-time.After(reconnect):
			}
		}
	}
}
