package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	appconfig "liqflow/config"
	liq "liqflow/internal/channel/liq"
	metrics "liqflow/internal/metrics"
	"liqflow/internal/models"
	"liqflow/logger"

	"golang.org/x/time/rate"
)

const defaultInfoURL = "https://api.hyperliquid.xyz/info"

// VaultFill is one fill returned by the info endpoint for a vault address.
// Price and size arrive as decimal strings.
type VaultFill struct {
	Coin   string `json:"coin"`
	Px     string `json:"px"`
	Sz     string `json:"sz"`
	Side   string `json:"side"`
	TimeMs int64  `json:"time"`
	Tid    int64  `json:"tid"`
	Hash   string `json:"hash"`
	Dir    string `json:"dir"`
}

// VaultFillEnvelope is the payload forwarded to the raw channel for each
// reconstructed liquidation fill. The vault address travels with the fill so
// the normalizer can attribute the event.
type VaultFillEnvelope struct {
	Vault string    `json:"vault"`
	Fill  VaultFill `json:"fill"`
}

// Hyperliquid_LIQ_Reader reconstructs liquidation events by polling the fills
// of known liquidator vaults. There is no push feed for liquidations on this
// venue, so every vault fill is treated as one side of a forced close.
type Hyperliquid_LIQ_Reader struct {
	config   *appconfig.Config
	channels *liq.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	httpClient *http.Client
	limiter    *rate.Limiter
	vaults     []string
	symbolSet  map[string]struct{}

	healthMu    sync.RWMutex
	startedAt   time.Time
	lastEventMs int64
	consecErrs  int
	vaultLastMs map[string]int64

	seenMu   sync.Mutex
	seenTids map[int64]struct{}
	seenCap  int
}

// Hyperliquid_LIQ_NewReader constructs a new vault polling reader.
func Hyperliquid_LIQ_NewReader(cfg *appconfig.Config, ch *liq.Channels) *Hyperliquid_LIQ_Reader {
	return &Hyperliquid_LIQ_Reader{
		config:   cfg,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		seenTids: make(map[int64]struct{}),
		seenCap:  65536,
	}
}

// Hyperliquid_LIQ_Start launches the vault poll loop.
func (r *Hyperliquid_LIQ_Reader) Hyperliquid_LIQ_Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("hyperliquid liquidation reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	cfg := r.config.Source.Hyperliquid
	log := r.log.WithComponent("hyperliquid_liq_reader").WithFields(logger.Fields{
		"operation": "Hyperliquid_LIQ_Start",
	})

	if cfg == nil || !cfg.Enabled {
		log.Warn("hyperliquid vault polling disabled via configuration")
		return fmt.Errorf("hyperliquid vault polling disabled")
	}
	if len(cfg.Vaults) == 0 {
		log.Warn("no vault addresses configured for hyperliquid reader")
		return fmt.Errorf("no vault addresses configured for hyperliquid reader")
	}

	r.vaults = make([]string, 0, len(cfg.Vaults))
	for _, v := range cfg.Vaults {
		addr := strings.ToLower(strings.TrimSpace(v))
		if addr != "" {
			r.vaults = append(r.vaults, addr)
		}
	}

	r.symbolSet = make(map[string]struct{}, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		r.symbolSet[strings.ToUpper(sym)] = struct{}{}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	r.httpClient = &http.Client{Timeout: timeout}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	r.limiter = rate.NewLimiter(rate.Limit(rps), 1)

	r.healthMu.Lock()
	r.startedAt = time.Now()
	r.vaultLastMs = make(map[string]int64, len(r.vaults))
	r.healthMu.Unlock()

	log.WithFields(logger.Fields{
		"vaults":        len(r.vaults),
		"poll_interval": r.pollInterval().String(),
	}).Info("starting hyperliquid vault poller")

	r.wg.Add(1)
	go r.pollLoop()

	log.Info("hyperliquid vault poller started successfully")
	return nil
}

// Hyperliquid_LIQ_Stop waits for the poll loop to stop.
func (r *Hyperliquid_LIQ_Reader) Hyperliquid_LIQ_Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("hyperliquid_liq_reader").Info("stopping hyperliquid vault poller")
	r.wg.Wait()
	r.log.WithComponent("hyperliquid_liq_reader").Info("hyperliquid vault poller stopped")
}

// Health reports the connector status. AllVaultsStale is set when no tracked
// vault produced a fill within the staleness window, which tells consumers
// that silence means missing data rather than confirmed calm.
func (r *Hyperliquid_LIQ_Reader) Health() models.ConnectorHealth {
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
	case r.allVaultsStaleLocked():
		state = models.ConnectorStale
	}

	return models.ConnectorHealth{
		Exchange:        models.ExchangeHyperliquid,
		State:           state,
		LastEventTimeMs: r.lastEventMs,
		ConsecutiveErrs: r.consecErrs,
		AllVaultsStale:  r.allVaultsStaleLocked(),
	}
}

func (r *Hyperliquid_LIQ_Reader) allVaultsStaleLocked() bool {
	staleAfter := 5 * time.Minute
	if cfg := r.config.Source.Hyperliquid; cfg != nil && cfg.StaleAfter > 0 {
		staleAfter = cfg.StaleAfter
	}
	if r.startedAt.IsZero() || time.Since(r.startedAt) < staleAfter {
		return false
	}
	for _, lastMs := range r.vaultLastMs {
		if lastMs > 0 && time.Since(time.UnixMilli(lastMs)) <= staleAfter {
			return false
		}
	}
	return true
}

func (r *Hyperliquid_LIQ_Reader) pollInterval() time.Duration {
	if d := r.config.Source.Hyperliquid.PollInterval; d > 0 {
		return d
	}
	return 30 * time.Second
}

func (r *Hyperliquid_LIQ_Reader) infoURL() string {
	if u := strings.TrimSpace(r.config.Source.Hyperliquid.URL); u != "" {
		return u
	}
	return defaultInfoURL
}

func (r *Hyperliquid_LIQ_Reader) pollLoop() {
	defer r.wg.Done()

	log := r.log.WithComponent("hyperliquid_liq_reader").WithFields(logger.Fields{
		"worker": "vault_poller",
	})

	ticker := time.NewTicker(r.pollInterval())
	defer ticker.Stop()

	r.pollAllVaults(log)
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.pollAllVaults(log)
		}
	}
}

func (r *Hyperliquid_LIQ_Reader) pollAllVaults(log *logger.Entry) {
	for _, vault := range r.vaults {
		if r.ctx.Err() != nil {
			return
		}
		if err := r.limiter.Wait(r.ctx); err != nil {
			return
		}
		fills, err := r.fetchVaultFills(vault)
		if err != nil {
			r.markError()
			log.WithError(err).WithField("vault", vault).Warn("vault fill poll failed")
			continue
		}
		r.clearErrors()
		r.handleFills(vault, fills, log)
	}
}

func (r *Hyperliquid_LIQ_Reader) fetchVaultFills(vault string) ([]VaultFill, error) {
	body, err := json.Marshal(map[string]string{
		"type": "userFills",
		"user": vault,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(r.ctx, http.MethodPost, r.infoURL(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %d from info endpoint", resp.StatusCode)
	}

	var fills []VaultFill
	if err := json.NewDecoder(resp.Body).Decode(&fills); err != nil {
		return nil, fmt.Errorf("failed to decode vault fills: %w", err)
	}
	return fills, nil
}

func (r *Hyperliquid_LIQ_Reader) handleFills(vault string, fills []VaultFill, log *logger.Entry) {
	forwarded := 0
	for _, fill := range fills {
		coin := strings.ToUpper(strings.TrimSpace(fill.Coin))
		if coin == "" || fill.Tid == 0 {
			continue
		}
		if len(r.symbolSet) > 0 {
			if _, ok := r.symbolSet[coin]; !ok {
				continue
			}
		}
		if !r.markTidSeen(fill.Tid) {
			continue
		}

		r.markFill(vault, fill.TimeMs)

		payload, err := json.Marshal(VaultFillEnvelope{Vault: vault, Fill: fill})
		if err != nil {
			log.WithError(err).Warn("failed to marshal vault fill")
			continue
		}

		msg := models.RawLiquidationMessage{
			Exchange:      models.ExchangeHyperliquid,
			Symbol:        coin,
			Data:          payload,
			ReceiveTimeNs: time.Now().UnixNano(),
		}

		if r.channels.SendRaw(r.ctx, msg) {
			forwarded++
		} else if r.ctx.Err() != nil {
			return
		} else {
			metrics.EmitDropMetric(r.log, metrics.DropMetricLiquidationRaw, "hyperliquid", coin, "raw")
			log.Warn("liquidation raw channel full, dropping vault fill")
		}
	}

	if forwarded > 0 {
		log.WithFields(logger.Fields{
			"vault": vault,
			"fills": forwarded,
		}).Debug("forwarded vault fills to raw channel")
	}
}

// markTidSeen records the fill id and reports whether it was new. The seen set
// is cleared once it reaches capacity, which at worst re-forwards a fill the
// router will drop on its dedup key.
func (r *Hyperliquid_LIQ_Reader) markTidSeen(tid int64) bool {
	r.seenMu.Lock()
	defer r.seenMu.Unlock()
	if _, ok := r.seenTids[tid]; ok {
		return false
	}
	if len(r.seenTids) >= r.seenCap {
		r.seenTids = make(map[int64]struct{}, r.seenCap)
	}
	r.seenTids[tid] = struct{}{}
	return true
}

func (r *Hyperliquid_LIQ_Reader) markFill(vault string, fillTimeMs int64) {
	r.healthMu.Lock()
	if fillTimeMs > r.vaultLastMs[vault] {
		r.vaultLastMs[vault] = fillTimeMs
	}
	if fillTimeMs > r.lastEventMs {
		r.lastEventMs = fillTimeMs
	}
	r.healthMu.Unlock()
}

func (r *Hyperliquid_LIQ_Reader) markError() {
	r.healthMu.Lock()
	r.consecErrs++
	r.healthMu.Unlock()
}

func (r *Hyperliquid_LIQ_Reader) clearErrors() {
	r.healthMu.Lock()
	r.consecErrs = 0
	r.healthMu.Unlock()
}
