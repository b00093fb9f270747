package binance

import (
	"context"
	"testing"
	"time"

	appconfig "liqflow/config"
	liq "liqflow/internal/channel/liq"
	"liqflow/internal/models"
)

// minimalConfig returns a minimal configuration required for testing.
func minimalConfig() *appconfig.Config {
	return &appconfig.Config{
		Source: appconfig.SourceConfig{
			Binance: &appconfig.CexSourceConfig{
				Enabled:    true,
				Symbols:    []string{"BTCUSDT"},
				StaleAfter: time.Minute,
			},
		},
	}
}

func TestBinanceLIQNewReader(t *testing.T) {
	ch := liq.NewChannels(1)
	if r := Binance_LIQ_NewReader(minimalConfig(), ch, []string{"BTCUSDT"}); r == nil {
		t.Fatal("Binance_LIQ_NewReader returned nil")
	}
}

func TestBinanceStartRequiresEnabledSource(t *testing.T) {
	cfg := minimalConfig()
	cfg.Source.Binance.Enabled = false
	ch := liq.NewChannels(1)
	r := Binance_LIQ_NewReader(cfg, ch, []string{"BTCUSDT"})
	if err := r.Binance_LIQ_Start(context.Background()); err == nil {
		t.Fatal("expected error when source is disabled")
	}
}

func TestBinanceStartRequiresSymbols(t *testing.T) {
	cfg := minimalConfig()
	cfg.Source.Binance.Symbols = nil
	ch := liq.NewChannels(1)
	r := Binance_LIQ_NewReader(cfg, ch, nil)
	if err := r.Binance_LIQ_Start(context.Background()); err == nil {
		t.Fatal("expected error when no symbols configured")
	}
}

func TestBinanceHealthStates(t *testing.T) {
	ch := liq.NewChannels(1)
	r := Binance_LIQ_NewReader(minimalConfig(), ch, []string{"BTCUSDT"})

	h := r.Health()
	if h.Exchange != models.ExchangeBinance {
		t.Errorf("unexpected exchange: %s", h.Exchange)
	}
	if h.State != models.ConnectorStopped {
		t.Errorf("expected stopped before start, got %s", h.State)
	}

	r.running = true
	now := time.Now().UnixMilli()
	r.markEvent(now)
	h = r.Health()
	if h.State != models.ConnectorConnected {
		t.Errorf("expected connected after event, got %s", h.State)
	}
	if h.LastEventTimeMs != now {
		t.Errorf("expected last event time %d, got %d", now, h.LastEventTimeMs)
	}

	r.markError()
	if h := r.Health(); h.State != models.ConnectorErroring {
		t.Errorf("expected erroring after error, got %s", h.State)
	}

	r.markEvent(time.Now().Add(-2 * time.Minute).UnixMilli())
	if h := r.Health(); h.State != models.ConnectorStale {
		t.Errorf("expected stale after quiet period, got %s", h.State)
	}
}
