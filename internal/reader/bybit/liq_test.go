package bybit

import (
	"context"
	"testing"
	"time"

	appconfig "liqflow/config"
	liq "liqflow/internal/channel/liq"
	"liqflow/internal/models"
	"liqflow/logger"
)

// minimalConfig returns a minimal configuration required for testing.
func minimalConfig() *appconfig.Config {
	return &appconfig.Config{
		Source: appconfig.SourceConfig{
			Bybit: &appconfig.CexSourceConfig{
				Enabled:    true,
				Symbols:    []string{"BTCUSDT"},
				StaleAfter: time.Minute,
			},
		},
	}
}

func TestBybitLIQNewReader(t *testing.T) {
	ch := liq.NewChannels(1)
	if r := Bybit_LIQ_NewReader(minimalConfig(), ch, []string{"BTCUSDT"}); r == nil {
		t.Fatal("Bybit_LIQ_NewReader returned nil")
	}
}

func TestBybitForwardMessage(t *testing.T) {
	ch := liq.NewChannels(1)
	r := Bybit_LIQ_NewReader(minimalConfig(), ch, []string{"BTCUSDT"})
	r.ctx = context.Background()

	raw := []byte(`{"topic":"allLiquidation.BTCUSDT","ts":1700000000000,"data":[{"s":"BTCUSDT","S":"Buy","v":"0.5","p":"42000","T":1700000000000}]}`)
	r.forwardMessage(raw, "BTCUSDT", r.log.WithComponent("test"))

	select {
	case msg := <-ch.Raw:
		if msg.Exchange != models.ExchangeBybit {
			t.Errorf("unexpected exchange: %s", msg.Exchange)
		}
		if msg.Symbol != "BTCUSDT" {
			t.Errorf("unexpected symbol: %s", msg.Symbol)
		}
		if msg.ReceiveTimeNs == 0 {
			t.Error("expected receive time to be set")
		}
		if string(msg.Data) != string(raw) {
			t.Error("payload should be forwarded unchanged")
		}
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestBybitForwardMessageDropsOnFullChannel(t *testing.T) {
	ch := liq.NewChannels(1)
	r := Bybit_LIQ_NewReader(minimalConfig(), ch, []string{"BTCUSDT"})
	r.ctx = context.Background()
	log := logger.GetLogger().WithComponent("test")

	r.forwardMessage([]byte(`{"topic":"allLiquidation.BTCUSDT"}`), "BTCUSDT", log)
	r.forwardMessage([]byte(`{"topic":"allLiquidation.BTCUSDT"}`), "BTCUSDT", log)

	stats := ch.GetStats()
	if stats.RawDropped != 1 {
		t.Errorf("expected 1 dropped message, got %d", stats.RawDropped)
	}
}

func TestBybitHealthStates(t *testing.T) {
	ch := liq.NewChannels(1)
	r := Bybit_LIQ_NewReader(minimalConfig(), ch, []string{"BTCUSDT"})

	if h := r.Health(); h.State != models.ConnectorStopped {
		t.Errorf("expected stopped before start, got %s", h.State)
	}

	r.running = true
	r.markEvent()
	if h := r.Health(); h.State != models.ConnectorConnected {
		t.Errorf("expected connected after event, got %s", h.State)
	}

	r.markError()
	if h := r.Health(); h.State != models.ConnectorErroring {
		t.Errorf("expected erroring after error, got %s", h.State)
	}

	r.markEvent()
	r.healthMu.Lock()
	r.lastEventMs = time.Now().Add(-2 * time.Minute).UnixMilli()
	r.healthMu.Unlock()
	if h := r.Health(); h.State != models.ConnectorStale {
		t.Errorf("expected stale after quiet period, got %s", h.State)
	}
}

func TestBybitReconnectDelayDefault(t *testing.T) {
	ch := liq.NewChannels(1)
	r := Bybit_LIQ_NewReader(minimalConfig(), ch, nil)
	if d := r.reconnectDelay(); d != 5*time.Second {
		t.Errorf("expected 5s default delay, got %s", d)
	}
	r.config.Source.Bybit.ReconnectDelay = time.Second
	if d := r.reconnectDelay(); d != time.Second {
		t.Errorf("expected configured delay, got %s", d)
	}
}
