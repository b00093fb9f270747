package okx

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
			Okx: &appconfig.CexSourceConfig{
				Enabled:    true,
				StaleAfter: time.Minute,
			},
		},
	}
}

func TestOkxLIQNewReader(t *testing.T) {
	ch := liq.NewChannels(1)
	if r := OKX_LIQ_NewReader(minimalConfig(), ch); r == nil {
		t.Fatal("OKX_LIQ_NewReader returned nil")
	}
}

func TestOkxForwardMessage(t *testing.T) {
	ch := liq.NewChannels(1)
	r := OKX_LIQ_NewReader(minimalConfig(), ch)
	r.ctx = context.Background()

	raw := []byte(`{"arg":{"channel":"liquidation-orders","instType":"SWAP"},"data":[{"instId":"BTC-USDT-SWAP","details":[{"side":"sell","sz":"1","bkPx":"42000","ts":"1700000000000"}]}]}`)
	r.forwardMessage(raw, r.log.WithComponent("test"))

	select {
	case msg := <-ch.Raw:
		if msg.Exchange != models.ExchangeOkx {
			t.Errorf("unexpected exchange: %s", msg.Exchange)
		}
		// the swap stream is multi-instrument, routing resolves the symbol later
		if msg.Symbol != "" {
			t.Errorf("expected empty symbol, got %q", msg.Symbol)
		}
		if string(msg.Data) != string(raw) {
			t.Error("payload should be forwarded unchanged")
		}
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestOkxHealthStates(t *testing.T) {
	ch := liq.NewChannels(1)
	r := OKX_LIQ_NewReader(minimalConfig(), ch)

	if h := r.Health(); h.State != models.ConnectorStopped {
		t.Errorf("expected stopped before start, got %s", h.State)
	}

	r.running = true
	r.markEvent()
	if h := r.Health(); h.State != models.ConnectorConnected {
		t.Errorf("expected connected after event, got %s", h.State)
	}

	r.markError()
	r.markError()
	h := r.Health()
	if h.State != models.ConnectorErroring {
		t.Errorf("expected erroring after errors, got %s", h.State)
	}
	if h.ConsecutiveErrs != 2 {
		t.Errorf("expected 2 consecutive errors, got %d", h.ConsecutiveErrs)
	}

	r.markEvent()
	if h := r.Health(); h.ConsecutiveErrs != 0 {
		t.Errorf("expected error count reset after event, got %d", h.ConsecutiveErrs)
	}
}

func TestOkxReconnectDelay(t *testing.T) {
	ch := liq.NewChannels(1)
	r := OKX_LIQ_NewReader(minimalConfig(), ch)
	if d := r.reconnectDelay(); d != 5*time.Second {
		t.Errorf("expected 5s default delay, got %s", d)
	}
	r.config.Source.Okx.ReconnectDelay = 2 * time.Second
	if d := r.reconnectDelay(); d != 2*time.Second {
		t.Errorf("expected configured delay, got %s", d)
	}
}
