package kucoin

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/generate/futures/futurespublic"

	appconfig "liqflow/config"
	liq "liqflow/internal/channel/liq"
	"liqflow/internal/models"
)

// minimalConfig returns a minimal configuration required for testing.
func minimalConfig() *appconfig.Config {
	return &appconfig.Config{
		Source: appconfig.SourceConfig{
			Kucoin: &appconfig.KucoinSourceConfig{
				Enabled:    true,
				Symbols:    []string{"XBTUSDTM"},
				StaleAfter: time.Minute,
			},
		},
	}
}

func testReader(ch *liq.Channels) *Kucoin_LIQ_Reader {
	r := Kucoin_LIQ_NewReader(minimalConfig(), ch, []string{"XBTUSDTM"})
	r.ctx = context.Background()
	r.symbolSet = map[string]struct{}{"XBTUSDTM": {}}
	return r
}

func TestKucoinHandleExecutionForwardsLiquidations(t *testing.T) {
	ch := liq.NewChannels(1)
	r := testReader(ch)

	event := &futurespublic.ExecutionEvent{Symbol: "XBTUSDTM", Ts: time.Now().UnixMilli()}
	if err := r.handleExecution("/contractMarket/execution:XBTUSDTM", "match.liquidation", event); err != nil {
		t.Fatalf("handleExecution: %v", err)
	}

	select {
	case msg := <-ch.Raw:
		if msg.Exchange != models.ExchangeKucoin {
			t.Errorf("unexpected exchange: %s", msg.Exchange)
		}
		if msg.Symbol != "XBTUSDTM" {
			t.Errorf("unexpected symbol: %s", msg.Symbol)
		}
		var payload struct {
			Topic   string          `json:"topic"`
			Subject string          `json:"subject"`
			Data    json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if payload.Subject != "match.liquidation" {
			t.Errorf("unexpected subject: %s", payload.Subject)
		}
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestKucoinHandleExecutionSkipsRegularMatches(t *testing.T) {
	ch := liq.NewChannels(1)
	r := testReader(ch)

	event := &futurespublic.ExecutionEvent{Symbol: "XBTUSDTM", Ts: time.Now().UnixMilli()}
	if err := r.handleExecution("/contractMarket/execution:XBTUSDTM", "match", event); err != nil {
		t.Fatalf("handleExecution: %v", err)
	}

	select {
	case <-ch.Raw:
		t.Fatal("regular match should not be forwarded")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestKucoinHandleExecutionFiltersSymbols(t *testing.T) {
	ch := liq.NewChannels(1)
	r := testReader(ch)

	event := &futurespublic.ExecutionEvent{Symbol: "ETHUSDTM", Ts: time.Now().UnixMilli()}
	if err := r.handleExecution("/contractMarket/execution:ETHUSDTM", "match.liquidation", event); err != nil {
		t.Fatalf("handleExecution: %v", err)
	}

	select {
	case <-ch.Raw:
		t.Fatal("unconfigured symbol should not be forwarded")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestKucoinTimestampToTime(t *testing.T) {
	sec := int64(1_700_000_000)
	if got := kucoinTimestampToTime(sec); got.Unix() != sec {
		t.Errorf("seconds timestamp mishandled: %v", got)
	}
	ms := int64(1_700_000_000_123)
	if got := kucoinTimestampToTime(ms); got.UnixMilli() != ms {
		t.Errorf("millisecond timestamp mishandled: %v", got)
	}
	ns := int64(1_700_000_000_123_456_789)
	if got := kucoinTimestampToTime(ns); got.UnixNano() != ns {
		t.Errorf("nanosecond timestamp mishandled: %v", got)
	}
	if got := kucoinTimestampToTime(0); time.Since(got) > time.Minute {
		t.Errorf("zero timestamp should fall back to now, got %v", got)
	}
}

func TestKucoinHealthStopped(t *testing.T) {
	ch := liq.NewChannels(1)
	r := Kucoin_LIQ_NewReader(minimalConfig(), ch, nil)
	if h := r.Health(); h.State != models.ConnectorStopped {
		t.Errorf("expected stopped before start, got %s", h.State)
	}
}
