package processor

import (
	"testing"

	"liqflow/internal/models"
)

func TestNormalizeBinanceLiq(t *testing.T) {
	payload := []byte(`{"e":"forceOrder","E":1700000000100,"o":{"s":"BTCUSDT","S":"SELL","o":"LIMIT","q":"0.014","p":"60000","ap":"60123.5","T":1700000000090}}`)
	events, ok := normalizeBinanceLiq(models.RawLiquidationMessage{
		Exchange: models.ExchangeBinance,
		Data:     payload,
	})
	if !ok || len(events) != 1 {
		t.Fatalf("expected one event, got ok=%v events=%d", ok, len(events))
	}
	e := events[0]
	if e.Symbol != "BTC" {
		t.Errorf("expected canonical symbol BTC, got %s", e.Symbol)
	}
	if e.Side != models.SideLong {
		t.Errorf("forced SELL should liquidate a long, got %s", e.Side)
	}
	if e.Price != 60123.5 || e.Quantity != 0.014 {
		t.Errorf("unexpected price/quantity: %f / %f", e.Price, e.Quantity)
	}
	if e.ValueUSD != 60123.5*0.014 {
		t.Errorf("unexpected notional: %f", e.ValueUSD)
	}
	if e.EventTimeMs != 1700000000090 {
		t.Errorf("expected trade time, got %d", e.EventTimeMs)
	}
	if e.DedupKey == "" {
		t.Error("expected dedup key")
	}
}

func TestNormalizeBybitLiqArray(t *testing.T) {
	payload := []byte(`{"topic":"allLiquidation.ETHUSDT","ts":1700000001000,"data":[
		{"T":1700000000990,"s":"ETHUSDT","S":"Buy","v":"2.5","p":"3000.25"},
		{"T":1700000000995,"s":"ETHUSDT","S":"Sell","v":"1.0","p":"2999.75"}]}`)
	events, ok := normalizeBybitLiq(models.RawLiquidationMessage{
		Exchange: models.ExchangeBybit,
		Data:     payload,
	})
	if !ok || len(events) != 2 {
		t.Fatalf("expected two events, got ok=%v events=%d", ok, len(events))
	}
	if events[0].Side != models.SideShort {
		t.Errorf("forced Buy should liquidate a short, got %s", events[0].Side)
	}
	if events[1].Side != models.SideLong {
		t.Errorf("forced Sell should liquidate a long, got %s", events[1].Side)
	}
	if events[0].Symbol != "ETH" || events[1].Symbol != "ETH" {
		t.Errorf("expected canonical ETH, got %s / %s", events[0].Symbol, events[1].Symbol)
	}
	if events[0].DedupKey == events[1].DedupKey {
		t.Error("distinct fills must not share a dedup key")
	}
}

func TestNormalizeOkxLiqDetails(t *testing.T) {
	payload := []byte(`{"arg":{"channel":"liquidation-orders","instType":"SWAP"},"data":[
		{"instId":"SOL-USDT-SWAP","details":[
			{"side":"buy","posSide":"short","sz":"10","bkPx":"150.5","ts":"1700000002000"},
			{"side":"sell","posSide":"","sz":"4","bkPx":"150.1","ts":"1700000002001"}]}]}`)
	events, ok := normalizeOkxLiq(models.RawLiquidationMessage{
		Exchange: models.ExchangeOkx,
		Data:     payload,
	})
	if !ok || len(events) != 2 {
		t.Fatalf("expected two events, got ok=%v events=%d", ok, len(events))
	}
	if events[0].Side != models.SideShort {
		t.Errorf("posSide short must map directly, got %s", events[0].Side)
	}
	if events[1].Side != models.SideLong {
		t.Errorf("forced sell without posSide should liquidate a long, got %s", events[1].Side)
	}
	if events[0].Symbol != "SOL" {
		t.Errorf("expected canonical SOL, got %s", events[0].Symbol)
	}
	if events[0].EventTimeMs != 1700000002000 {
		t.Errorf("unexpected event time %d", events[0].EventTimeMs)
	}
}

func TestNormalizeKucoinLiq(t *testing.T) {
	payload := []byte(`{"topic":"/contractMarket/execution:XBTUSDTM","subject":"match.liquidation","data":{"symbol":"XBTUSDTM","sequence":123456,"side":"sell","size":3,"price":"60500","ts":1700000003000000000}}`)
	events, ok := normalizeKucoinLiq(models.RawLiquidationMessage{
		Exchange: models.ExchangeKucoin,
		Data:     payload,
	})
	if !ok || len(events) != 1 {
		t.Fatalf("expected one event, got ok=%v events=%d", ok, len(events))
	}
	e := events[0]
	if e.Symbol != "BTC" {
		t.Errorf("expected canonical BTC from XBTUSDTM, got %s", e.Symbol)
	}
	if e.Side != models.SideLong {
		t.Errorf("forced sell should liquidate a long, got %s", e.Side)
	}
	if e.EventTimeMs != 1700000003000 {
		t.Errorf("nanosecond timestamp should be reduced to ms, got %d", e.EventTimeMs)
	}
}

func TestNormalizeHyperliquidSideInference(t *testing.T) {
	payload := []byte(`{"vault":"0xabc","fill":{"coin":"kPEPE","px":"0.000012","sz":"1000000","side":"B","time":1700000004000,"tid":555}}`)
	raw := models.RawLiquidationMessage{Exchange: models.ExchangeHyperliquid, Data: payload}

	events, ok := normalizeHyperliquidLiq(raw, false)
	if !ok || len(events) != 1 {
		t.Fatalf("expected one event, got ok=%v events=%d", ok, len(events))
	}
	if events[0].Side != models.SideShort {
		t.Errorf("vault buying should liquidate a short, got %s", events[0].Side)
	}
	if events[0].Symbol != "PEPE" {
		t.Errorf("expected canonical PEPE from kPEPE, got %s", events[0].Symbol)
	}

	inverted, ok := normalizeHyperliquidLiq(raw, true)
	if !ok || len(inverted) != 1 {
		t.Fatalf("expected one inverted event, got ok=%v events=%d", ok, len(inverted))
	}
	if inverted[0].Side != models.SideLong {
		t.Errorf("inverted inference should flip to long, got %s", inverted[0].Side)
	}
}

func TestNormalizeRejectsMalformedPayloads(t *testing.T) {
	raw := models.RawLiquidationMessage{Data: []byte(`{"not":"valid"`)}
	if _, ok := normalizeBinanceLiq(raw); ok {
		t.Error("binance normalizer accepted malformed payload")
	}
	if _, ok := normalizeBybitLiq(raw); ok {
		t.Error("bybit normalizer accepted malformed payload")
	}
	if _, ok := normalizeOkxLiq(raw); ok {
		t.Error("okx normalizer accepted malformed payload")
	}
	if _, ok := normalizeKucoinLiq(raw); ok {
		t.Error("kucoin normalizer accepted malformed payload")
	}
	if _, ok := normalizeHyperliquidLiq(raw, false); ok {
		t.Error("hyperliquid normalizer accepted malformed payload")
	}
}
