package processor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"liqflow/internal/models"
	"liqflow/internal/symbols"
)

// normalizers turn one raw exchange payload into zero or more canonical
// liquidation events. Payloads that fail to parse return ok=false; payloads
// that parse but carry no usable fills return an empty slice with ok=true.

func normalizeBinanceLiq(raw models.RawLiquidationMessage) ([]models.LiquidationEvent, bool) {
	type binanceOrder struct {
		EventTime int64 `json:"E"`
		Order     struct {
			Symbol    string `json:"s"`
			Side      string `json:"S"`
			Qty       string `json:"q"`
			Price     string `json:"ap"`
			OrderPx   string `json:"p"`
			TradeTime int64  `json:"T"`
		} `json:"o"`
	}
	var evt binanceOrder
	if err := json.Unmarshal(raw.Data, &evt); err != nil {
		return nil, false
	}

	price := parseFloat(evt.Order.Price)
	if price == 0 {
		price = parseFloat(evt.Order.OrderPx)
	}
	qty := parseFloat(evt.Order.Qty)
	if evt.Order.Symbol == "" || price <= 0 || qty <= 0 {
		return nil, false
	}

	eventTime := evt.Order.TradeTime
	if eventTime == 0 {
		eventTime = evt.EventTime
	}

	// A forced SELL closes a long position.
	side := models.SideShort
	if strings.EqualFold(evt.Order.Side, "SELL") {
		side = models.SideLong
	}

	tradeID := fmt.Sprintf("%s:%d:%s:%s", evt.Order.Symbol, eventTime, evt.Order.Price, evt.Order.Qty)
	return []models.LiquidationEvent{{
		Exchange:    models.ExchangeBinance,
		Symbol:      symbols.ToCanonical(string(models.ExchangeBinance), evt.Order.Symbol),
		Side:        side,
		Price:       price,
		Quantity:    qty,
		ValueUSD:    price * qty,
		EventTimeMs: eventTime,
		DedupKey:    models.MakeDedupKey(models.ExchangeBinance, tradeID),
	}}, true
}

func normalizeBybitLiq(raw models.RawLiquidationMessage) ([]models.LiquidationEvent, bool) {
	type bybitPayload struct {
		Topic string `json:"topic"`
		Ts    int64  `json:"ts"`
		Data  []struct {
			Symbol string `json:"s"`
			Side   string `json:"S"`
			Size   string `json:"v"`
			Price  string `json:"p"`
			TimeMs int64  `json:"T"`
		} `json:"data"`
	}
	var evt bybitPayload
	if err := json.Unmarshal(raw.Data, &evt); err != nil {
		return nil, false
	}

	events := make([]models.LiquidationEvent, 0, len(evt.Data))
	for _, d := range evt.Data {
		price := parseFloat(d.Price)
		qty := parseFloat(d.Size)
		if d.Symbol == "" || price <= 0 || qty <= 0 {
			continue
		}
		eventTime := d.TimeMs
		if eventTime == 0 {
			eventTime = evt.Ts
		}

		// Bybit reports the side of the forced order, so a Buy closes a short.
		side := models.SideLong
		if strings.EqualFold(d.Side, "Buy") {
			side = models.SideShort
		}

		tradeID := fmt.Sprintf("%s:%d:%s:%s", d.Symbol, eventTime, d.Price, d.Size)
		events = append(events, models.LiquidationEvent{
			Exchange:    models.ExchangeBybit,
			Symbol:      symbols.ToCanonical(string(models.ExchangeBybit), d.Symbol),
			Side:        side,
			Price:       price,
			Quantity:    qty,
			ValueUSD:    price * qty,
			EventTimeMs: eventTime,
			DedupKey:    models.MakeDedupKey(models.ExchangeBybit, tradeID),
		})
	}
	return events, true
}

func normalizeOkxLiq(raw models.RawLiquidationMessage) ([]models.LiquidationEvent, bool) {
	type okxPayload struct {
		Data []struct {
			InstID  string `json:"instId"`
			Details []struct {
				Side    string `json:"side"`
				PosSide string `json:"posSide"`
				Size    string `json:"sz"`
				Price   string `json:"bkPx"`
				Ts      string `json:"ts"`
			} `json:"details"`
		} `json:"data"`
	}
	var evt okxPayload
	if err := json.Unmarshal(raw.Data, &evt); err != nil {
		return nil, false
	}

	var events []models.LiquidationEvent
	for _, d := range evt.Data {
		for _, det := range d.Details {
			price := parseFloat(det.Price)
			qty := parseFloat(det.Size)
			if d.InstID == "" || price <= 0 || qty <= 0 {
				continue
			}

			var side models.Side
			switch strings.ToLower(det.PosSide) {
			case "long":
				side = models.SideLong
			case "short":
				side = models.SideShort
			default:
				// Fall back to the order side: a forced sell closes a long.
				side = models.SideShort
				if strings.EqualFold(det.Side, "sell") {
					side = models.SideLong
				}
			}

			eventTime := parseInt64(det.Ts)
			tradeID := fmt.Sprintf("%s:%s:%s:%s:%s", d.InstID, det.Ts, det.Price, det.Size, det.PosSide)
			events = append(events, models.LiquidationEvent{
				Exchange:    models.ExchangeOkx,
				Symbol:      symbols.ToCanonical(string(models.ExchangeOkx), d.InstID),
				Side:        side,
				Price:       price,
				Quantity:    qty,
				ValueUSD:    price * qty,
				EventTimeMs: eventTime,
				DedupKey:    models.MakeDedupKey(models.ExchangeOkx, tradeID),
			})
		}
	}
	return events, true
}

func normalizeKucoinLiq(raw models.RawLiquidationMessage) ([]models.LiquidationEvent, bool) {
	type kucoinPayload struct {
		Data struct {
			Symbol   string `json:"symbol"`
			Sequence int64  `json:"sequence"`
			Side     string `json:"side"`
			Size     int32  `json:"size"`
			Price    string `json:"price"`
			Ts       int64  `json:"ts"`
		} `json:"data"`
	}
	var evt kucoinPayload
	if err := json.Unmarshal(raw.Data, &evt); err != nil {
		return nil, false
	}

	price := parseFloat(evt.Data.Price)
	qty := float64(evt.Data.Size)
	if evt.Data.Symbol == "" || price <= 0 || qty <= 0 {
		return nil, false
	}

	// Taker side of the forced execution: a sell closes a long.
	side := models.SideShort
	if strings.EqualFold(evt.Data.Side, "sell") {
		side = models.SideLong
	}

	eventTime := evt.Data.Ts
	if eventTime > 1_000_000_000_000_000 {
		eventTime = eventTime / 1_000_000 // ns → ms
	}

	tradeID := fmt.Sprintf("%s:%d", evt.Data.Symbol, evt.Data.Sequence)
	return []models.LiquidationEvent{{
		Exchange:    models.ExchangeKucoin,
		Symbol:      symbols.ToCanonical(string(models.ExchangeKucoin), evt.Data.Symbol),
		Side:        side,
		Price:       price,
		Quantity:    qty,
		ValueUSD:    price * qty,
		EventTimeMs: eventTime,
		DedupKey:    models.MakeDedupKey(models.ExchangeKucoin, tradeID),
	}}, true
}

// normalizeHyperliquidLiq reconstructs a liquidation from a liquidator vault
// fill. The vault taking the buy side means a short position was forced
// closed; invertSide flips the heuristic if venue semantics change.
func normalizeHyperliquidLiq(raw models.RawLiquidationMessage, invertSide bool) ([]models.LiquidationEvent, bool) {
	type envelope struct {
		Vault string `json:"vault"`
		Fill  struct {
			Coin   string `json:"coin"`
			Px     string `json:"px"`
			Sz     string `json:"sz"`
			Side   string `json:"side"`
			TimeMs int64  `json:"time"`
			Tid    int64  `json:"tid"`
		} `json:"fill"`
	}
	var evt envelope
	if err := json.Unmarshal(raw.Data, &evt); err != nil {
		return nil, false
	}

	price := parseFloat(evt.Fill.Px)
	qty := parseFloat(evt.Fill.Sz)
	if evt.Fill.Coin == "" || evt.Fill.Tid == 0 || price <= 0 || qty <= 0 {
		return nil, false
	}

	vaultBuys := strings.EqualFold(evt.Fill.Side, "B")
	side := models.SideLong
	if vaultBuys != invertSide {
		side = models.SideShort
	}

	return []models.LiquidationEvent{{
		Exchange:    models.ExchangeHyperliquid,
		Symbol:      symbols.ToCanonical(string(models.ExchangeHyperliquid), evt.Fill.Coin),
		Side:        side,
		Price:       price,
		Quantity:    qty,
		ValueUSD:    price * qty,
		EventTimeMs: evt.Fill.TimeMs,
		DedupKey:    models.MakeDedupKey(models.ExchangeHyperliquid, strconv.FormatInt(evt.Fill.Tid, 10)),
	}}, true
}

func parseFloat(v string) float64 {
	if v == "" {
		return 0
	}
	val, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return val
}

func parseInt64(v string) int64 {
	if v == "" {
		return 0
	}
	val, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return val
}
