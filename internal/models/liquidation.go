package models

import "fmt"

// Exchange identifies a supported liquidation venue.
type Exchange string

const (
	ExchangeBinance     Exchange = "binance"
	ExchangeBybit       Exchange = "bybit"
	ExchangeOkx         Exchange = "okx"
	ExchangeKucoin      Exchange = "kucoin"
	ExchangeHyperliquid Exchange = "hyperliquid"
)

// Side is the side of the position that was liquidated. For DEX sources the
// side is inferred from the liquidator's taker side, not asserted by the venue.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// RawLiquidationMessage represents a raw liquidation payload captured from an
// exchange specific stream. It keeps the raw JSON payload together with
// metadata that lets the router pick the right normalizer.
type RawLiquidationMessage struct {
	Exchange Exchange
	Symbol   string
	Data     []byte
	// ReceiveTimeNs is the local receive time captured at the websocket or
	// poll boundary, before any queueing.
	ReceiveTimeNs int64
}

// LiquidationEvent is one normalized liquidated position fill. Events are
// immutable after the router assigns LocalSeq and ReceiveTimeNs.
type LiquidationEvent struct {
	Exchange      Exchange `json:"exchange"`
	Symbol        string   `json:"symbol"`
	Side          Side     `json:"side"`
	Price         float64  `json:"price"`
	Quantity      float64  `json:"quantity"`
	ValueUSD      float64  `json:"value_usd"`
	EventTimeMs   int64    `json:"event_time_ms"`
	ReceiveTimeNs int64    `json:"receive_time_ns"`
	LocalSeq      uint64   `json:"local_seq"`
	DedupKey      string   `json:"dedup_key"`
}

// MakeDedupKey builds the duplicate-delivery key from the exchange and its
// native trade identifier.
func MakeDedupKey(exchange Exchange, tradeID string) string {
	return fmt.Sprintf("%s:%s", exchange, tradeID)
}

// Before reports whether e precedes other under the canonical per-symbol
// ordering (EventTimeMs, ReceiveTimeNs, LocalSeq). LocalSeq is process-unique
// so the tuple is total.
func (e *LiquidationEvent) Before(other *LiquidationEvent) bool {
	if e.EventTimeMs != other.EventTimeMs {
		return e.EventTimeMs < other.EventTimeMs
	}
	if e.ReceiveTimeNs != other.ReceiveTimeNs {
		return e.ReceiveTimeNs < other.ReceiveTimeNs
	}
	return e.LocalSeq < other.LocalSeq
}

// ConnectorState describes the coarse health of one exchange connector.
type ConnectorState string

const (
	ConnectorConnected ConnectorState = "connected"
	ConnectorStale     ConnectorState = "stale"
	ConnectorErroring  ConnectorState = "erroring"
	ConnectorStopped   ConnectorState = "stopped"
)

// ConnectorHealth is a point-in-time health snapshot reported by a connector
// for external monitoring.
type ConnectorHealth struct {
	Exchange        Exchange       `json:"exchange"`
	State           ConnectorState `json:"state"`
	LastEventTimeMs int64          `json:"last_event_time_ms"`
	ConsecutiveErrs int            `json:"consecutive_errors"`
	// AllVaultsStale is only meaningful for the hyperliquid connector: true
	// when no tracked vault has produced a fill within the staleness window,
	// so "no events" means "no data", not "no liquidations".
	AllVaultsStale bool `json:"all_vaults_stale,omitempty"`
}
