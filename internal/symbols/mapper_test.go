package symbols

import "testing"

func TestToCanonical(t *testing.T) {
	tests := []struct {
		exchange string
		in       string
		want     string
	}{
		{"binance", "BTCUSDT", "BTC"},
		{"binance", "ETHUSDT", "ETH"},
		{"binance", "1000PEPEUSDT", "PEPE"},
		{"bybit", "SHIB1000USDT", "SHIB"},
		{"bybit", "SOLUSDT", "SOL"},
		{"okx", "BTC-USDT-SWAP", "BTC"},
		{"okx", "ETH-USD-SWAP", "ETH"},
		{"kucoin", "XBTUSDTM", "BTC"},
		{"kucoin", "ETHUSDTM", "ETH"},
		{"hyperliquid", "BTC", "BTC"},
		{"hyperliquid", "kPEPE", "PEPE"},
		{"hyperliquid", "KAVA", "KAVA"},
	}
	for _, tt := range tests {
		if got := ToCanonical(tt.exchange, tt.in); got != tt.want {
			t.Errorf("ToCanonical(%s,%s)=%s want %s", tt.exchange, tt.in, got, tt.want)
		}
	}
}
