package symbols

import "strings"

// quoteAssets lists the quote currencies stripped when reducing an exchange
// pair to its base asset, longest first so USDT wins over USD.
var quoteAssets = []string{"USDT", "USDC", "USD", "BUSD", "PERP"}

// multiplierPrefixes handles venue tickers quoted per thousand units.
var multiplierPrefixes = []string{"1000000", "1000"}

// ToCanonical converts an exchange-specific instrument identifier into the
// canonical base asset used across the engine, e.g.:
//
//	binance  BTCUSDT      -> BTC
//	bybit    SHIB1000USDT -> SHIB
//	okx      BTC-USDT-SWAP -> BTC
//	kucoin   XBTUSDTM     -> BTC
//	hyperliquid BTC       -> BTC
//
// Cross-exchange correlation only works when every venue's events land under
// the same key, so every connector routes symbols through here.
func ToCanonical(exchange, sym string) string {
	sym = strings.TrimSpace(sym)

	switch strings.ToLower(exchange) {
	case "hyperliquid":
		// coin names arrive bare, e.g. "BTC"; the lowercase "k" prefix marks
		// thousand-unit tickers such as "kPEPE".
		sym = strings.TrimPrefix(sym, "k")
		return strings.ToUpper(sym)
	}

	sym = strings.ToUpper(sym)

	switch strings.ToLower(exchange) {
	case "okx":
		sym = strings.TrimSuffix(sym, "-SWAP")
		sym = strings.ReplaceAll(sym, "-", "")
	case "kucoin":
		sym = strings.ReplaceAll(sym, "-", "")
		sym = strings.TrimSuffix(sym, "M")
		if strings.HasPrefix(sym, "XBT") {
			sym = "BTC" + sym[3:]
		}
	}

	for _, quote := range quoteAssets {
		if base, ok := strings.CutSuffix(sym, quote); ok && base != "" {
			sym = base
			break
		}
	}

	for _, prefix := range multiplierPrefixes {
		if rest, ok := strings.CutPrefix(sym, prefix); ok && rest != "" {
			sym = rest
			break
		}
	}
	// bybit style SHIB1000
	for _, suffix := range multiplierPrefixes {
		if rest, ok := strings.CutSuffix(sym, suffix); ok && rest != "" {
			sym = rest
			break
		}
	}

	return sym
}
