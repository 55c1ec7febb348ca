package symbols

import "strings"

// ToCanonical converts various exchange-specific symbol formats to the
// canonical form used as Market State Store key: uppercase, no separators,
// BTC instead of XBT, 1000-multiplied contracts collapsed to their base.
// Currently supported exchanges: binance, bybit, kucoin, coinbase, kraken, okx.
func ToCanonical(exchange, sym string) string {
	sym = strings.ToUpper(strings.TrimSpace(sym))
	switch strings.ToLower(exchange) {
	case "binance":
		switch sym {
		case "1000BONKUSDT":
			sym = "BONKUSDT"
		case "1000PEPEUSDT":
			sym = "PEPEUSDT"
		case "1000SHIBUSDT":
			sym = "SHIBUSDT"
		}
	case "bybit":
		switch sym {
		case "1000BONKUSDT":
			sym = "BONKUSDT"
		case "1000PEPEUSDT":
			sym = "PEPEUSDT"
		case "SHIB1000USDT":
			sym = "SHIBUSDT"
		}
	case "coinbase":
		sym = strings.ReplaceAll(sym, "-", "")
	case "kraken":
		sym = strings.ReplaceAll(sym, "/", "")
		sym = strings.ReplaceAll(sym, "-", "")
	case "kucoin":
		sym = strings.ReplaceAll(sym, "-", "")
		sym = strings.TrimSuffix(sym, "M")
		if strings.HasPrefix(sym, "XBT") {
			sym = "BTC" + sym[3:]
		}
	case "okx":
		sym = strings.TrimSuffix(sym, "-SWAP")
		sym = strings.ReplaceAll(sym, "-", "")
	default:
		sym = strings.ReplaceAll(sym, "/", "")
		sym = strings.ReplaceAll(sym, "-", "")
	}
	return sym
}

// SplitCanonical breaks a canonical BASEQUOTE name into base and quote given
// the set of known quote currencies. Longest quote suffix wins so BTCUSDT
// splits as BTC/USDT rather than BTCUSD/T. ok=false when no known quote
// currency terminates the symbol.
func SplitCanonical(sym string, quoteCurrencies []string) (base, quote string, ok bool) {
	best := ""
	for _, q := range quoteCurrencies {
		q = strings.ToUpper(q)
		if strings.HasSuffix(sym, q) && len(q) > len(best) && len(sym) > len(q) {
			best = q
		}
	}
	if best == "" {
		return "", "", false
	}
	return strings.TrimSuffix(sym, best), best, true
}
