package connector

import (
	"strconv"
	"strings"
)

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// precisionFromStep converts a decimal step like "0.001" into the number
// of significant decimal places (3). Whole-number steps yield 0.
func precisionFromStep(step string) int {
	i := strings.IndexByte(step, '.')
	if i < 0 {
		return 0
	}
	frac := strings.TrimRight(step[i+1:], "0")
	return len(frac)
}

// minNotionalFromFilters pulls the minimum order value out of a raw exchange
// filter list. Binance has shipped the value under both NOTIONAL and
// MIN_NOTIONAL filter types.
func minNotionalFromFilters(filters []map[string]interface{}) float64 {
	for _, f := range filters {
		ft, _ := f["filterType"].(string)
		if ft != "NOTIONAL" && ft != "MIN_NOTIONAL" {
			continue
		}
		if v, ok := f["minNotional"].(string); ok {
			return parseFloat(v)
		}
	}
	return 0
}
