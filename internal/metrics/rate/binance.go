package rate

import (
	"context"

	"github.com/adshao/go-binance/v2/futures"

	"arbflow/internal/metrics"
	"arbflow/logger"
)

// FetchRequestWeightLimit queries the Binance exchangeInfo endpoint to
// retrieve the REQUEST_WEIGHT per minute limit. It returns 0 if the limit
// cannot be determined.
func FetchRequestWeightLimit(ctx context.Context, client *futures.Client) (int64, error) {
	info, err := client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return 0, err
	}
	for _, rl := range info.RateLimits {
		if rl.RateLimitType == "REQUEST_WEIGHT" && rl.Interval == "MINUTE" {
			return rl.Limit, nil
		}
	}
	return 0, nil
}

// ReportWeightLimit records the advertised budget on the metrics endpoint
// and mirrors it into the log stream.
func ReportWeightLimit(log *logger.Log, exchange string, limit int64) {
	metrics.SetRequestWeightLimit(exchange, int(limit))
	l := log.WithComponent("rate_budget")
	l.LogMetric("rate_budget", "request_weight_limit", limit, "gauge", logger.Fields{"exchange": exchange})
}
