// Registers:
//
//	#ArbFlow_quote_updates_total
//	#ArbFlow_stale_quote_drops_total
//	#ArbFlow_reconnect_attempts_total
//	#ArbFlow_connection_state
//	#ArbFlow_opportunities_total
//	#ArbFlow_intent_rejections_total
//	#ArbFlow_intents_dispatched_total
//	#ArbFlow_request_weight_limit
//	#ArbFlow_channel_depth
//	#go_* and process_* system metrics
//
// Exposes them on the configured address using the Prometheus HTTP handler
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once              sync.Once
	quoteUpdates      *prometheus.CounterVec
	staleQuoteDrops   *prometheus.CounterVec
	reconnectAttempts *prometheus.CounterVec
	connectionState   *prometheus.GaugeVec
	opportunities     *prometheus.CounterVec
	intentRejections  *prometheus.CounterVec
	intentsDispatched prometheus.Counter
	requestWeight     *prometheus.GaugeVec
	channelDepth      *prometheus.GaugeVec
)

func Init(address string) {
	once.Do(func() {
		quoteUpdates = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ArbFlow_quote_updates_total",
				Help: "Number of quote updates accepted into the market store",
			},
			[]string{"exchange"},
		)

		staleQuoteDrops = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ArbFlow_stale_quote_drops_total",
				Help: "Number of quote updates rejected as older than the stored snapshot",
			},
			[]string{"exchange"},
		)

		reconnectAttempts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ArbFlow_reconnect_attempts_total",
				Help: "Number of feed reconnect attempts",
			},
			[]string{"exchange"},
		)

		connectionState = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ArbFlow_connection_state",
				Help: "Feed state per exchange (0 disconnected, 1 connecting, 2 connected, 3 degraded, 4 reconnecting)",
			},
			[]string{"exchange"},
		)

		opportunities = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ArbFlow_opportunities_total",
				Help: "Number of opportunities emitted by the detectors",
			},
			[]string{"kind"},
		)

		intentRejections = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ArbFlow_intent_rejections_total",
				Help: "Number of opportunities rejected by the risk gate",
			},
			[]string{"reason"},
		)

		intentsDispatched = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ArbFlow_intents_dispatched_total",
				Help: "Number of trade intents handed to the executor",
			},
		)

		requestWeight = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ArbFlow_request_weight_limit",
				Help: "REST request weight budget advertised by the exchange",
			},
			[]string{"exchange"},
		)

		channelDepth = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ArbFlow_channel_depth",
				Help: "Buffered messages currently queued per internal channel",
			},
			[]string{"channel"},
		)

		_ = prometheus.Register(quoteUpdates)
		_ = prometheus.Register(staleQuoteDrops)
		_ = prometheus.Register(reconnectAttempts)
		_ = prometheus.Register(connectionState)
		_ = prometheus.Register(opportunities)
		_ = prometheus.Register(intentRejections)
		_ = prometheus.Register(intentsDispatched)
		_ = prometheus.Register(requestWeight)
		_ = prometheus.Register(channelDepth)
		_ = prometheus.Register(collectors.NewGoCollector())
		_ = prometheus.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(address, nil); err != nil {
				panic("metrics server failed: " + err.Error())
			}
		}()
	})
}

// IncrementQuoteUpdate increases the accepted-update counter for an exchange.
func IncrementQuoteUpdate(exchange string) {
	if quoteUpdates != nil {
		quoteUpdates.WithLabelValues(exchange).Inc()
	}
}

// IncrementStaleQuoteDrop increases the stale-drop counter for an exchange.
func IncrementStaleQuoteDrop(exchange string) {
	if staleQuoteDrops != nil {
		staleQuoteDrops.WithLabelValues(exchange).Inc()
	}
}

// IncrementReconnect increases the reconnect counter for an exchange.
func IncrementReconnect(exchange string) {
	if reconnectAttempts != nil {
		reconnectAttempts.WithLabelValues(exchange).Inc()
	}
}

// SetConnectionState records the current feed state for an exchange.
func SetConnectionState(exchange string, state int32) {
	if connectionState != nil {
		connectionState.WithLabelValues(exchange).Set(float64(state))
	}
}

// IncrementOpportunity increases the detection counter for a strategy kind.
func IncrementOpportunity(kind string) {
	if opportunities != nil {
		opportunities.WithLabelValues(kind).Inc()
	}
}

// IncrementRejection increases the risk-gate rejection counter for a reason.
func IncrementRejection(reason string) {
	if intentRejections != nil {
		intentRejections.WithLabelValues(reason).Inc()
	}
}

// IncrementIntentDispatched increases the dispatched-intent counter.
func IncrementIntentDispatched() {
	if intentsDispatched != nil {
		intentsDispatched.Inc()
	}
}

// SetChannelDepth records the current queue length of an internal channel.
func SetChannelDepth(channel string, depth int) {
	if channelDepth != nil {
		channelDepth.WithLabelValues(channel).Set(float64(depth))
	}
}

// SetRequestWeightLimit records the advertised REST weight budget.
func SetRequestWeightLimit(exchange string, limit int) {
	if requestWeight != nil {
		requestWeight.WithLabelValues(exchange).Set(float64(limit))
	}
}
