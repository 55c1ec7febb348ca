package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsFeed        int64
	errorsDetector    int64
	warnsFeed         int64
	warnsDetector     int64
	quoteUpdates      int64
	quoteDropsStale   int64
	opportunitiesSeen int64
	intentsDispatched int64
	channels          sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "detector") {
		atomic.AddInt64(&warnsDetector, 1)
	} else if strings.Contains(component, "feed") || strings.Contains(component, "supervisor") || strings.Contains(component, "connector") {
		atomic.AddInt64(&warnsFeed, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "detector") {
		atomic.AddInt64(&errorsDetector, 1)
	} else if strings.Contains(component, "feed") || strings.Contains(component, "supervisor") || strings.Contains(component, "connector") {
		atomic.AddInt64(&errorsFeed, 1)
	}
}

// IncrementQuoteUpdate counts an applied quote write together with the raw
// payload size that produced it.
func IncrementQuoteUpdate(size int) {
	atomic.AddInt64(&quoteUpdates, 1)
	recordChannel("quote_feed", size)
}

// IncrementQuoteDropStale counts a quote discarded for being out of order or
// past the staleness bound.
func IncrementQuoteDropStale() {
	atomic.AddInt64(&quoteDropsStale, 1)
}

// IncrementOpportunityFound counts a detector emission.
func IncrementOpportunityFound() {
	atomic.AddInt64(&opportunitiesSeen, 1)
}

// IncrementIntentDispatched counts a trade intent handed to the executor.
func IncrementIntentDispatched() {
	atomic.AddInt64(&intentsDispatched, 1)
}

// RecordChannelMessage tracks volume through a named channel.
func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and channel statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	netStats, _ := gnet.IOCounters(false)
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_feed":        atomic.LoadInt64(&errorsFeed),
		"errors_detector":    atomic.LoadInt64(&errorsDetector),
		"warns_feed":         atomic.LoadInt64(&warnsFeed),
		"warns_detector":     atomic.LoadInt64(&warnsDetector),
		"quote_updates":      atomic.LoadInt64(&quoteUpdates),
		"quote_drops_stale":  atomic.LoadInt64(&quoteDropsStale),
		"opportunities":      atomic.LoadInt64(&opportunitiesSeen),
		"intents_dispatched": atomic.LoadInt64(&intentsDispatched),
		"goroutines":         runtime.NumGoroutine(),
		"cpu_percent":        cpuPct,
		"memory_mb":          int64(memStats.Used) / 1024 / 1024,
		"channels":           channelData,
		"net_bytes_sent":     int64(bytesSent),
		"net_bytes_recv":     int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsFeed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_feed"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsDetector"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_detector"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("QuoteUpdates"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["quote_updates"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("QuoteDropsStale"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["quote_drops_stale"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OpportunitiesFound"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["opportunities"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("IntentsDispatched"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["intents_dispatched"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
