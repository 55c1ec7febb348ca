package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/joho/godotenv"

	"arbflow/config"
	"arbflow/internal/channel"
	"arbflow/internal/connector"
	"arbflow/internal/detector"
	"arbflow/internal/ingest"
	"arbflow/internal/marketstore"
	"arbflow/internal/metrics"
	"arbflow/internal/metrics/rate"
	"arbflow/internal/monitorfeed"
	"arbflow/internal/risk"
	"arbflow/internal/supervisor"
	"arbflow/internal/symbols"
	"arbflow/logger"
	"arbflow/models"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}
	holder := config.NewHolder(cfg)

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Arbflow.Name,
		"version": cfg.Arbflow.Version,
	}).Info("starting arbflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch {
		logger.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace, cfg.Logging.DashboardName)
		logger.CreateDefaultDashboard(ctx)
	}
	if cfg.Metrics.Enabled {
		metrics.Init(cfg.Metrics.Address)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	channels := channel.NewChannels(cfg.Channels.QuoteBuffer, cfg.Channels.OpportunityBuffer)
	defer channels.Close()
	go channels.StartMetricsReporting(ctx)

	store := marketstore.New(cfg.MarketData.StoreShards)
	feedServer := monitorfeed.NewServer(cfg.Feed)

	// connectors per exchange and market type, shared between the
	// refresher (metadata) and the supervisors (streams)
	marketTypes := make([]models.MarketType, 0, len(cfg.MarketData.MarketTypes))
	for _, m := range cfg.MarketData.MarketTypes {
		marketTypes = append(marketTypes, models.MarketType(m))
	}

	type feedUnit struct {
		cfg    config.ExchangeConfig
		market models.MarketType
		conn   connector.Connector
	}
	var units []feedUnit

	resolver := symbols.NewResolver(cfg.MarketData.QuoteCurrencies)
	refresher := symbols.NewRefresher(resolver, store, cfg.MarketData.RefreshInterval)

	for _, exCfg := range cfg.Exchanges {
		info := exCfg.ExchangeInfo()
		for _, market := range marketTypes {
			if !info.SupportsMarket(market) {
				continue
			}
			conn, err := connector.For(exCfg, market)
			if err != nil {
				log.WithError(err).WithFields(logger.Fields{
					"exchange": exCfg.ID,
					"market":   string(market),
				}).Warn("exchange skipped")
				continue
			}
			units = append(units, feedUnit{cfg: exCfg, market: market, conn: conn})
			refresher.AddSource(market, conn)
		}
	}
	if len(units) == 0 {
		log.Error("no usable exchange feeds configured")
		os.Exit(1)
	}

	if err := refresher.ResolveAll(ctx); err != nil {
		log.WithError(err).Error("initial symbol resolution failed")
		os.Exit(1)
	}
	refresher.Start(ctx)

	fees := make(map[string]models.FeeSchedule, len(cfg.Exchanges))
	for _, exCfg := range cfg.Exchanges {
		fees[exCfg.ID] = exCfg.Fees
	}

	// Binance advertises its REST weight budget; record it once at startup
	if _, ok := fees["binance"]; ok {
		go func() {
			limit, err := rate.FetchRequestWeightLimit(ctx, futures.NewClient("", ""))
			if err != nil {
				log.WithError(err).Warn("could not fetch request weight limit")
				return
			}
			rate.ReportWeightLimit(log, "binance", limit)
		}()
	}

	var supervisors []*supervisor.Supervisor
	for _, u := range units {
		res, ok := refresher.Resolution(u.market)
		if !ok {
			log.WithFields(logger.Fields{"market": string(u.market)}).Warn("market type has no resolution, feed skipped")
			continue
		}
		subs := res.Subscriptions[u.cfg.ID]
		sup := supervisor.New(u.conn, u.cfg, u.market, subs, channels, store, feedServer, cfg.Detectors.Backoff)
		if err := sup.Start(ctx); err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"exchange": u.cfg.ID,
				"market":   string(u.market),
			}).Warn("supervisor failed to start")
			continue
		}
		supervisors = append(supervisors, sup)
	}
	if len(supervisors) == 0 {
		log.Error("no feed supervisor running")
		os.Exit(1)
	}

	pump := ingest.NewPump(channels, store, feedServer, 2)
	if err := pump.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start ingest pump")
		os.Exit(1)
	}

	view := detector.NewMarketView(store, cfg.MarketData.StalenessBound)
	var detectors []detector.Detector
	if cfg.Detectors.Triangular.Enabled {
		spotSymbols := make(map[string]models.Symbol)
		if res, ok := refresher.Resolution(models.MarketSpot); ok {
			spotSymbols = res.Symbols
		}
		detectors = append(detectors, detector.NewTriangular(cfg.Detectors.Triangular, fees, spotSymbols))
	}
	if cfg.Detectors.Spread.Enabled {
		detectors = append(detectors, detector.NewSpread(cfg.Detectors.Spread, fees))
	}
	if cfg.Detectors.Statistical.Enabled {
		detectors = append(detectors, detector.NewStatistical(cfg.Detectors.Statistical, fees))
	}
	if cfg.Detectors.Basis.Enabled {
		detectors = append(detectors, detector.NewBasis(cfg.Detectors.Basis, fees))
	}

	runner := detector.NewRunner(view, channels, cfg.Execution.OpportunityTTL, feedServer, detectors...)
	if err := runner.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start detector runner")
		os.Exit(1)
	}

	gate := risk.NewGate(holder, cfg.MarketData.StalenessBound)
	coordinator := risk.NewCoordinator(gate, risk.NewLogExecutor(), channels, cfg.Execution.AckTimeout)
	if err := coordinator.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start execution coordinator")
		os.Exit(1)
	}

	var wg sync.WaitGroup
	if feedServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := feedServer.Run(ctx); err != nil {
				log.WithError(err).Warn("monitor feed stopped with error")
			}
		}()
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	var sig os.Signal
	for sig = range sigChan {
		if sig != syscall.SIGHUP {
			break
		}
		// SIGHUP re-reads the file and swaps the snapshot. Logging settings
		// and risk limits apply immediately; feed topology changes require
		// a restart.
		next, err := config.LoadConfig(*configPath)
		if err != nil {
			log.WithError(err).Warn("config reload failed, keeping current configuration")
			continue
		}
		holder.Swap(next)
		if err := log.Configure(next.Logging.Level, next.Logging.Format, next.Logging.Output, next.Logging.MaxAge); err != nil {
			log.WithError(err).Warn("could not apply reloaded logging settings")
		}
		log.Info("configuration reloaded")
	}
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping execution coordinator")
	coordinator.Stop()

	log.Info("stopping detector runner")
	runner.Stop()

	log.Info("stopping ingest pump")
	pump.Stop()

	log.Info("stopping feed supervisors")
	for _, sup := range supervisors {
		sup.Stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("arbflow stopped")
}
