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

	"github.com/joho/godotenv"

	"liqflow/config"
	liqchannel "liqflow/internal/channel/liq"
	"liqflow/internal/metrics"
	"liqflow/internal/models"
	"liqflow/internal/processor"
	"liqflow/internal/reader/binance"
	"liqflow/internal/reader/bybit"
	"liqflow/internal/reader/hyperliquid"
	"liqflow/internal/reader/kucoin"
	"liqflow/internal/reader/okx"
	"liqflow/internal/risk"
	sigpub "liqflow/internal/signal"
	"liqflow/internal/storage"
	"liqflow/internal/velocity"
	"liqflow/logger"
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

	env := config.AppEnvironment()
	if config.IsProductionLike(env) {
		cfg.Logging.Format = "json"
		if !cfg.Storage.S3.Enabled {
			log.Error("durable storage must be enabled in production-like environments")
			os.Exit(1)
		}
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Liqflow.Name,
		"version":     cfg.Liqflow.Version,
		"environment": env,
	}).Info("starting liqflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	if cfg.Metrics.CloudWatch.Enabled {
		metrics.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace)
	}

	channels := liqchannel.NewChannels(cfg.Channels.RawBuffer)
	defer channels.Close()

	metrics.StartChannelSizeMetrics(ctx, channels, 30*time.Second)

	cache := storage.NewCache(cfg)

	var writer *storage.AsyncWriter
	if cfg.Storage.S3.Enabled {
		sink, err := storage.NewS3Sink(cfg)
		if err != nil {
			log.WithError(err).Error("failed to create S3 sink")
			os.Exit(1)
		}
		writer = storage.NewAsyncWriter(cfg, sink)
	} else {
		log.WithComponent("main").Info("S3 storage disabled; cold tier off")
	}

	pipeline := storage.NewPipeline(cfg, cache, writer)
	engine := velocity.NewEngine(cfg)
	calculator := risk.NewCalculator(cfg)
	tracker := risk.NewTracker(cfg)

	var publisher *sigpub.Publisher
	if cfg.Signal.Enabled {
		publisher, err = sigpub.NewPublisher(cfg)
		if err != nil {
			log.WithError(err).Error("failed to create signal publisher")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("signal publishing disabled")
	}

	router := processor.NewRouter(cfg, channels, pipeline, engine)
	router.SetEventHook(func(event models.LiquidationEvent) {
		snapshot := engine.Snapshot(event.Symbol)
		corr := engine.Correlation(event.Symbol)
		assessment := calculator.Calculate(snapshot, corr)
		tracker.Observe(snapshot, assessment)
		if publisher != nil {
			publisher.Publish(assessment)
		}
	})

	// close lingering episodes for symbols that went silent; silence produces
	// no assessments, so Observe alone can never finish their cooldown
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tracker.Sweep(time.Now().UnixMilli())
			}
		}
	}()

	if err := pipeline.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start storage pipeline")
		os.Exit(1)
	}
	if publisher != nil {
		if err := publisher.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start signal publisher")
			os.Exit(1)
		}
	}
	if err := router.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start router")
		os.Exit(1)
	}

	var wg sync.WaitGroup

	var binanceReader *binance.Binance_LIQ_Reader
	if src := cfg.Source.Binance; src != nil && src.Enabled {
		binanceReader = binance.Binance_LIQ_NewReader(cfg, channels, src.Symbols)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := binanceReader.Binance_LIQ_Start(ctx); err != nil {
				log.WithError(err).Warn("binance reader failed to start")
			}
		}()
	}

	var bybitReader *bybit.Bybit_LIQ_Reader
	if src := cfg.Source.Bybit; src != nil && src.Enabled {
		bybitReader = bybit.Bybit_LIQ_NewReader(cfg, channels, src.Symbols)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bybitReader.Bybit_LIQ_Start(ctx); err != nil {
				log.WithError(err).Warn("bybit reader failed to start")
			}
		}()
	}

	var okxReader *okx.OKX_LIQ_Reader
	if src := cfg.Source.Okx; src != nil && src.Enabled {
		okxReader = okx.OKX_LIQ_NewReader(cfg, channels)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := okxReader.OKX_LIQ_Start(ctx); err != nil {
				log.WithError(err).Warn("okx reader failed to start")
			}
		}()
	}

	var kucoinReader *kucoin.Kucoin_LIQ_Reader
	if src := cfg.Source.Kucoin; src != nil && src.Enabled {
		kucoinReader = kucoin.Kucoin_LIQ_NewReader(cfg, channels, src.Symbols)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := kucoinReader.Kucoin_LIQ_Start(ctx); err != nil {
				log.WithError(err).Warn("kucoin reader failed to start")
			}
		}()
	}

	var hyperliquidReader *hyperliquid.Hyperliquid_LIQ_Reader
	if src := cfg.Source.Hyperliquid; src != nil && src.Enabled {
		hyperliquidReader = hyperliquid.Hyperliquid_LIQ_NewReader(cfg, channels)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := hyperliquidReader.Hyperliquid_LIQ_Start(ctx); err != nil {
				log.WithError(err).Warn("hyperliquid reader failed to start")
			}
		}()
	}

	time.Sleep(2 * time.Second)
	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping readers")
	if binanceReader != nil {
		binanceReader.Binance_LIQ_Stop()
	}
	if bybitReader != nil {
		bybitReader.Bybit_LIQ_Stop()
	}
	if okxReader != nil {
		okxReader.OKX_LIQ_Stop()
	}
	if kucoinReader != nil {
		kucoinReader.Kucoin_LIQ_Stop()
	}
	if hyperliquidReader != nil {
		hyperliquidReader.Hyperliquid_LIQ_Stop()
	}

	log.Info("stopping router")
	router.Stop()

	if publisher != nil {
		log.Info("stopping signal publisher")
		publisher.Stop()
	}

	log.Info("stopping storage pipeline")
	pipeline.Stop()

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

	log.Info("liqflow stopped")
}
