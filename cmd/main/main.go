package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"price-feed/src/config"
	"price-feed/src/interfaces"
	"price-feed/src/logger"
	"price-feed/src/manager"
	"price-feed/src/models"
	"price-feed/src/publishers"
	"price-feed/src/serializers"
	"price-feed/src/stores"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "../../config/default.yaml", "path to config file")
	flag.Parse()

	// Load config from YAML file
	config, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	appLogger := logger.NewLogger(config.MConfig, config.Name)

	// Reference-data store: Postgres when configured, otherwise the built-in
	// demo set so the binary runs standalone.
	var refStore interfaces.IReferenceStore
	if config.Postgres.DSN != "" {
		pgStore, err := stores.NewPostgresReferenceStore(&config.Postgres, appLogger)
		if err != nil {
			appLogger.Critical("failed to open reference store: %v", err)
			os.Exit(1)
		}
		defer pgStore.Close()
		refStore = pgStore
	} else {
		appLogger.Warning("no reference database configured, using built-in demo symbols")
		refStore = stores.NewStaticReferenceStore(demoReferenceSet())
	}

	// The margin authority is wired by the surrounding application; running
	// standalone there is none and liquidation checks are skipped.
	var authority interfaces.IMarginAuthority

	// Create the connection manager (one instance per process)
	feedManager, err := manager.NewManager(config, refStore, authority, appLogger)
	if err != nil {
		appLogger.Critical("failed to create manager: %v", err)
		os.Exit(1)
	}
	if err := feedManager.Start(); err != nil {
		appLogger.Critical("failed to start manager: %v", err)
		os.Exit(1)
	}
	defer feedManager.Stop()

	// Attach the NATS publisher as price + status listener
	if config.NATS.Enabled {
		serializer := serializers.NewJSONSerializer()
		if config.NATS.Serializer == "gob" {
			serializer = serializers.NewBinSerializer()
		}
		publisher := publishers.NewNATSPublisher(&config.NATS, appLogger, serializer)
		if err := publisher.Connect(); err != nil {
			appLogger.Error("NATS publisher unavailable, continuing without it: %v", err)
		} else {
			defer publisher.Disconnect()
			feedManager.Subscribe(func(symbol string, tick models.MTick) {
				publisher.OnTick(&tick)
			})
			feedManager.OnStatusChange(publisher.OnStatus)
		}
	}

	// Attach the Redis tick mirror
	if config.Redis.Enabled {
		mirror, err := stores.NewRedisMirror(&config.Redis, serializers.NewJSONSerializer(), appLogger)
		if err != nil {
			appLogger.Error("redis mirror unavailable, continuing without it: %v", err)
		} else {
			defer mirror.Close()
			feedManager.Subscribe(mirror.OnTick)
		}
	}

	// Watch the configured bootstrap symbols persistently
	if len(config.BootstrapSymbols) > 0 {
		if err := feedManager.Watch(config.BootstrapSymbols, true); err != nil {
			appLogger.Error("failed to watch bootstrap symbols: %v", err)
		}
	}

	appLogger.Info("price feed running, %d bootstrap symbols. Press Ctrl+C to stop.", len(config.BootstrapSymbols))

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	appLogger.Info("shutting down...")
}

// -----------------------------------------------------------------------------

// demoReferenceSet is the fallback reference data used without a database.
func demoReferenceSet() []models.MReferenceEntry {
	return []models.MReferenceEntry{
		{Symbol: "BINANCE:BTCUSDT", Type: models.FeedTypeCrypto, Name: "Bitcoin", PipValue: 0.01, MinLot: 0.001, MaxLot: 100, IsActive: true, DisplayOrder: 1},
		{Symbol: "BINANCE:ETHUSDT", Type: models.FeedTypeCrypto, Name: "Ethereum", PipValue: 0.01, MinLot: 0.01, MaxLot: 1000, IsActive: true, DisplayOrder: 2},
		{Symbol: "FX:EURUSD", Type: models.FeedTypeForex, Name: "Euro / US Dollar", PipValue: 0.0001, MinLot: 0.01, MaxLot: 50, IsActive: true, DisplayOrder: 3},
		{Symbol: "FX:GBPUSD", Type: models.FeedTypeForex, Name: "Pound / US Dollar", PipValue: 0.0001, MinLot: 0.01, MaxLot: 50, IsActive: true, DisplayOrder: 4},
	}
}
