package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"time"

	"optionsBrain/config"
	"optionsBrain/internal/adapters/gateway"
	"optionsBrain/internal/adapters/logger"
	"optionsBrain/internal/adapters/sqlite"
	"optionsBrain/internal/adapters/tradier"
	"optionsBrain/internal/app"
	"optionsBrain/internal/dispatch"
	"optionsBrain/internal/indicator"
	"optionsBrain/internal/lifecycle"
	"optionsBrain/internal/ports"
	"optionsBrain/internal/regime"
	"optionsBrain/internal/snapshot"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Fatalf("FATAL: Failed to load timezone %q: %v", cfg.Timezone, err)
	}

	// 2. Initialize Logger
	var appLogger ports.Logger
	if cfg.LogFormat == "json" {
		zl, err := logger.NewZapLogger(cfg.LogLevel)
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize zap logger: %v", err)
		}
		defer zl.Sync()
		appLogger = zl
	} else {
		appLogger = logger.NewStdLogger(cfg.LogLevel)
	}
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String(), "format": cfg.LogFormat})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err) // Also log to stderr
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(context.Background(), "Database repository initialized")

	// 4. Initialize Broker Client and Market Stream
	brokerClient, err := tradier.NewClient(tradier.Config{
		BaseURL:   cfg.BrokerBaseURL,
		StreamURL: cfg.BrokerStreamURL,
		Token:     cfg.BrokerToken,
		AccountID: cfg.BrokerAccountID,
	}, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize broker client")
		log.Fatalf("FATAL: Failed to initialize broker client: %v", err)
	}
	stream, err := tradier.NewStream(brokerClient, cfg.Symbols, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize market stream")
		log.Fatalf("FATAL: Failed to initialize market stream: %v", err)
	}
	appLogger.Info(context.Background(), "Broker client initialized")

	// 5. Initialize Execution Gateway Client
	gatewayClient, err := gateway.New(gateway.Config{
		BaseURL: cfg.GatewayBaseURL,
		Secret:  cfg.GatewaySecret,
	}, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize gateway client")
		log.Fatalf("FATAL: Failed to initialize gateway client: %v", err)
	}
	appLogger.Info(context.Background(), "Gateway client initialized")

	// 6. Initialize Decision Pipeline (indicators, regime, lifecycle, dispatch)
	engine, err := indicator.New(indicator.Config{Location: loc}, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize indicator engine")
		log.Fatalf("FATAL: Failed to initialize indicator engine: %v", err)
	}

	classifier, err := regime.New(regime.Config{
		HighVolVIX:      cfg.HighVolVIX,
		CompressedVIX:   cfg.CompressedVIX,
		TrendingADX:     cfg.TrendingADX,
		CompressedADX:   cfg.CompressedADX,
		RestrictedDates: cfg.RestrictedDates,
		Location:        loc,
	}, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize regime classifier")
		log.Fatalf("FATAL: Failed to initialize regime classifier: %v", err)
	}

	manager, err := lifecycle.New(lifecycle.Config{
		Exit: lifecycle.ExitConfig{
			CreditProfitTarget:  cfg.ProfitTarget,
			CreditTrailArm:      cfg.TrailingArm,
			CreditTrailGiveback: cfg.TrailingGiveup,
			StopMultiple:        cfg.StopMultiple,
			HighVolVIX:          cfg.HighVolVIX,
		},
		RiskPerTrade:  cfg.RiskPerTrade,
		AllocationCap: cfg.AllocationCap,
		MaxQuantity:   cfg.MaxQuantity,
		Location:      loc,
	}, brokerClient, gatewayClient, repo, engine, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize lifecycle manager")
		log.Fatalf("FATAL: Failed to initialize lifecycle manager: %v", err)
	}

	dispatcher, err := dispatch.New(dispatch.Config{
		OversoldRSI:   cfg.OversoldRSI,
		OverboughtRSI: cfg.OverboughtRSI,
		CondorADX:     cfg.CompressedADX,
		CondorIVRank:  cfg.CondorIVRank,
		Location:      loc,
	}, manager, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize signal dispatcher")
		log.Fatalf("FATAL: Failed to initialize signal dispatcher: %v", err)
	}
	appLogger.Info(context.Background(), "Decision pipeline initialized")

	// 7. Initialize Snapshot Writer (best effort, non-fatal)
	var stateWriter app.StateWriter
	if cfg.SnapshotPath != "" {
		writer, err := snapshot.NewWriter(cfg.SnapshotPath, appLogger)
		if err != nil {
			appLogger.Warn(context.Background(), "Snapshot writer disabled", map[string]interface{}{"error": err.Error()})
		} else {
			stateWriter = writer
		}
	}

	// 8. Initialize and Start the Supervisor
	service, err := app.NewService(app.Config{
		Symbols:           cfg.Symbols,
		VIXSymbol:         cfg.VIXSymbol,
		PollInterval:      cfg.PollInterval,
		VIXPollInterval:   cfg.VIXPollInterval,
		IVPollInterval:    cfg.IVPollInterval,
		SnapshotInterval:  cfg.SnapshotInterval,
		ReconcileInterval: cfg.ReconcileInterval,
		WatchdogSilence:   cfg.WatchdogSilence,
		MetricsAddr:       cfg.MetricsAddr,
	}, appLogger, stream, brokerClient, engine, classifier, dispatcher, manager, stateWriter)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize service")
		log.Fatalf("FATAL: Failed to initialize service: %v", err)
	}

	if err := service.Start(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Service exited with error")
		log.Fatalf("FATAL: Service exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
