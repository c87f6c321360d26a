// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"pos-terminal/config"
	"pos-terminal/internal/acquirer"
	"pos-terminal/internal/emv"
	"pos-terminal/internal/handler"
	"pos-terminal/internal/keys"
	"pos-terminal/internal/reader"
	"pos-terminal/internal/router"
	"pos-terminal/internal/store"
	"pos-terminal/internal/usecase"
	"pos-terminal/internal/worker"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting terminal service")

	// Load configuration
	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	// Open durable storage
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DataPath), 0700); err != nil {
		logger.Fatal("failed to create data directory", zap.Error(err))
	}
	db, err := store.Open(cfg.Storage.DataPath)
	if err != nil {
		logger.Fatal("failed to open terminal database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("terminal database opened",
		zap.String("path", cfg.Storage.DataPath))

	// Initialize stores
	ledger := store.NewLedger(db, logger)
	registry := store.NewKeyRegistry(db, logger)
	queue := store.NewReversalQueue(db, logger)

	// Initialize key service and verify the enrollment keypair early so a
	// regenerated key is reported at startup, not mid-provisioning.
	keySvc := keys.NewService(cfg.Storage.KeystorePath, cfg.Keys.RSABits, nil, logger)
	if regenerated, err := keySvc.EnsureKeypair(context.Background()); err != nil {
		logger.Fatal("failed to prepare terminal keypair", zap.Error(err))
	} else if regenerated {
		logger.Warn("terminal keypair regenerated, backend re-enrollment required")
	}

	// Card reader collaborator. The hardware driver is wired here in real
	// deployments; the emulator serves development environments.
	cardReader := reader.NewEmulator(logger)

	// Acquirer client
	authorizer := acquirer.NewClient(acquirer.ClientConfig{
		BaseURL:             cfg.Acquirer.BaseURL,
		Timeout:             cfg.Acquirer.Timeout,
		ConsecutiveFailures: cfg.Acquirer.ConsecutiveFailures,
		CooldownPeriod:      cfg.Acquirer.CooldownPeriod,
	}, logger)

	// Scheme configuration
	schemeCfg := emv.NewConfigService(cardReader, logger)

	// Initialize usecases
	coordinator := usecase.NewCoordinator(
		ledger,
		registry,
		queue,
		cardReader,
		authorizer,
		schemeCfg,
		usecase.CoordinatorConfig{
			Currency:      cfg.Terminal.Currency,
			AmountCeiling: cfg.Terminal.AmountCeiling,
			CardTimeout:   cfg.Terminal.CardTimeout,
			AuthTimeout:   cfg.Terminal.AuthTimeout,
			Visa:          cfg.Brands.Visa,
			Mastercard:    cfg.Brands.Mastercard,
		},
		logger,
	)

	reversals := usecase.NewReversalService(ledger, queue, authorizer, cfg.Terminal.Currency, logger)
	provisioning := usecase.NewProvisioningService(keySvc, registry, cardReader, logger)

	// Background reversal retry loop
	reversalWorker := worker.NewReversalWorker(queue, reversals, worker.Config{
		DrainInterval: cfg.Reversal.DrainInterval,
		BaseBackoff:   cfg.Reversal.BaseBackoff,
		MaxBackoff:    cfg.Reversal.MaxBackoff,
		MaxAttempts:   cfg.Reversal.MaxAttempts,
	}, logger)

	workerCtx, cancelWorker := context.WithCancel(context.Background())
	go reversalWorker.Start(workerCtx)

	// Initialize handlers
	txnHandler := handler.NewTransactionHandler(coordinator, reversals, ledger, queue, logger)
	keyHandler := handler.NewKeyHandler(provisioning, logger)

	// Setup routes
	r := router.SetupRoutes(txnHandler, keyHandler, logger)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	logger.Info("terminal service started",
		zap.String("terminal_id", cfg.Terminal.ID),
		zap.String("port", cfg.Server.Port),
		zap.String("environment", cfg.Server.Env))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	reversalWorker.Stop()
	cancelWorker()

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
