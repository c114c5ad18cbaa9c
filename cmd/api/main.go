package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"payment-ledger/config"
	httpHandler "payment-ledger/internal/adapter/http/handler"
	pgStorage "payment-ledger/internal/adapter/storage/postgres"
	redisStorage "payment-ledger/internal/adapter/storage/redis"
	"payment-ledger/internal/core/domain"
	"payment-ledger/internal/core/ports"
	"payment-ledger/internal/eventbus"
	"payment-ledger/internal/gateway"
	"payment-ledger/internal/service"
	"payment-ledger/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Payment Ledger")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	txRepo := pgStorage.NewTransactionRepo(pool)
	refundRepo := pgStorage.NewRefundRepo(pool)
	webhookLogRepo := pgStorage.NewWebhookLogRepo(pool)
	opLogRepo := pgStorage.NewOperationLogRepo(pool)
	credRepo := pgStorage.NewCredentialRepo(pool)
	idempotencyRepo := pgStorage.NewIdempotencyRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize Redis stores
	idempotencyStore := redisStorage.NewIdempotencyStore(rdb)
	runLockStore := redisStorage.NewRunLockStore(rdb)

	// Initialize the credential vault and webhook signer
	vault, err := service.NewVaultService(cfg.Vault)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize credential vault")
	}
	signer := service.NewHMACSignatureService()

	// Initialize the event bus. Consumers subscribe before the server starts.
	bus := eventbus.New(log)
	bus.Subscribe(domain.EventReconciliationMismatch, func(evt domain.Event) {
		log.Warn().
			Str("event_id", evt.ID.String()).
			Interface("payload", evt.Payload).
			Msg("reconciliation mismatch")
	})

	// Initialize gateway adapters
	gwClient := gateway.NewClient(cfg.Payment.GatewayTimeout, cfg.Payment.GatewayMaxRetries, log)
	registry := gateway.NewRegistry(
		gateway.NewVnpayAdapter(gwClient, signer, log),
		gateway.NewMomoAdapter(gwClient, signer, log),
	)

	// Initialize business services
	credentialSvc := service.NewCredentialService(credRepo, vault, opLogRepo, log)
	ledgerSvc := service.NewLedgerService(
		txRepo,
		idempotencyRepo,
		idempotencyStore,
		credRepo,
		opLogRepo,
		transactor,
		registry,
		credentialSvc,
		bus,
		cfg.Payment,
		cfg.Cod,
		log,
	)
	refundSvc := service.NewRefundService(
		refundRepo,
		txRepo,
		opLogRepo,
		transactor,
		ledgerSvc,
		registry,
		credentialSvc,
		bus,
		cfg.Payment,
		log,
	)
	webhookSvc := service.NewWebhookService(webhookLogRepo, txRepo, ledgerSvc, refundSvc, registry, credentialSvc, log)
	reconSvc := service.NewReconciliationService(
		txRepo,
		credRepo,
		credentialSvc,
		registry,
		ledgerSvc,
		opLogRepo,
		runLockStore,
		bus,
		cfg.Reconciliation,
		cfg.Cod,
		log,
	)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		LedgerSvc:      ledgerSvc,
		RefundSvc:      refundSvc,
		WebhookSvc:     webhookSvc,
		CredentialSvc:  credentialSvc,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		Logger:         log,
	})

	// Start the reconciliation scheduler
	schedCtx, stopScheduler := context.WithCancel(ctx)
	go reconSvc.Start(schedCtx)

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	stopScheduler()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Let in-flight event handlers finish
	bus.Wait()

	log.Info().Msg("Server exited")
}
