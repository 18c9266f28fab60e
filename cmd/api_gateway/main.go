package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/backoffice-reconciliation/internal/api_gateway"
	"github.com/backoffice-reconciliation/internal/api_gateway/handler"
	"github.com/backoffice-reconciliation/internal/api_gateway/service"
	"github.com/backoffice-reconciliation/internal/config"
	"github.com/backoffice-reconciliation/internal/data/mongo"
	"github.com/backoffice-reconciliation/internal/data/postgres"
	"github.com/backoffice-reconciliation/internal/logger"
	"github.com/backoffice-reconciliation/internal/platform/messaging/producers"
	"github.com/backoffice-reconciliation/internal/platform/persistence"
	"github.com/backoffice-reconciliation/internal/reconciliation/components"
	"github.com/backoffice-reconciliation/internal/upstream"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("api_gateway")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

	// Initialize databases with app context
	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}

	mongoDB, err := persistence.NewMongoDB(appCtx, log, &cfg.MongoDB)
	if err != nil {
		log.Error("Failed to initialize MongoDB", "error", err)
		os.Exit(1)
	}
	if err := mongoDB.EnsureIndexes(appCtx, mongo.AuditCollectionName, mongo.AuditIndexes()); err != nil {
		log.Error("Failed to create audit indexes", "error", err)
		os.Exit(1)
	}
	if err := mongoDB.EnsureIndexes(appCtx, mongo.RunCollectionName, mongo.RunIndexes()); err != nil {
		log.Error("Failed to create run indexes", "error", err)
		os.Exit(1)
	}

	// Initialize Kafka producer for sync jobs
	jobProducer, err := producers.NewJobProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize job producer", "error", err)
		os.Exit(1)
	}

	// Initialize repositories
	recordStore := postgres.NewStore(log, postgresDB)
	auditRepo := mongo.NewAuditRepository(log, mongoDB.Database())
	runRepo := mongo.NewRunRepository(log, mongoDB.Database())

	registry, err := upstream.NewRegistryFromConfig(log, &cfg.Sync, postgresDB)
	if err != nil {
		log.Error("Failed to configure upstream sources", "error", err)
		os.Exit(1)
	}

	core, err := components.CreateCore(log, cfg, recordStore, registry, runRepo)
	if err != nil {
		log.Error("Failed to create reconciliation services", "error", err)
		os.Exit(1)
	}

	// Initialize services
	reconciliationService := service.NewReconciliationService(log, core.Manual, core.Runs)
	recordService := service.NewRecordService(log, core.Chains, auditRepo, runRepo)
	syncService := service.NewSyncService(log, registry.Sources(), jobProducer)

	// Initialize REST server
	server := api_gateway.NewServer(log, cfg, reconciliationService, recordService, syncService, map[string]handler.Pinger{
		"postgres": postgresDB,
		"mongodb":  mongoDB,
	})
	log.Info("REST server initialized", "sources", registry.Sources())

	// Create error channel for server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serverErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Server error occurred", "error", err)
		serverErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	// Stop accepting requests before closing what they depend on
	var shutdownErr error
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("Error during server shutdown", "error", err)
		shutdownErr = err
	}

	core.Close()

	if err := jobProducer.Close(); err != nil {
		log.Error("Error closing job producer", "error", err)
		shutdownErr = err
	}

	postgresDB.Close()

	if err := mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
		shutdownErr = err
	}

	// Final status
	if serverErr != nil {
		log.Error("HTTP server shutdown with errors", "error", serverErr)
	}
	if shutdownErr != nil {
		log.Error("Server shutdown completed with errors")
	} else {
		log.Info("Server shutdown completed successfully")
	}
}
