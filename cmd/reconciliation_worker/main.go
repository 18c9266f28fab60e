package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/backoffice-reconciliation/internal/config"
	"github.com/backoffice-reconciliation/internal/data/mongo"
	"github.com/backoffice-reconciliation/internal/data/postgres"
	"github.com/backoffice-reconciliation/internal/logger"
	"github.com/backoffice-reconciliation/internal/platform/messaging/consumers"
	"github.com/backoffice-reconciliation/internal/platform/messaging/producers"
	"github.com/backoffice-reconciliation/internal/platform/persistence"
	"github.com/backoffice-reconciliation/internal/reconciliation/components"
	"github.com/backoffice-reconciliation/internal/reconciliation_worker/consumer"
	"github.com/backoffice-reconciliation/internal/reconciliation_worker/outbox_poller"
	"github.com/backoffice-reconciliation/internal/reconciliation_worker/scheduler"
	"github.com/backoffice-reconciliation/internal/reconciliation_worker/service"
	"github.com/backoffice-reconciliation/internal/upstream"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("reconciliation_worker")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

	log.Info("Starting Reconciliation Worker",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
	)

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
	jobService := components.CreateJobService(core.Runs, cfg, log)

	// Initialize Kafka consumer
	kafkaConsumer := consumers.NewKafkaConsumer(log, &cfg.Kafka)

	// dlqProducer is nil when no DLQ topic is configured; PublishToDLQ is nil-safe
	dlqProducer, err := producers.NewDLQProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize DLQ Kafka producer", "error", err)
		os.Exit(1)
	}

	eventProducer, err := producers.NewEventProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize event producer", "error", err)
		os.Exit(1)
	}

	jobEventHandler := consumer.NewJobEventHandler(log, jobService, dlqProducer)

	// Initialize outbox poller
	auditPublisher := outbox_poller.NewAuditPublisher(
		recordStore.Outbox(),
		auditRepo,
		eventProducer,
		log,
	)
	poller := outbox_poller.NewPoller(
		&cfg.Outbox,
		recordStore.Outbox(),
		auditPublisher,
		log,
	)

	// Create error channel for service errors
	errChan := make(chan error, 2)

	// Create wait group for graceful shutdown
	var wg sync.WaitGroup

	log.Info("Starting Kafka consumer",
		"topic", cfg.Kafka.JobTopic,
		"group", cfg.Kafka.ConsumerGroup,
	)
	if err := kafkaConsumer.Subscribe(appCtx, jobEventHandler.HandleMessage); err != nil {
		errChan <- fmt.Errorf("kafka consumer error: %w", err)
	}

	// Start outbox poller in a goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("Starting Outbox Poller",
			"interval", cfg.Outbox.PollingInterval.String(),
			"batch_size", cfg.Outbox.BatchSize,
		)
		poller.Start(appCtx)
	}()

	if cfg.Scheduler.Enabled {
		sched := scheduler.NewScheduler(log, jobService, registry.Sources(), cfg.Scheduler.Interval)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.Start(appCtx)
		}()
	}

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serviceErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Service error occurred", "error", err)
		serviceErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	// Wait for the consumer loop, the poller and the scheduler
	log.Info("Waiting for services to stop...")
	wgChan := make(chan struct{})
	go func() {
		wg.Wait()
		<-kafkaConsumer.Done()
		close(wgChan)
	}()

	select {
	case <-wgChan:
		log.Info("All services stopped successfully")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout reached, forcing exit")
	}

	// Release the job pool after no more jobs can be submitted
	if wpService, ok := jobService.(*service.WorkerPoolJobService); ok {
		wpService.Shutdown()
	}
	core.Close()

	var shutdownErr error
	if err := dlqProducer.Close(); err != nil {
		log.Error("Error closing DLQ Kafka producer", "error", err)
		shutdownErr = err
	}

	if err := eventProducer.Close(); err != nil {
		log.Error("Error closing event producer", "error", err)
		shutdownErr = err
	}

	if err := kafkaConsumer.Close(); err != nil {
		log.Error("Error closing Kafka consumer", "error", err)
		shutdownErr = err
	}

	postgresDB.Close()

	if err := mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
		shutdownErr = err
	}

	// Final status
	if serviceErr != nil {
		log.Error("Reconciliation Worker shutdown with errors", "error", serviceErr)
	}
	if shutdownErr != nil {
		log.Error("Reconciliation Worker shutdown completed with errors")
	} else {
		log.Info("Reconciliation Worker shutdown completed successfully")
	}
}
