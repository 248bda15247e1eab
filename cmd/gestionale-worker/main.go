package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"gestionale/internal/amqp"
	"gestionale/internal/config"
	"gestionale/internal/export"
	"gestionale/internal/export/google"
	"gestionale/internal/export/memory"
	"gestionale/internal/services"
	"gestionale/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting gestionale-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Ledger export backend
	var ledger export.LedgerWriter
	switch cfg.ExportBackend {
	case "sheets":
		client, err := google.NewFromEnv(ctx)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", "error", err)
			os.Exit(1)
		}
		ledger = client
		logger.Info("Google Sheets ledger initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	default:
		ledger = memory.New()
		logger.Info("Memory ledger initialized, exports are not persisted")
	}

	// AMQP client for consuming invoice status events
	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPStatusQueue, cfg.AMQPMovementQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	statusSync := services.NewStatusSyncService(repo, amqpClient, nil)

	processorConfig := services.DefaultExportProcessorConfig()
	processorConfig.PollInterval = cfg.ExportInterval
	processorConfig.BatchSize = cfg.ExportBatchSize

	processor := services.NewExportProcessor(repo, ledger, processorConfig)
	if err := processor.Start(ctx); err != nil {
		logger.Error("Failed to start export processor", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return amqpClient.ConsumeInvoiceStatus(gctx, func(msg *amqp.InvoiceStatusMessage) error {
			return statusSync.HandleInvoiceStatusMessage(gctx, msg)
		})
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		logger.Info("Shutting down export processor...")
		if err := processor.Stop(shutdownCtx); err != nil {
			logger.Error("Export processor shutdown error", "error", err)
		}
		return gctx.Err()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}
