package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gestionale/internal/export"
	"gestionale/internal/storage"
)

// ExportProcessorConfig holds configuration for the export processor.
type ExportProcessorConfig struct {
	// PollInterval is how often to check for pending items (default: 10s)
	PollInterval time.Duration

	// BatchSize is the max number of items to process per poll cycle (default: 10)
	BatchSize int

	// MaxRetries is the maximum retry attempts before marking as failed (default: 3)
	MaxRetries int

	// CleanupInterval is how often to clean up completed items (default: 1h)
	CleanupInterval time.Duration

	// CleanupAge is how old completed items must be before cleanup (default: 24h)
	CleanupAge time.Duration
}

// DefaultExportProcessorConfig returns sensible defaults.
func DefaultExportProcessorConfig() ExportProcessorConfig {
	return ExportProcessorConfig{
		PollInterval:    10 * time.Second,
		BatchSize:       10,
		MaxRetries:      3,
		CleanupInterval: 1 * time.Hour,
		CleanupAge:      24 * time.Hour,
	}
}

// ExportProcessor drains the export queue, mirroring each queued movement
// to the external ledger. Failures retry with a bounded attempt count; a
// broker-side ledger outage therefore never blocks movement creation.
type ExportProcessor struct {
	storage *storage.SQLiteRepository
	ledger  export.LedgerWriter
	config  ExportProcessorConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewExportProcessor(storage *storage.SQLiteRepository, ledger export.LedgerWriter, config ExportProcessorConfig) *ExportProcessor {
	return &ExportProcessor{
		storage: storage,
		ledger:  ledger,
		config:  config,
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *ExportProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("export processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	// Items stuck in processing belong to a previous crash.
	if err := p.storage.ResetStaleExports(ctx); err != nil {
		slog.WarnContext(ctx, "Failed to reset stale export items", "error", err)
	}

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Export processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *ExportProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
		slog.InfoContext(ctx, "Export processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Export processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

// IsRunning returns whether the processor is currently running.
func (p *ExportProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *ExportProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	pollTicker := time.NewTicker(p.config.PollInterval)
	defer pollTicker.Stop()

	cleanupTicker := time.NewTicker(p.config.CleanupInterval)
	defer cleanupTicker.Stop()

	// Process immediately on startup.
	p.processBatch(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			p.processBatch(ctx)
		case <-cleanupTicker.C:
			p.cleanupCompleted(ctx)
		}
	}
}

func (p *ExportProcessor) processBatch(ctx context.Context) {
	items, err := p.storage.DequeueExportBatch(ctx, int64(p.config.BatchSize))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to dequeue export batch", "error", err)
		return
	}
	if len(items) == 0 {
		return
	}

	slog.DebugContext(ctx, "Processing export batch", "count", len(items))

	for _, item := range items {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := p.storage.MarkExportProcessing(ctx, item.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to mark export item as processing",
				"id", item.ID, "error", err)
			continue
		}

		if err := p.processItem(ctx, item); err != nil {
			p.handleFailure(ctx, item, err)
		} else {
			p.handleSuccess(ctx, item)
		}
	}
}

func (p *ExportProcessor) processItem(ctx context.Context, item storage.ExportItem) error {
	movement, err := p.storage.GetMovement(ctx, item.MovementID)
	if err != nil {
		return fmt.Errorf("get movement %s: %w", item.MovementID, err)
	}

	ref, err := p.ledger.AppendMovement(ctx, movement)
	if err != nil {
		return fmt.Errorf("append to ledger: %w", err)
	}

	slog.InfoContext(ctx, "Movement exported to ledger",
		"movement_id", item.MovementID,
		"ledger_ref", ref)

	return nil
}

func (p *ExportProcessor) handleSuccess(ctx context.Context, item storage.ExportItem) {
	if err := p.storage.MarkExportCompleted(ctx, item.ID); err != nil {
		slog.ErrorContext(ctx, "Failed to mark export complete",
			"id", item.ID, "error", err)
	}
}

func (p *ExportProcessor) handleFailure(ctx context.Context, item storage.ExportItem, processErr error) {
	slog.WarnContext(ctx, "Export processing failed",
		"id", item.ID,
		"movement_id", item.MovementID,
		"attempt", item.Attempts+1,
		"error", processErr)

	if item.Attempts+1 >= int64(p.config.MaxRetries) {
		if err := p.storage.MarkExportFailed(ctx, item.ID, processErr.Error()); err != nil {
			slog.ErrorContext(ctx, "Failed to mark export as failed",
				"id", item.ID, "error", err)
		}
		slog.ErrorContext(ctx, "Export item failed permanently after max retries",
			"id", item.ID,
			"movement_id", item.MovementID,
			"attempts", item.Attempts+1)
		return
	}

	if err := p.storage.IncrementExportAttempt(ctx, item.ID, processErr.Error()); err != nil {
		slog.ErrorContext(ctx, "Failed to increment export attempt",
			"id", item.ID, "error", err)
	}
}

func (p *ExportProcessor) cleanupCompleted(ctx context.Context) {
	cutoff := time.Now().Add(-p.config.CleanupAge)
	if err := p.storage.CleanupCompletedExports(ctx, cutoff); err != nil {
		slog.ErrorContext(ctx, "Failed to cleanup completed exports", "error", err)
	}
}

// Stats returns current queue statistics.
func (p *ExportProcessor) Stats(ctx context.Context) (storage.ExportQueueStats, error) {
	return p.storage.GetExportQueueStats(ctx)
}

// RetryFailed resets all failed items for retry.
func (p *ExportProcessor) RetryFailed(ctx context.Context) error {
	return p.storage.RetryFailedExports(ctx)
}
