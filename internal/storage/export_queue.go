package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Export queue statuses.
const (
	ExportPending    = "pending"
	ExportProcessing = "processing"
	ExportCompleted  = "completed"
	ExportFailed     = "failed"
)

// ExportItem is a queued request to mirror one movement to the external
// ledger.
type ExportItem struct {
	ID         int64
	MovementID string
	Attempts   int64
	LastError  string
	CreatedAt  time.Time
}

// ExportQueueStats is a snapshot of the queue by status.
type ExportQueueStats struct {
	Pending    int64
	Processing int64
	Completed  int64
	Failed     int64
}

// EnqueueExport queues a movement for mirroring.
func (r *SQLiteRepository) EnqueueExport(ctx context.Context, movementID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO export_queue (movement_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?)`,
		movementID, ExportPending, now, now)
	if err != nil {
		return fmt.Errorf("enqueue export: %w", err)
	}

	slog.DebugContext(ctx, "Movement queued for export", "movement_id", movementID)
	return nil
}

// DequeueExportBatch returns up to limit pending items, oldest first.
func (r *SQLiteRepository) DequeueExportBatch(ctx context.Context, limit int64) ([]ExportItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, movement_id, attempts, last_error, created_at
		FROM export_queue
		WHERE status = ?
		ORDER BY created_at
		LIMIT ?`,
		ExportPending, limit)
	if err != nil {
		return nil, fmt.Errorf("dequeue export batch: %w", err)
	}
	defer rows.Close()

	var items []ExportItem
	for rows.Next() {
		var (
			item      ExportItem
			createdAt string
		)
		if err := rows.Scan(&item.ID, &item.MovementID, &item.Attempts, &item.LastError, &createdAt); err != nil {
			return nil, fmt.Errorf("scan export item: %w", err)
		}
		if item.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parse export created_at: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkExportProcessing claims an item before work starts.
func (r *SQLiteRepository) MarkExportProcessing(ctx context.Context, id int64) error {
	return r.setExportStatus(ctx, id, ExportProcessing, "")
}

// MarkExportCompleted marks an item done.
func (r *SQLiteRepository) MarkExportCompleted(ctx context.Context, id int64) error {
	return r.setExportStatus(ctx, id, ExportCompleted, "")
}

// MarkExportFailed marks an item permanently failed after max retries.
func (r *SQLiteRepository) MarkExportFailed(ctx context.Context, id int64, lastError string) error {
	return r.setExportStatus(ctx, id, ExportFailed, lastError)
}

// IncrementExportAttempt records a failed attempt and puts the item back
// in the pending pool for the next poll cycle.
func (r *SQLiteRepository) IncrementExportAttempt(ctx context.Context, id int64, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE export_queue
		SET status = ?, attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE id = ?`,
		ExportPending, lastError, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("increment export attempt: %w", err)
	}
	return nil
}

// ResetStaleExports requeues items stuck in processing, typically left
// behind by a crash between claim and completion.
func (r *SQLiteRepository) ResetStaleExports(ctx context.Context) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE export_queue SET status = ?, updated_at = ? WHERE status = ?`,
		ExportPending, time.Now().UTC().Format(time.RFC3339), ExportProcessing)
	if err != nil {
		return fmt.Errorf("reset stale exports: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.InfoContext(ctx, "Requeued stale export items", "count", n)
	}
	return nil
}

// RetryFailedExports resets all failed items for another round of retries.
func (r *SQLiteRepository) RetryFailedExports(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE export_queue
		SET status = ?, attempts = 0, last_error = '', updated_at = ?
		WHERE status = ?`,
		ExportPending, time.Now().UTC().Format(time.RFC3339), ExportFailed)
	if err != nil {
		return fmt.Errorf("retry failed exports: %w", err)
	}
	return nil
}

// CleanupCompletedExports deletes completed items older than the cutoff.
func (r *SQLiteRepository) CleanupCompletedExports(ctx context.Context, before time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM export_queue WHERE status = ? AND updated_at < ?`,
		ExportCompleted, before.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("cleanup completed exports: %w", err)
	}
	return nil
}

// GetExportQueueStats counts items per status.
func (r *SQLiteRepository) GetExportQueueStats(ctx context.Context) (ExportQueueStats, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM export_queue GROUP BY status`)
	if err != nil {
		return ExportQueueStats{}, fmt.Errorf("export queue stats: %w", err)
	}
	defer rows.Close()

	var stats ExportQueueStats
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return ExportQueueStats{}, fmt.Errorf("scan export stats: %w", err)
		}
		switch status {
		case ExportPending:
			stats.Pending = count
		case ExportProcessing:
			stats.Processing = count
		case ExportCompleted:
			stats.Completed = count
		case ExportFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

func (r *SQLiteRepository) setExportStatus(ctx context.Context, id int64, status, lastError string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE export_queue SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		status, lastError, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("set export status %s: %w", status, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("export item %d: %w", id, errNoQueueRow)
	}
	return nil
}

var errNoQueueRow = errors.New("export queue row not found")
