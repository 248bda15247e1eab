package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gestionale/internal/amqp"
	"gestionale/internal/core"
	"gestionale/internal/invsync"
	"gestionale/internal/storage"
)

// ErrNoLinkedMovement is returned when a status sync is requested for an
// invoice that has no movement linked to it.
var ErrNoLinkedMovement = errors.New("invoice has no linked movement")

// StatusSyncService propagates invoice status changes to linked movements.
// It consumes invoice-status-changed events at-least-once, so the whole
// path is idempotent: the patch is a pure function of the invoice and
// re-applying it is a no-op.
type StatusSyncService struct {
	storage    *storage.SQLiteRepository
	amqpClient *amqp.Client
	engine     *invsync.Orchestrator
}

// SyncOutcome reports what a status sync did.
type SyncOutcome struct {
	MovementID string
	Patch      invsync.MovementPatch
	// Applied is false when the movement already reflected the patch.
	Applied bool
}

func NewStatusSyncService(storage *storage.SQLiteRepository, amqpClient *amqp.Client, engine *invsync.Orchestrator) *StatusSyncService {
	if engine == nil {
		engine = invsync.NewDefaultOrchestrator()
	}
	return &StatusSyncService{storage: storage, amqpClient: amqpClient, engine: engine}
}

// SyncInvoiceStatus finds the movement linked to the invoice and brings its
// status and verification fields in line with the invoice.
func (s *StatusSyncService) SyncInvoiceStatus(ctx context.Context, invoiceID string) (*SyncOutcome, error) {
	inv, err := s.storage.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("load invoice: %w", err)
	}

	candidates, err := s.storage.ListCandidateMovements(ctx, inv.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("load candidate movements: %w", err)
	}

	link := invsync.ResolveLinkage(inv, candidates)
	if !link.Linked {
		return nil, fmt.Errorf("invoice %s: %w", invoiceID, ErrNoLinkedMovement)
	}

	catalog, err := s.storage.StatusCatalog(ctx, inv.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("load status catalog: %w", err)
	}

	patch, err := s.engine.SyncMovementStatus(inv, catalog)
	if err != nil {
		return nil, err
	}

	movement, err := s.storage.GetMovement(ctx, link.MovementID)
	if err != nil {
		return nil, fmt.Errorf("load linked movement: %w", err)
	}

	outcome := &SyncOutcome{MovementID: movement.ID, Patch: patch}
	if patch.AppliedTo(movement) {
		slog.DebugContext(ctx, "Movement already up to date",
			"movement_id", movement.ID, "invoice_id", inv.ID)
		return outcome, nil
	}

	if err := s.storage.ApplyMovementPatch(ctx, movement.ID, patch); err != nil {
		return nil, fmt.Errorf("apply movement patch: %w", err)
	}
	outcome.Applied = true

	slog.InfoContext(ctx, "Movement status synced",
		"movement_id", movement.ID,
		"invoice_id", inv.ID,
		"status_id", patch.StatusID)

	return outcome, nil
}

// HandleInvoiceStatusMessage is the AMQP consumer entry point. Unknown
// invoices and invoices without a linked movement are acked rather than
// requeued; redelivering them can never succeed.
func (s *StatusSyncService) HandleInvoiceStatusMessage(ctx context.Context, msg *amqp.InvoiceStatusMessage) error {
	_, err := s.SyncInvoiceStatus(ctx, msg.InvoiceID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNoLinkedMovement):
		slog.InfoContext(ctx, "Status event for unlinked invoice, nothing to sync",
			"invoice_id", msg.InvoiceID, "version", msg.Version)
		return nil
	case errors.Is(err, storage.ErrNotFound):
		slog.WarnContext(ctx, "Status event for unknown invoice, dropping",
			"invoice_id", msg.InvoiceID, "version", msg.Version)
		return nil
	default:
		return err
	}
}

// UpdateInvoiceStatus changes the invoice status and emits the status event
// that drives the reverse sync. Used by the HTTP layer.
func (s *StatusSyncService) UpdateInvoiceStatus(ctx context.Context, invoiceID string, status core.InvoiceStatus, paymentDate *core.Date) error {
	if err := s.storage.UpdateInvoiceStatus(ctx, invoiceID, status, paymentDate); err != nil {
		return err
	}

	inv, err := s.storage.GetInvoice(ctx, invoiceID)
	if err != nil {
		return fmt.Errorf("reload invoice: %w", err)
	}

	if s.amqpClient == nil {
		slog.DebugContext(ctx, "AMQP client not available, skipping invoice status message")
		return nil
	}
	if err := s.amqpClient.PublishInvoiceStatus(ctx, inv.ID, inv.Version); err != nil {
		slog.ErrorContext(ctx, "Failed to publish invoice status message",
			"invoice_id", inv.ID, "error", err)
	}
	return nil
}
