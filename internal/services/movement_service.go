package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gestionale/internal/amqp"
	"gestionale/internal/core"
	"gestionale/internal/invsync"
	applog "gestionale/internal/log"
	"gestionale/internal/storage"
)

// MovementService orchestrates movement generation across the engine,
// SQLite and AMQP. The engine stays pure; everything that touches storage
// or the broker lives here.
type MovementService struct {
	storage    *storage.SQLiteRepository
	amqpClient *amqp.Client
	engine     *invsync.Orchestrator
	audit      *applog.StructuredLogger
}

// MovementResult is the persisted movement together with the mapping
// summary that explains how it was derived.
type MovementResult struct {
	Movement core.Movement
	Summary  invsync.MappingSummary
}

func NewMovementService(storage *storage.SQLiteRepository, amqpClient *amqp.Client, engine *invsync.Orchestrator) *MovementService {
	if engine == nil {
		engine = invsync.NewDefaultOrchestrator()
	}
	return &MovementService{
		storage:    storage,
		amqpClient: amqpClient,
		engine:     engine,
		audit:      applog.NewStructuredLogger(applog.New(applog.DefaultConfig()).WithComponent(applog.ComponentMovement)),
	}
}

// CreateMovementFromInvoice loads the invoice and its company context, runs
// the engine, and persists the draft. The persist re-runs the duplicate
// guard transactionally, so a race between two concurrent creates resolves
// to exactly one movement. Engine errors pass through unchanged for the
// transport layer to map.
func (s *MovementService) CreateMovementFromInvoice(ctx context.Context, invoiceID string, opts invsync.CreateOptions) (*MovementResult, error) {
	inv, err := s.storage.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("load invoice: %w", err)
	}

	candidates, err := s.storage.ListCandidateMovements(ctx, inv.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("load candidate movements: %w", err)
	}

	catalog, err := s.storage.StatusCatalog(ctx, inv.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("load status catalog: %w", err)
	}

	company, err := s.storage.GetCompany(ctx, inv.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("load company: %w", err)
	}

	result, err := s.engine.CreateMovementFromInvoice(inv, candidates, catalog, opts)
	if err != nil {
		return nil, err
	}
	draft := result.Draft

	// The settlement account travels with the movement so the exported
	// ledger row carries it.
	if company.IBAN != "" {
		draft.Notes = appendNote(draft.Notes, "IBAN "+company.IBAN)
	}

	// The engine suggests a reason code; resolve it to the tenant's label
	// id. A caller-supplied ReasonID is already a label id and resolves to
	// itself only when it happens to collide with a code.
	if opts.ReasonID == "" {
		reasons, err := s.storage.ReasonCatalog(ctx, inv.CompanyID)
		if err != nil {
			return nil, fmt.Errorf("load reason catalog: %w", err)
		}
		if id, ok := reasons[draft.ReasonID]; ok {
			draft.ReasonID = id
		}
	}

	movement, err := s.storage.CreateMovementGuarded(ctx, inv, draft, opts.ForceCreate)
	if err != nil {
		var dup *storage.DuplicateMovementError
		if errors.As(err, &dup) {
			return nil, &invsync.AlreadyLinkedError{
				ExistingMovementID: dup.ExistingMovementID,
				MatchedRule:        dup.MatchedRule,
			}
		}
		return nil, fmt.Errorf("persist movement: %w", err)
	}

	// Queue the sheets mirror. A queue failure never rolls back the
	// movement; the export processor will pick it up on a later enqueue
	// or operator retry.
	if err := s.storage.EnqueueExport(ctx, movement.ID); err != nil {
		slog.ErrorContext(ctx, "Failed to enqueue movement export",
			"movement_id", movement.ID, "error", err)
	}

	s.audit.LogMovementCreated(ctx, movement.ID, string(movement.Type), movement.Amount.StringFixed(2), inv.ID)
	s.publishMovementCreated(ctx, movement.ID, inv.ID)

	return &MovementResult{Movement: movement, Summary: result.Summary}, nil
}

func appendNote(notes, fragment string) string {
	if notes == "" {
		return fragment
	}
	return notes + " | " + fragment
}

func (s *MovementService) publishMovementCreated(ctx context.Context, movementID, invoiceID string) {
	if s.amqpClient == nil {
		slog.DebugContext(ctx, "AMQP client not available, skipping movement created message")
		return
	}
	if err := s.amqpClient.PublishMovementCreated(ctx, movementID, invoiceID); err != nil {
		slog.ErrorContext(ctx, "Failed to publish movement created message",
			"movement_id", movementID, "error", err)
	}
}

// Close closes storage and the AMQP connection.
func (s *MovementService) Close() error {
	var errs []error

	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	if s.amqpClient != nil {
		if err := s.amqpClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close movement service: %v", errs)
	}
	return nil
}
