// Package invsync implements the invoice-to-movement synchronization engine:
// the rules that turn an electronic invoice into a financial ledger movement,
// keep the two statuses consistent, and prevent duplicate generation.
//
// Everything in this package is synchronous, deterministic and free of I/O.
// Candidate movements, tenant catalogs and persistence are all supplied or
// performed by the caller.
package invsync

import (
	"fmt"
	"strings"

	"gestionale/internal/core"
)

// ValidationError reports every precondition an invoice fails before
// movement generation. All checks are evaluated; none short-circuits.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "invoice not eligible for movement generation: " + strings.Join(e.Violations, "; ")
}

// AlreadyLinkedError means a candidate movement is already linked to the
// invoice. Callers may retry with ForceCreate to create anyway.
type AlreadyLinkedError struct {
	ExistingMovementID string
	MatchedRule        int
}

func (e *AlreadyLinkedError) Error() string {
	return fmt.Sprintf("invoice already linked to movement %s (rule %d)", e.ExistingMovementID, e.MatchedRule)
}

// ExcludedTypeError means the invoice document type never generates a
// movement (self-invoices and similar).
type ExcludedTypeError struct {
	TypeCode core.TypeCode
}

func (e *ExcludedTypeError) Error() string {
	return fmt.Sprintf("invoice type %s is excluded from movement generation", e.TypeCode)
}

// StatusMappingUnresolvedError means none of the candidate labels for the
// canonical invoice status exists in the tenant's status catalog. The
// translator never silently defaults.
type StatusMappingUnresolvedError struct {
	InvoiceStatus core.InvoiceStatus
}

func (e *StatusMappingUnresolvedError) Error() string {
	return fmt.Sprintf("no tenant status label resolves invoice status %q", e.InvoiceStatus)
}
