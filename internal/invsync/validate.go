package invsync

import "gestionale/internal/core"

// ValidationResult lists every failed precondition. Checks are all
// evaluated so the caller sees the complete picture in one pass, not the
// first violation only.
type ValidationResult struct {
	Valid      bool
	Violations []string
}

// ValidateForMovement checks the preconditions an invoice must satisfy
// before any movement is produced.
func ValidateForMovement(inv core.Invoice) ValidationResult {
	var violations []string

	if inv.CompanyID == "" {
		violations = append(violations, "company id is required")
	}
	if !inv.TotalAmount.IsPositive() {
		violations = append(violations, "total amount must be greater than zero")
	}
	if inv.IssueDate.IsZero() {
		violations = append(violations, "issue date is required")
	}
	switch inv.Direction {
	case core.DirectionOutgoing:
		if inv.CustomerID == "" {
			violations = append(violations, "outgoing invoice requires a customer id")
		}
	case core.DirectionIncoming:
		if inv.SupplierID == "" {
			violations = append(violations, "incoming invoice requires a supplier id")
		}
	default:
		violations = append(violations, "unknown invoice direction")
	}
	if inv.Status == core.InvoiceCancelled {
		violations = append(violations, "cancelled invoices do not generate movements")
	}

	return ValidationResult{Valid: len(violations) == 0, Violations: violations}
}
