// Package export defines the outbound ports for mirroring ledger movements
// to an external spreadsheet. SQLite stays the system of record; the mirror
// is append-only and fed from the export queue.
package export

import (
	"context"

	"gestionale/internal/core"
)

// LedgerWriter appends one movement to the external ledger and returns an
// adapter-specific row reference.
type LedgerWriter interface {
	AppendMovement(ctx context.Context, m core.Movement) (rowRef string, err error)
}
