package invsync

import (
	"gestionale/internal/core"

	"github.com/shopspring/decimal"
)

// AmountResolver computes the signed movement amount for an invoice. The
// contract: abs(result) equals the resolved magnitude and the result is
// negative exactly when the classification says so. The interface exists so
// a future line-level resolver can slot in without touching the
// orchestrator.
type AmountResolver interface {
	ResolveAmount(inv core.Invoice, cls Classification) decimal.Decimal
}

// TotalAmountResolver resolves the amount from the invoice total alone,
// with no line-item awareness.
type TotalAmountResolver struct{}

func (TotalAmountResolver) ResolveAmount(inv core.Invoice, cls Classification) decimal.Decimal {
	if cls.NegativeAmount {
		return inv.TotalAmount.Neg()
	}
	return inv.TotalAmount
}
