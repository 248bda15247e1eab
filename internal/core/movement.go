package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// MovementType classifies a ledger movement as cash in or cash out.
// It is fully determined by the invoice direction (outgoing income,
// incoming expense), independent of the amount sign.
type MovementType string

const (
	MovementIncome  MovementType = "income"
	MovementExpense MovementType = "expense"
)

// IsValid reports whether the movement type is one of the two known values.
func (t MovementType) IsValid() bool {
	return t == MovementIncome || t == MovementExpense
}

// Movement is a financial ledger entry. After creation only the status and
// verification fields may change; amount, flow date and type are immutable.
type Movement struct {
	ID                   string
	CompanyID            string
	CoreID               string
	Type                 MovementType
	Amount               decimal.Decimal // signed; serialized as string
	VATAmount            decimal.Decimal
	NetAmount            decimal.Decimal
	FlowDate             Date
	InsertDate           time.Time
	StatusID             string // opaque tenant label id
	ReasonID             string // opaque tenant label id
	CustomerID           string // mutually exclusive with SupplierID
	SupplierID           string
	InvoiceNumber        string // "{number}/{year}" soft link, empty if none
	DocumentNumber       string
	XMLData              []byte
	Notes                string
	IsVerified           bool
	VerificationStatus   string
	LastVerificationDate *Date
}
