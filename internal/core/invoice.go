package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Direction tells whether an invoice was issued by the tenant (outgoing)
// or received from a counterparty (incoming).
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// IsValid reports whether the direction is one of the two known values.
func (d Direction) IsValid() bool {
	return d == DirectionOutgoing || d == DirectionIncoming
}

// InvoiceStatus is the canonical invoice lifecycle status.
type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "draft"
	InvoiceSent      InvoiceStatus = "sent"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceOverdue   InvoiceStatus = "overdue"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

// IsValid reports whether the status belongs to the canonical lifecycle.
func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceDraft, InvoiceSent, InvoicePaid, InvoiceOverdue, InvoiceCancelled:
		return true
	}
	return false
}

// TypeCode is a FatturaPA document type code (TD01..TD28).
// The catalog is closed on paper, but new codes appear with every revision
// of the technical specification, so the type deliberately stays an open
// string: classification decides how unknown codes behave, not the model.
type TypeCode string

const (
	TD01 TypeCode = "TD01" // fattura
	TD02 TypeCode = "TD02" // acconto/anticipo su fattura
	TD03 TypeCode = "TD03" // acconto/anticipo su parcella
	TD04 TypeCode = "TD04" // nota di credito
	TD05 TypeCode = "TD05" // nota di debito
	TD06 TypeCode = "TD06" // parcella
	TD07 TypeCode = "TD07" // fattura semplificata
	TD08 TypeCode = "TD08" // nota di credito semplificata
	TD16 TypeCode = "TD16" // integrazione fattura reverse charge interno
	TD17 TypeCode = "TD17" // integrazione/autofattura acquisto servizi estero
	TD18 TypeCode = "TD18" // integrazione acquisto beni intracomunitari
	TD19 TypeCode = "TD19" // integrazione/autofattura ex art.17 c.2
	TD20 TypeCode = "TD20" // autofattura per regolarizzazione
	TD21 TypeCode = "TD21" // autofattura per splafonamento
	TD22 TypeCode = "TD22" // estrazione beni da deposito IVA
)

var (
	ErrInvalidDirection = errors.New("invalid direction")
	ErrInvalidStatus    = errors.New("invalid invoice status")
	ErrInvalidAmount    = errors.New("invalid amount")
)

// Invoice is an electronic invoice as tracked by the dashboard. It is
// created and mutated by the invoicing subsystem; the sync engine only
// reads it.
type Invoice struct {
	ID                 string
	CompanyID          string
	Direction          Direction
	TypeCode           TypeCode
	Number             string
	Year               int
	TotalAmount        decimal.Decimal
	TotalTaxAmount     decimal.Decimal
	TotalTaxableAmount decimal.Decimal
	IssueDate          Date
	PaymentTermsDays   *int
	Status             InvoiceStatus
	PaymentDate        *Date
	CustomerID         string // required iff outgoing
	SupplierID         string // required iff incoming
	XMLContent         []byte
	Notes              string
	Version            int64
}

// InvoiceNumber returns the canonical "{number}/{year}" reference used to
// link movements back to their invoice.
func (i Invoice) InvoiceNumber() string {
	return fmt.Sprintf("%s/%d", i.Number, i.Year)
}

// PartyID returns the counterparty id for the invoice direction.
func (i Invoice) PartyID() string {
	if i.Direction == DirectionOutgoing {
		return i.CustomerID
	}
	return i.SupplierID
}

// Validate checks structural integrity of the record itself. Movement
// generation preconditions are a separate concern (internal/sync).
func (i Invoice) Validate() error {
	if !i.Direction.IsValid() {
		return ErrInvalidDirection
	}
	if !i.Status.IsValid() {
		return ErrInvalidStatus
	}
	if i.TotalAmount.IsNegative() {
		return ErrInvalidAmount
	}
	if i.Number == "" {
		return errors.New("empty invoice number")
	}
	if i.Year < 1900 || i.Year > 3000 {
		return fmt.Errorf("implausible invoice year: %d", i.Year)
	}
	if err := i.IssueDate.Validate(); err != nil {
		return fmt.Errorf("invalid issue date: %w", err)
	}
	if i.PaymentTermsDays != nil && *i.PaymentTermsDays < 0 {
		return errors.New("negative payment terms")
	}
	return nil
}
