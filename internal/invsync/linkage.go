package invsync

import (
	"bytes"
	"strings"

	"gestionale/internal/core"
)

// Linkage rule identifiers, in evaluation order.
const (
	LinkByInvoiceNumber  = 1 // exact "{number}/{year}" match
	LinkByDocumentNumber = 2 // document number contains the invoice number
	LinkByXMLPayload     = 3 // byte-equal raw XML, legacy fallback
)

// Linkage is the outcome of checking whether a movement already belongs to
// an invoice. The association is derived from content, not a foreign key.
type Linkage struct {
	Linked      bool
	MatchedRule int
	MovementID  string
}

// ResolveLinkage decides whether any candidate movement is already linked
// to the invoice. Rules run in order and the first match wins: the exact
// invoice-number link is authoritative, the document-number substring catches
// movements created before the invoice-number convention, and the XML
// comparison is a last-resort legacy fallback because it is both the most
// expensive and the least discriminating check.
//
// The candidate list is whatever snapshot the caller fetched; this function
// performs no I/O.
func ResolveLinkage(inv core.Invoice, candidates []core.Movement) Linkage {
	ref := inv.InvoiceNumber()

	for _, m := range candidates {
		if m.InvoiceNumber == ref {
			return Linkage{Linked: true, MatchedRule: LinkByInvoiceNumber, MovementID: m.ID}
		}
	}

	if inv.Number != "" {
		for _, m := range candidates {
			if m.DocumentNumber != "" && strings.Contains(m.DocumentNumber, inv.Number) {
				return Linkage{Linked: true, MatchedRule: LinkByDocumentNumber, MovementID: m.ID}
			}
		}
	}

	if len(inv.XMLContent) > 0 {
		for _, m := range candidates {
			if len(m.XMLData) > 0 && bytes.Equal(m.XMLData, inv.XMLContent) {
				return Linkage{Linked: true, MatchedRule: LinkByXMLPayload, MovementID: m.ID}
			}
		}
	}

	return Linkage{}
}
