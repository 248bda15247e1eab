package invsync

import "gestionale/internal/core"

// StatusCatalog is a tenant's catalog of movement status labels, keyed by
// label text. The values are the opaque label ids movements carry.
type StatusCatalog map[string]string

// StatusRules lists, per canonical invoice status, the candidate movement
// status labels in preference order. The first label present in the tenant
// catalog wins.
type StatusRules map[core.InvoiceStatus][]string

// DefaultStatusRules returns the stock label synonyms. Italian labels come
// first because they are what the seeded catalogs use; the English synonyms
// cover tenants that renamed their labels.
func DefaultStatusRules() StatusRules {
	return StatusRules{
		core.InvoiceDraft:     {"Da Saldare", "Pending"},
		core.InvoiceSent:      {"In Lavorazione", "Processing", "Sent"},
		core.InvoicePaid:      {"Saldato", "Paid", "Completed"},
		core.InvoiceOverdue:   {"Scaduto", "Overdue"},
		core.InvoiceCancelled: {"Annullato", "Cancelled"},
	}
}

// VerificationPatch describes a proposed update to a movement's audit
// fields. It is returned, never applied; applying it is the orchestrator
// caller's job.
type VerificationPatch struct {
	Verified bool
	Status   string
	Date     core.Date
}

// StatusResolution is the outcome of translating an invoice status.
type StatusResolution struct {
	StatusID     string
	Verification *VerificationPatch // non-nil only for paid invoices with a payment date
}

// StatusTranslator maps canonical invoice statuses to tenant movement
// status labels. Pure: the tenant catalog is passed per call.
type StatusTranslator struct {
	rules StatusRules
}

// NewStatusTranslator builds a translator over the given rules. Statuses
// missing from the rules can never resolve and will surface as
// StatusMappingUnresolvedError.
func NewStatusTranslator(rules StatusRules) *StatusTranslator {
	copied := make(StatusRules, len(rules))
	for status, labels := range rules {
		copied[status] = append([]string(nil), labels...)
	}
	return &StatusTranslator{rules: copied}
}

// Translate resolves the invoice status against the tenant catalog. The
// first candidate label found in the catalog wins; if none exists the
// translation fails loudly rather than defaulting.
//
// When the status is paid and a payment date is known, the resolution also
// carries a verification patch dated to the payment.
func (t *StatusTranslator) Translate(status core.InvoiceStatus, paymentDate *core.Date, catalog StatusCatalog) (StatusResolution, error) {
	for _, label := range t.rules[status] {
		id, ok := catalog[label]
		if !ok {
			continue
		}
		res := StatusResolution{StatusID: id}
		if status == core.InvoicePaid && paymentDate != nil {
			res.Verification = &VerificationPatch{
				Verified: true,
				Status:   "verified",
				Date:     *paymentDate,
			}
		}
		return res, nil
	}
	return StatusResolution{}, &StatusMappingUnresolvedError{InvoiceStatus: status}
}
