package invsync

import (
	"fmt"
	"strings"

	"gestionale/internal/core"

	"github.com/shopspring/decimal"
)

// CreateOptions are the caller-supplied knobs for movement generation.
type CreateOptions struct {
	// ForceCreate skips the duplicate guard and creates a movement even
	// when one is already linked.
	ForceCreate bool
	// CoreID is the target ledger core. Required.
	CoreID string
	// StatusID overrides the translated tenant status label id.
	StatusID string
	// ReasonID overrides the classifier's suggested reason.
	ReasonID string
	// PaymentTermsDays overrides the invoice's payment terms.
	PaymentTermsDays *int
	// AdditionalNotes are appended to the composed movement notes.
	AdditionalNotes string
}

// MovementDraft is a fully composed movement that has not been persisted.
// The repository assigns id and insert date; everything else is final, and
// amount, flow date and type stay immutable from here on.
type MovementDraft struct {
	CompanyID            string
	CoreID               string
	Type                 core.MovementType
	Amount               decimal.Decimal
	VATAmount            decimal.Decimal
	NetAmount            decimal.Decimal
	FlowDate             core.Date
	StatusID             string
	ReasonID             string
	CustomerID           string
	SupplierID           string
	InvoiceNumber        string
	DocumentNumber       string
	XMLData              []byte
	Notes                string
	IsVerified           bool
	VerificationStatus   string
	LastVerificationDate *core.Date
}

// MappingSummary explains how the draft was derived, for API responses and
// audit logs.
type MappingSummary struct {
	Amount             decimal.Decimal
	MovementType       core.MovementType
	NegativeAmount     bool
	ReasonCode         string
	PaymentTermsDays   int
	AutoGeneratedNotes string
}

// CreateResult pairs the draft with its mapping summary.
type CreateResult struct {
	Draft   MovementDraft
	Summary MappingSummary
}

// MovementPatch is a partial update for a linked movement's status and
// verification fields. It is a pure function of the invoice state, so
// applying the same patch twice is a no-op.
type MovementPatch struct {
	StatusID             string
	IsVerified           *bool
	VerificationStatus   *string
	LastVerificationDate *core.Date
}

// AppliedTo reports whether the movement already reflects the patch.
func (p MovementPatch) AppliedTo(m core.Movement) bool {
	if p.StatusID != "" && m.StatusID != p.StatusID {
		return false
	}
	if p.IsVerified != nil && m.IsVerified != *p.IsVerified {
		return false
	}
	if p.VerificationStatus != nil && m.VerificationStatus != *p.VerificationStatus {
		return false
	}
	if p.LastVerificationDate != nil {
		if m.LastVerificationDate == nil || !m.LastVerificationDate.Equal(*p.LastVerificationDate) {
			return false
		}
	}
	return true
}

// Orchestrator composes the engine components into the two public
// operations: movement creation and reverse status sync. It never touches
// storage; drafts and patches go back to the caller for persistence.
type Orchestrator struct {
	classifier *Classifier
	amounts    AmountResolver
	translator *StatusTranslator
}

// NewOrchestrator wires an orchestrator from explicit components.
func NewOrchestrator(classifier *Classifier, amounts AmountResolver, translator *StatusTranslator) *Orchestrator {
	return &Orchestrator{
		classifier: classifier,
		amounts:    amounts,
		translator: translator,
	}
}

// NewDefaultOrchestrator wires the standard FatturaPA rule set.
func NewDefaultOrchestrator() *Orchestrator {
	return NewOrchestrator(
		NewClassifier(DefaultClassifierConfig()),
		TotalAmountResolver{},
		NewStatusTranslator(DefaultStatusRules()),
	)
}

// CreateMovementFromInvoice builds a movement draft from an invoice.
//
// The pipeline: validate, duplicate guard over the caller's candidate
// snapshot, type classification (excluded types produce no draft), amount
// and flow-date resolution, status translation against the tenant catalog,
// then composition. Errors are the distinguishable kinds from the package
// taxonomy so callers can branch; only AlreadyLinkedError is retriable
// with ForceCreate.
func (o *Orchestrator) CreateMovementFromInvoice(inv core.Invoice, candidates []core.Movement, catalog StatusCatalog, opts CreateOptions) (*CreateResult, error) {
	if res := ValidateForMovement(inv); !res.Valid {
		return nil, &ValidationError{Violations: res.Violations}
	}

	if link := ResolveLinkage(inv, candidates); link.Linked && !opts.ForceCreate {
		return nil, &AlreadyLinkedError{ExistingMovementID: link.MovementID, MatchedRule: link.MatchedRule}
	}

	cls := o.classifier.Classify(inv.TypeCode)
	if cls.Excluded {
		return nil, &ExcludedTypeError{TypeCode: inv.TypeCode}
	}

	amount := o.amounts.ResolveAmount(inv, cls)

	termsDays := 0
	switch {
	case opts.PaymentTermsDays != nil:
		termsDays = *opts.PaymentTermsDays
	case inv.PaymentTermsDays != nil:
		termsDays = *inv.PaymentTermsDays
	}
	flowDate := ResolveFlowDate(inv.IssueDate, termsDays)

	movementType := core.MovementExpense
	if inv.Direction == core.DirectionOutgoing {
		movementType = core.MovementIncome
	}

	statusID := opts.StatusID
	resolution, err := o.translator.Translate(inv.Status, inv.PaymentDate, catalog)
	if err != nil && statusID == "" {
		return nil, err
	}
	if statusID == "" {
		statusID = resolution.StatusID
	}

	reasonID := opts.ReasonID
	if reasonID == "" {
		reasonID = cls.SuggestedReasonCode
	}

	autoNotes := fmt.Sprintf("Movimento generato da fattura %s (%s)", inv.InvoiceNumber(), inv.TypeCode)
	notes := composeNotes(autoNotes, termsNote(termsDays), inv.Notes, opts.AdditionalNotes)

	draft := MovementDraft{
		CompanyID:      inv.CompanyID,
		CoreID:         opts.CoreID,
		Type:           movementType,
		Amount:         amount,
		VATAmount:      inv.TotalTaxAmount,
		NetAmount:      inv.TotalTaxableAmount,
		FlowDate:       flowDate,
		StatusID:       statusID,
		ReasonID:       reasonID,
		CustomerID:     inv.CustomerID,
		SupplierID:     inv.SupplierID,
		InvoiceNumber:  inv.InvoiceNumber(),
		DocumentNumber: fmt.Sprintf("%s-%s", inv.TypeCode, inv.Number),
		XMLData:        inv.XMLContent,
		Notes:          notes,
	}
	if resolution.Verification != nil {
		v := resolution.Verification
		draft.IsVerified = v.Verified
		draft.VerificationStatus = v.Status
		verifiedAt := v.Date
		draft.LastVerificationDate = &verifiedAt
	}

	return &CreateResult{
		Draft: draft,
		Summary: MappingSummary{
			Amount:             amount,
			MovementType:       movementType,
			NegativeAmount:     cls.NegativeAmount,
			ReasonCode:         cls.SuggestedReasonCode,
			PaymentTermsDays:   termsDays,
			AutoGeneratedNotes: autoNotes,
		},
	}, nil
}

// SyncMovementStatus computes the status patch a linked movement needs
// after its invoice changed. Only status and verification fields appear in
// the patch; amount, flow date and type are immutable after creation and
// are never recomputed here.
func (o *Orchestrator) SyncMovementStatus(inv core.Invoice, catalog StatusCatalog) (MovementPatch, error) {
	resolution, err := o.translator.Translate(inv.Status, inv.PaymentDate, catalog)
	if err != nil {
		return MovementPatch{}, err
	}

	patch := MovementPatch{StatusID: resolution.StatusID}
	if v := resolution.Verification; v != nil {
		verified := v.Verified
		status := v.Status
		verifiedAt := v.Date
		patch.IsVerified = &verified
		patch.VerificationStatus = &status
		patch.LastVerificationDate = &verifiedAt
	}
	return patch, nil
}

func termsNote(days int) string {
	if days <= 0 {
		return ""
	}
	return fmt.Sprintf("Pagamento a %d giorni", days)
}

// composeNotes joins the non-empty note fragments in a stable order.
func composeNotes(fragments ...string) string {
	parts := fragments[:0:0]
	for _, f := range fragments {
		if strings.TrimSpace(f) != "" {
			parts = append(parts, strings.TrimSpace(f))
		}
	}
	return strings.Join(parts, " | ")
}
