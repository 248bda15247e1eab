package invsync

import "gestionale/internal/core"

// Reason codes suggested per document type. These are codes, not tenant
// label ids; resolving a code to the tenant's reason catalog happens at the
// service layer.
const (
	ReasonInvoice           = "FATT_ATT"
	ReasonAdvance           = "FATT_ACC"
	ReasonCreditNote        = "NOTA_CR"
	ReasonDebitNote         = "NOTA_DB"
	ReasonSimplifiedInvoice = "FATT_SEMPL"
)

// Classification is the outcome of looking up an invoice type code.
type Classification struct {
	NegativeAmount      bool
	Excluded            bool
	SuggestedReasonCode string
}

// ClassifierConfig carries the rule tables as data. It is injected at
// construction so tenants can override rules without touching any global
// state, and the classifier never mutates it afterwards.
type ClassifierConfig struct {
	NegativeTypes     []core.TypeCode
	ExcludedTypes     []core.TypeCode
	ReasonCodes       map[core.TypeCode]string
	DefaultReasonCode string
}

// DefaultClassifierConfig returns the standard FatturaPA rule set: credit
// notes flip the sign, self-invoices are excluded.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		NegativeTypes: []core.TypeCode{core.TD04, core.TD08},
		ExcludedTypes: []core.TypeCode{core.TD20, core.TD21, core.TD22},
		ReasonCodes: map[core.TypeCode]string{
			core.TD01: ReasonInvoice,
			core.TD02: ReasonAdvance,
			core.TD04: ReasonCreditNote,
			core.TD05: ReasonDebitNote,
			core.TD06: ReasonInvoice,
			core.TD07: ReasonSimplifiedInvoice,
			core.TD08: ReasonCreditNote,
		},
		DefaultReasonCode: ReasonInvoice,
	}
}

// Classifier resolves a FatturaPA type code to its movement-generation
// behavior. Lookups never fail: unknown codes resolve to the default
// classification (positive, not excluded, default reason) so new document
// types introduced by a specification update do not block generation.
type Classifier struct {
	negative      map[core.TypeCode]struct{}
	excluded      map[core.TypeCode]struct{}
	reasons       map[core.TypeCode]string
	defaultReason string
}

// NewClassifier builds a classifier from the given rule tables. The config
// is copied; later mutation of the caller's maps has no effect.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	c := &Classifier{
		negative:      make(map[core.TypeCode]struct{}, len(cfg.NegativeTypes)),
		excluded:      make(map[core.TypeCode]struct{}, len(cfg.ExcludedTypes)),
		reasons:       make(map[core.TypeCode]string, len(cfg.ReasonCodes)),
		defaultReason: cfg.DefaultReasonCode,
	}
	for _, tc := range cfg.NegativeTypes {
		c.negative[tc] = struct{}{}
	}
	for _, tc := range cfg.ExcludedTypes {
		c.excluded[tc] = struct{}{}
	}
	for tc, reason := range cfg.ReasonCodes {
		c.reasons[tc] = reason
	}
	if c.defaultReason == "" {
		c.defaultReason = ReasonInvoice
	}
	return c
}

// Classify resolves the type code against the rule tables.
func (c *Classifier) Classify(code core.TypeCode) Classification {
	cls := Classification{SuggestedReasonCode: c.defaultReason}
	if _, ok := c.negative[code]; ok {
		cls.NegativeAmount = true
	}
	if _, ok := c.excluded[code]; ok {
		cls.Excluded = true
	}
	if reason, ok := c.reasons[code]; ok {
		cls.SuggestedReasonCode = reason
	}
	return cls
}
