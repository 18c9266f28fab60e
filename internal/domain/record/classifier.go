package record

import (
	"fmt"
	"regexp"

	"github.com/backoffice-reconciliation/internal/domain/shared"
)

// Classifier derives a source's kind from its naming convention.
// Explicit overrides win over the patterns.
type Classifier struct {
	bank      *regexp.Regexp
	invoice   *regexp.Regexp
	overrides map[string]shared.SourceKind
}

// NewClassifier compiles the bank and invoice source patterns
func NewClassifier(bankPattern, invoicePattern string, overrides map[string]shared.SourceKind) (*Classifier, error) {
	bank, err := regexp.Compile(bankPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid bank source pattern: %w", err)
	}
	invoice, err := regexp.Compile(invoicePattern)
	if err != nil {
		return nil, fmt.Errorf("invalid invoice source pattern: %w", err)
	}
	return &Classifier{bank: bank, invoice: invoice, overrides: overrides}, nil
}

// KindOf returns the kind of records produced by source
func (c *Classifier) KindOf(source string) shared.SourceKind {
	if kind, ok := c.overrides[source]; ok && kind.Valid() {
		return kind
	}
	switch {
	case c.bank.MatchString(source):
		return shared.SourceKindBank
	case c.invoice.MatchString(source):
		return shared.SourceKindInvoice
	}
	return shared.SourceKindProcessor
}
