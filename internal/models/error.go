package models

import "github.com/shopspring/decimal"

// Severity classifies a validation finding. Ordering matters: CRITICAL
// outranks ERROR outranks WARNING outranks INFO.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "CRITICAL"
	case SeverityError:
		return "ERROR"
	case SeverityWarning:
		return "WARNING"
	default:
		return "INFO"
	}
}

// MarshalText lets severities serialize as their names in JSON reports.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ValidationError is one fiscal finding. Records are append-only: once added
// to an invoice they are never rewritten or reordered.
type ValidationError struct {
	Code     string   `json:"code"`
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`

	ActualValue   string `json:"actual_value,omitempty"`
	ExpectedValue string `json:"expected_value,omitempty"`
	Suggestion    string `json:"suggestion,omitempty"`

	LegalReference string `json:"legal_reference,omitempty"`
	LegalArticle   string `json:"legal_article,omitempty"`

	// FinancialImpact is nil for non-monetary findings; the aggregator treats
	// nil as zero.
	FinancialImpact *decimal.Decimal `json:"financial_impact,omitempty"`

	// ItemNumber is 0 for invoice-level findings.
	ItemNumber int `json:"item_number,omitempty"`

	CanAutoCorrect bool   `json:"can_auto_correct,omitempty"`
	CorrectedValue string `json:"corrected_value,omitempty"`
}

// Impact returns the financial impact, zero when unset.
func (e ValidationError) Impact() decimal.Decimal {
	if e.FinancialImpact == nil {
		return decimal.Zero
	}
	return *e.FinancialImpact
}
