// Package validators holds the deterministic audit checks. Item validators
// run in fixed order (NCM, PIS/COFINS, CFOP), then the invoice-level totals
// check, then the state overlays. Validators are pure: they read the invoice
// and the resolver and return findings, never logging and never mutating
// anything but the invoice error list via the pipeline.
package validators

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fiscalops/nfe-auditor/internal/models"
)

// ItemValidator checks one invoice line in its invoice context.
type ItemValidator interface {
	Validate(item *models.Item, inv *models.Invoice) []models.ValidationError
}

// InvoiceValidator checks invoice-level consistency.
type InvoiceValidator interface {
	Validate(inv *models.Invoice) []models.ValidationError
}

var centTolerance = decimal.NewFromFloat(0.02)

// valueTolerance is the smaller of 1% of the declared value and two cents.
func valueTolerance(declared decimal.Decimal) decimal.Decimal {
	relative := declared.Abs().Mul(decimal.NewFromFloat(0.01))
	if relative.LessThan(centTolerance) {
		return relative
	}
	return centTolerance
}

// digitsOnly strips common separators and reports whether the remainder is
// numeric with the wanted width.
func digitsOnly(code string, width int) (string, bool) {
	clean := strings.NewReplacer(".", "", "-", "", " ", "").Replace(code)
	if len(clean) != width {
		return clean, false
	}
	for _, r := range clean {
		if r < '0' || r > '9' {
			return clean, false
		}
	}
	return clean, true
}

func impactPtr(d decimal.Decimal) *decimal.Decimal { return &d }
