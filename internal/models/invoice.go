package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ValidationStatus is the per-invoice outcome of a batch run.
type ValidationStatus string

const (
	StatusPending     ValidationStatus = "PENDING"
	StatusValid       ValidationStatus = "VALID"
	StatusInvalid     ValidationStatus = "INVALID"
	StatusSystemError ValidationStatus = "SYSTEM_ERROR"
)

// SystemErrorCode marks the synthetic finding recorded when validating an
// invoice fails unexpectedly. The batch loop keeps going.
const SystemErrorCode = "SYSTEM_001"

// Party identifies the issuer or recipient of an NF-e.
type Party struct {
	CNPJ      string `json:"cnpj"`
	LegalName string `json:"legal_name"`
	TradeName string `json:"trade_name,omitempty"`
	UF        string `json:"uf"`
	Municipio string `json:"municipio,omitempty"`
	// CRT is the tax regime code, when the source carries it.
	CRT string `json:"crt,omitempty"`
}

// TaxFields is the declared PIS or COFINS block of one item. All amounts are
// fixed-point decimals; the parser contract forbids floats upstream.
type TaxFields struct {
	CST   string          `json:"cst"`
	Base  decimal.Decimal `json:"base"`
	Rate  decimal.Decimal `json:"rate"`
	Value decimal.Decimal `json:"value"`
}

// ICMSFields is optional: source spreadsheets often lack ICMS columns, and an
// absent block must never be read as a zero rate.
type ICMSFields struct {
	CST     string           `json:"cst,omitempty"`
	Base    *decimal.Decimal `json:"base,omitempty"`
	Rate    *decimal.Decimal `json:"rate,omitempty"`
	Value   *decimal.Decimal `json:"value,omitempty"`
	STValue *decimal.Decimal `json:"st_value,omitempty"`
}

// Item is one invoice line as produced by the parsing collaborator. Validators
// only read it; findings are collected on the invoice.
type Item struct {
	Number      int    `json:"number"`
	ProductCode string `json:"product_code"`
	Description string `json:"description"`

	NCM  string `json:"ncm"`
	CFOP string `json:"cfop"`
	CEST string `json:"cest,omitempty"`

	Unit      string          `json:"unit"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
	Discount  decimal.Decimal `json:"discount"`
	Freight   decimal.Decimal `json:"freight"`

	PIS    TaxFields   `json:"pis"`
	COFINS TaxFields   `json:"cofins"`
	ICMS   *ICMSFields `json:"icms,omitempty"`
}

// Totals is the declared invoice-level summary block.
type Totals struct {
	ProductsValue  decimal.Decimal `json:"products_value"`
	FreightValue   decimal.Decimal `json:"freight_value"`
	InsuranceValue decimal.Decimal `json:"insurance_value"`
	DiscountValue  decimal.Decimal `json:"discount_value"`
	OtherValue     decimal.Decimal `json:"other_value"`
	PISValue       decimal.Decimal `json:"pis_value"`
	COFINSValue    decimal.Decimal `json:"cofins_value"`
	ICMSValue      decimal.Decimal `json:"icms_value"`
	InvoiceValue   decimal.Decimal `json:"invoice_value"`
}

// Invoice is a typed NF-e record. The access key stays a string end to end: a
// 44-digit number does not survive integer or float conversion.
type Invoice struct {
	AccessKey string    `json:"access_key"`
	Number    string    `json:"number"`
	Series    string    `json:"series"`
	IssuedAt  time.Time `json:"issued_at"`

	Issuer    Party `json:"issuer"`
	Recipient Party `json:"recipient"`

	Items  []Item `json:"items"`
	Totals Totals `json:"totals"`

	OperationNature string `json:"operation_nature,omitempty"`
	CFOPNota        string `json:"cfop_nota,omitempty"`

	ValidationErrors []ValidationError `json:"validation_errors,omitempty"`
}

// AddValidationError appends a finding. The list is never deduplicated and
// never reordered after insertion.
func (inv *Invoice) AddValidationError(err ValidationError) {
	inv.ValidationErrors = append(inv.ValidationErrors, err)
}

// ErrorsBySeverity filters the findings of one severity, preserving order.
func (inv *Invoice) ErrorsBySeverity(s Severity) []ValidationError {
	var out []ValidationError
	for _, e := range inv.ValidationErrors {
		if e.Severity == s {
			out = append(out, e)
		}
	}
	return out
}

// ItemErrors filters the findings attached to one item number.
func (inv *Invoice) ItemErrors(itemNumber int) []ValidationError {
	var out []ValidationError
	for _, e := range inv.ValidationErrors {
		if e.ItemNumber == itemNumber {
			out = append(out, e)
		}
	}
	return out
}

// TotalFinancialImpact sums impacts across all findings, nil counted as zero.
func (inv *Invoice) TotalFinancialImpact() decimal.Decimal {
	total := decimal.Zero
	for _, e := range inv.ValidationErrors {
		total = total.Add(e.Impact())
	}
	return total
}

// IsInterstate reports whether issuer and recipient sit in different states.
func (inv *Invoice) IsInterstate() bool {
	return inv.Issuer.UF != inv.Recipient.UF
}

// IsExport reports an export operation by the predominant CFOP group.
func (inv *Invoice) IsExport() bool {
	return len(inv.CFOPNota) > 0 && inv.CFOPNota[0] == '7'
}

// Status derives the outcome from the collected findings. Warnings alone do
// not invalidate an invoice.
func (inv *Invoice) Status() ValidationStatus {
	for _, e := range inv.ValidationErrors {
		if e.Code == SystemErrorCode {
			return StatusSystemError
		}
	}
	for _, e := range inv.ValidationErrors {
		if e.Severity == SeverityCritical || e.Severity == SeverityError {
			return StatusInvalid
		}
	}
	return StatusValid
}
