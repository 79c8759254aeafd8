package validators

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fiscalops/nfe-auditor/internal/models"
)

// TotalsValidator cross-checks the declared summary block against the item
// lines. Runs once per invoice, after the item validators. Check order is
// fixed: line totals, products total, grand total, then each tax total.
type TotalsValidator struct{}

func NewTotalsValidator() *TotalsValidator { return &TotalsValidator{} }

func (v *TotalsValidator) Validate(inv *models.Invoice) []models.ValidationError {
	var errs []models.ValidationError

	for i := range inv.Items {
		if err := v.checkLineTotal(&inv.Items[i]); err != nil {
			errs = append(errs, *err)
		}
	}

	sumItems := decimal.Zero
	sumPIS := decimal.Zero
	sumCOFINS := decimal.Zero
	for _, item := range inv.Items {
		sumItems = sumItems.Add(item.LineTotal)
		sumPIS = sumPIS.Add(item.PIS.Value)
		sumCOFINS = sumCOFINS.Add(item.COFINS.Value)
	}

	if diff := sumItems.Sub(inv.Totals.ProductsValue).Abs(); diff.GreaterThan(centTolerance) {
		errs = append(errs, models.ValidationError{
			Code:            "TOTAL_001",
			Field:           "valor_produtos",
			Message:         fmt.Sprintf("Valor total dos produtos divergente. Soma itens: %s, Informado: %s", sumItems.StringFixed(2), inv.Totals.ProductsValue.StringFixed(2)),
			Severity:        models.SeverityError,
			ActualValue:     inv.Totals.ProductsValue.String(),
			ExpectedValue:   sumItems.String(),
			LegalReference:  "Manual NF-e, Item 7.2",
			FinancialImpact: impactPtr(diff),
			CanAutoCorrect:  true,
			CorrectedValue:  sumItems.String(),
		})
	}

	grandTotal := inv.Totals.ProductsValue.
		Add(inv.Totals.FreightValue).
		Add(inv.Totals.InsuranceValue).
		Add(inv.Totals.OtherValue).
		Sub(inv.Totals.DiscountValue)
	if diff := grandTotal.Sub(inv.Totals.InvoiceValue).Abs(); diff.GreaterThan(centTolerance) {
		errs = append(errs, models.ValidationError{
			Code:            "TOTAL_002",
			Field:           "valor_total_nota",
			Message:         fmt.Sprintf("Valor total da nota incorreto. Calculado: %s, Informado: %s", grandTotal.StringFixed(2), inv.Totals.InvoiceValue.StringFixed(2)),
			Severity:        models.SeverityError,
			ActualValue:     inv.Totals.InvoiceValue.String(),
			ExpectedValue:   grandTotal.String(),
			LegalReference:  "Manual NF-e, Item 7.2",
			FinancialImpact: impactPtr(diff),
			CanAutoCorrect:  true,
			CorrectedValue:  grandTotal.String(),
		})
	}

	if diff := sumPIS.Sub(inv.Totals.PISValue).Abs(); diff.GreaterThan(centTolerance) {
		errs = append(errs, models.ValidationError{
			Code:            "TOTAL_003",
			Field:           "valor_pis",
			Message:         fmt.Sprintf("Total PIS divergente. Soma itens: %s, Informado: %s", sumPIS.StringFixed(2), inv.Totals.PISValue.StringFixed(2)),
			Severity:        models.SeverityError,
			ActualValue:     inv.Totals.PISValue.String(),
			ExpectedValue:   sumPIS.String(),
			LegalReference:  "Manual NF-e",
			FinancialImpact: impactPtr(diff),
			CanAutoCorrect:  true,
		})
	}

	if diff := sumCOFINS.Sub(inv.Totals.COFINSValue).Abs(); diff.GreaterThan(centTolerance) {
		errs = append(errs, models.ValidationError{
			Code:            "TOTAL_004",
			Field:           "valor_cofins",
			Message:         fmt.Sprintf("Total COFINS divergente. Soma itens: %s, Informado: %s", sumCOFINS.StringFixed(2), inv.Totals.COFINSValue.StringFixed(2)),
			Severity:        models.SeverityError,
			ActualValue:     inv.Totals.COFINSValue.String(),
			ExpectedValue:   sumCOFINS.String(),
			LegalReference:  "Manual NF-e",
			FinancialImpact: impactPtr(diff),
			CanAutoCorrect:  true,
		})
	}

	return errs
}

// checkLineTotal compares the declared line total with quantity × unit price.
func (v *TotalsValidator) checkLineTotal(item *models.Item) *models.ValidationError {
	computed := item.Quantity.Mul(item.UnitPrice).Round(2)
	diff := computed.Sub(item.LineTotal).Abs()
	if !diff.GreaterThan(centTolerance) {
		return nil
	}
	return &models.ValidationError{
		Code:            "TOTAL_005",
		Field:           "valor_total",
		Message:         fmt.Sprintf("Valor total do item divergente. Quantidade × preço unitário: %s, Informado: %s", computed.StringFixed(2), item.LineTotal.StringFixed(2)),
		Severity:        models.SeverityError,
		ActualValue:     item.LineTotal.String(),
		ExpectedValue:   computed.String(),
		LegalReference:  "Manual NF-e, Item 7.2",
		ItemNumber:      item.Number,
		FinancialImpact: impactPtr(diff),
		CanAutoCorrect:  true,
		CorrectedValue:  computed.String(),
	}
}
