package validators

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fiscalops/nfe-auditor/internal/models"
	"github.com/fiscalops/nfe-auditor/internal/resolver"
)

// PISCOFINSValidator audits both federal contributions independently, then
// their relation to each other.
type PISCOFINSValidator struct {
	res *resolver.Resolver
}

func NewPISCOFINSValidator(res *resolver.Resolver) *PISCOFINSValidator {
	return &PISCOFINSValidator{res: res}
}

func (v *PISCOFINSValidator) Validate(item *models.Item, inv *models.Invoice) []models.ValidationError {
	var errs []models.ValidationError
	errs = append(errs, v.validateContribution(resolver.PIS, item, inv)...)
	errs = append(errs, v.validateContribution(resolver.COFINS, item, inv)...)
	errs = append(errs, v.validateRelation(item)...)
	return errs
}

func (v *PISCOFINSValidator) validateContribution(kind resolver.Contribution, item *models.Item, inv *models.Invoice) []models.ValidationError {
	var errs []models.ValidationError

	tax := item.PIS
	lawCode := "LEI_10637"
	exportArticle := "Art. 5º - Exportações com alíquota zero"
	if kind == resolver.COFINS {
		tax = item.COFINS
		lawCode = "LEI_10833"
		exportArticle = "Art. 6º - Exportações com alíquota zero"
	}
	prefix := string(kind)
	fieldPrefix := "pis"
	if kind == resolver.COFINS {
		fieldPrefix = "cofins"
	}

	if !v.res.CSTKnown(tax.CST) {
		errs = append(errs, models.ValidationError{
			Code:           prefix + "_001",
			Field:          fieldPrefix + "_cst",
			Message:        fmt.Sprintf("CST %s inválido: %s", prefix, tax.CST),
			Severity:       models.SeverityCritical,
			ActualValue:    tax.CST,
			ExpectedValue:  "CST válido conforme base de dados",
			LegalReference: v.res.Citation(lawCode),
			ItemNumber:     item.Number,
		})
		return errs
	}

	// Without a resolved classification code there is no regime to judge the
	// rates against. Never a silent pass: the gap is recorded.
	ncm, _ := NormalizeNCM(item.NCM)
	rule := v.res.Tax(kind, ncm, tax.CST)
	if !v.res.NCM(ncm).Found || !rule.Found {
		errs = append(errs, models.ValidationError{
			Code:           prefix + "_999",
			Field:          fieldPrefix + "_cst",
			Message:        fmt.Sprintf("Sem regra para NCM %s / CST %s - validação de alíquota %s não realizada", ncm, tax.CST, prefix),
			Severity:       models.SeverityWarning,
			ActualValue:    tax.CST,
			ExpectedValue:  "Regra cadastrada na base de dados",
			LegalReference: "Sistema de Validação",
			ItemNumber:     item.Number,
			Suggestion:     "Verifique se o CST está correto ou adicione regra em base_validacao.csv",
		})
		return errs
	}

	rateCorrect := true
	if rule.Taxed() && rule.ExpectedRate != nil {
		expected := *rule.ExpectedRate
		if !tax.Rate.Equal(expected) {
			rateCorrect = false
			// Impact against the declared line total; rounding happens once,
			// at the end.
			correctValue := item.LineTotal.Mul(expected).Div(decimal.NewFromInt(100)).Round(2)
			impact := tax.Value.Sub(correctValue).Abs()
			errs = append(errs, models.ValidationError{
				Code:           prefix + "_002",
				Field:          fieldPrefix + "_aliquota",
				Message:        fmt.Sprintf("Alíquota %s incorreta: %s%%", prefix, tax.Rate),
				Severity:       models.SeverityCritical,
				ActualValue:    tax.Rate.String(),
				ExpectedValue:  expected.String(),
				LegalReference: rule.LegalReference,
				LegalArticle:   rule.LegalArticle,
				ItemNumber:     item.Number,
				FinancialImpact: impactPtr(impact),
				Suggestion:     fmt.Sprintf("Alíquota correta: %s%%", expected),
				CorrectedValue: expected.String(),
			})
		}
	}

	// Value recomputation runs only under a trusted rate: with the rate itself
	// wrong the declared value is already covered by the _002 impact.
	if rateCorrect && tax.Rate.IsPositive() {
		recomputed := item.Quantity.Mul(item.UnitPrice).Mul(tax.Rate).Div(decimal.NewFromInt(100)).Round(2)
		diff := recomputed.Sub(tax.Value).Abs()
		if diff.GreaterThan(valueTolerance(recomputed)) {
			errs = append(errs, models.ValidationError{
				Code:           prefix + "_003",
				Field:          fieldPrefix + "_valor",
				Message:        fmt.Sprintf("Valor %s incorreto. Calculado: %s, Informado: %s", prefix, recomputed.StringFixed(2), tax.Value.StringFixed(2)),
				Severity:       models.SeverityError,
				ActualValue:    tax.Value.String(),
				ExpectedValue:  recomputed.String(),
				LegalReference: rule.LegalReference,
				ItemNumber:     item.Number,
				FinancialImpact: impactPtr(diff),
				CanAutoCorrect: true,
				CorrectedValue: recomputed.String(),
			})
		}
	}

	if inv.IsExport() && !rule.ZeroRated() {
		errs = append(errs, models.ValidationError{
			Code:           prefix + "_004",
			Field:          fieldPrefix + "_cst",
			Message:        fmt.Sprintf("Operação de exportação deve ter %s com CST 06 ou 08", prefix),
			Severity:       models.SeverityCritical,
			ActualValue:    tax.CST,
			ExpectedValue:  "06 ou 08",
			LegalReference: v.res.Citation(lawCode),
			LegalArticle:   exportArticle,
			ItemNumber:     item.Number,
			FinancialImpact: impactPtr(tax.Value),
			Suggestion:     "Exportações são isentas de PIS/COFINS",
		})
	}

	return errs
}

func (v *PISCOFINSValidator) validateRelation(item *models.Item) []models.ValidationError {
	if item.PIS.CST == item.COFINS.CST {
		return nil
	}
	return []models.ValidationError{{
		Code:           "PISCOFINS_001",
		Field:          "pis_cst,cofins_cst",
		Message:        fmt.Sprintf("CST PIS (%s) e COFINS (%s) divergentes", item.PIS.CST, item.COFINS.CST),
		Severity:       models.SeverityWarning,
		ActualValue:    fmt.Sprintf("PIS:%s, COFINS:%s", item.PIS.CST, item.COFINS.CST),
		LegalReference: "Leis 10.637/2002 e 10.833/2003",
		ItemNumber:     item.Number,
		Suggestion:     "PIS e COFINS geralmente devem ter mesma situação tributária",
	}}
}
