package validators

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fiscalops/nfe-auditor/internal/models"
	"github.com/fiscalops/nfe-auditor/internal/override"
	"github.com/fiscalops/nfe-auditor/internal/resolver"
)

// StateValidator overlays one state's ICMS rules on top of the federal
// checks. Findings are advisory: whatever a rule's ceiling says, nothing here
// exceeds WARNING.
type StateValidator struct {
	uf  string
	res *resolver.Resolver
}

func NewSPValidator(res *resolver.Resolver) *StateValidator {
	return &StateValidator{uf: "SP", res: res}
}

func NewPEValidator(res *resolver.Resolver) *StateValidator {
	return &StateValidator{uf: "PE", res: res}
}

// UF returns the jurisdiction this validator covers.
func (v *StateValidator) UF() string { return v.uf }

func (v *StateValidator) Validate(item *models.Item, inv *models.Invoice) []models.ValidationError {
	if inv.Issuer.UF != v.uf && inv.Recipient.UF != v.uf {
		return nil
	}

	ncm, _ := NormalizeNCM(item.NCM)
	res := v.res.State(v.uf, ncm)
	if !res.Found {
		// Absence of a state rule is not a finding.
		return nil
	}

	if res.Hint != nil {
		return []models.ValidationError{v.hintFinding(item, res.Hint)}
	}

	var errs []models.ValidationError
	if err := v.checkICMSRate(item, res.Overrides); err != nil {
		errs = append(errs, *err)
	}
	switch v.uf {
	case "SP":
		if err := v.checkTaxSubstitution(item, res.Overrides); err != nil {
			errs = append(errs, *err)
		}
	case "PE":
		if err := v.checkBaseReductionBenefit(item, res.Overrides); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// hintFinding surfaces an override-sheet state entry as an informational
// notice; the sheet carries descriptions, not rates to verify against.
func (v *StateValidator) hintFinding(item *models.Item, hint *override.StateHint) models.ValidationError {
	expected := hint.Description
	if hint.Percent != nil {
		expected = fmt.Sprintf("%s (%s%%)", hint.Description, hint.Percent)
	}
	return models.ValidationError{
		Code:           v.uf + "_BENEFICIO_001",
		Field:          fmt.Sprintf("item[%d].impostos", item.Number),
		Message:        fmt.Sprintf("Tratamento estadual previsto para NCM %s em %s: %s", item.NCM, v.uf, hint.Description),
		Severity:       models.SeverityInfo,
		ActualValue:    "Verificar se foi aplicado",
		ExpectedValue:  expected,
		LegalReference: hint.LegalBasis,
		ItemNumber:     item.Number,
		Suggestion:     hint.Note,
	}
}

func (v *StateValidator) checkICMSRate(item *models.Item, rules []models.StateOverride) *models.ValidationError {
	var rule *models.StateOverride
	for i := range rules {
		if rules[i].OverrideType == models.OverrideICMS {
			rule = &rules[i]
			break
		}
	}
	if rule == nil || rule.ICMSRate == nil {
		return nil
	}
	if item.ICMS == nil || item.ICMS.Rate == nil {
		// Absent ICMS columns are not a zero rate.
		return nil
	}

	expected := *rule.ICMSRate
	actual := *item.ICMS.Rate
	if actual.Sub(expected).Abs().LessThanOrEqual(decimal.NewFromFloat(0.01)) {
		return nil
	}

	base := decimal.Zero
	if item.ICMS.Base != nil {
		base = *item.ICMS.Base
	}
	expectedValue := base.Mul(expected).Div(decimal.NewFromInt(100))
	actualValue := decimal.Zero
	if item.ICMS.Value != nil {
		actualValue = *item.ICMS.Value
	}
	// Impact is the absolute delta: under-declared ICMS must add to the
	// invoice total, not offset other findings.
	impact := actualValue.Sub(expectedValue).Abs()

	legalRef := rule.LegalReference
	if rule.DecreeNumber != "" {
		legalRef += " - " + rule.DecreeNumber
	}

	return &models.ValidationError{
		Code:            v.uf + "_ICMS_001",
		Field:           fmt.Sprintf("item[%d].impostos.icms_aliquota", item.Number),
		Message:         fmt.Sprintf("Alíquota ICMS divergente da regra %s para NCM %s. Regra: %q", v.uf, item.NCM, rule.RuleName),
		Severity:        clampToCeiling(models.SeverityWarning, rule.SeverityCeiling),
		ActualValue:     actual.String() + "%",
		ExpectedValue:   expected.String() + "%",
		LegalReference:  legalRef,
		LegalArticle:    rule.LegalArticle,
		ItemNumber:      item.Number,
		FinancialImpact: impactPtr(impact),
	}
}

func (v *StateValidator) checkTaxSubstitution(item *models.Item, rules []models.StateOverride) *models.ValidationError {
	var rule *models.StateOverride
	for i := range rules {
		if rules[i].OverrideType == models.OverrideTaxSubstitution && rules[i].IsST {
			rule = &rules[i]
			break
		}
	}
	if rule == nil {
		return nil
	}
	if item.ICMS == nil || item.ICMS.STValue != nil {
		return nil
	}

	mva := ""
	if rule.STMVA != nil {
		mva = rule.STMVA.String()
	}
	return &models.ValidationError{
		Code:           "SP_ST_001",
		Field:          fmt.Sprintf("item[%d].impostos.icms_st_valor", item.Number),
		Message:        fmt.Sprintf("Item sujeito a Substituição Tributária em SP (NCM %s). MVA aplicável: %s%%. Regra: %q", item.NCM, mva, rule.RuleName),
		Severity:       clampToCeiling(models.SeverityWarning, rule.SeverityCeiling),
		ActualValue:    "Não informado",
		ExpectedValue:  fmt.Sprintf("ICMS-ST calculado com MVA %s%%", mva),
		LegalReference: rule.LegalReference,
		LegalArticle:   rule.LegalArticle,
		ItemNumber:     item.Number,
	}
}

func (v *StateValidator) checkBaseReductionBenefit(item *models.Item, rules []models.StateOverride) *models.ValidationError {
	var rule *models.StateOverride
	for i := range rules {
		if rules[i].OverrideType == models.OverrideBaseReduction {
			rule = &rules[i]
			break
		}
	}
	if rule == nil || rule.ICMSReductionRate == nil {
		return nil
	}
	if item.ICMS == nil || item.ICMS.Base == nil {
		return nil
	}

	reduction := *rule.ICMSReductionRate
	return &models.ValidationError{
		Code:           "PE_BENEFICIO_001",
		Field:          fmt.Sprintf("item[%d].impostos.icms_base", item.Number),
		Message:        fmt.Sprintf("Benefício fiscal disponível para NCM %s em PE: redução de %s%% na base de cálculo do ICMS. Regra: %q", item.NCM, reduction, rule.RuleName),
		Severity:       models.SeverityInfo,
		ActualValue:    "Verificar se foi aplicado",
		ExpectedValue:  fmt.Sprintf("Redução de BC em %s%%", reduction),
		LegalReference: rule.LegalReference,
		LegalArticle:   rule.LegalArticle,
		ItemNumber:     item.Number,
	}
}

// clampToCeiling caps a finding at the rule's declared ceiling, and at
// WARNING regardless: state findings never block.
func clampToCeiling(sev models.Severity, ceiling string) models.Severity {
	limit := models.SeverityWarning
	if ceiling == "INFO" {
		limit = models.SeverityInfo
	}
	if sev > limit {
		return limit
	}
	return sev
}
