package validators

import (
	"fmt"
	"strings"

	"github.com/fiscalops/nfe-auditor/internal/models"
	"github.com/fiscalops/nfe-auditor/internal/resolver"
)

// CFOPValidator checks the operation code: format, catalog presence,
// territoriality and nature compatibility.
type CFOPValidator struct {
	res *resolver.Resolver
}

func NewCFOPValidator(res *resolver.Resolver) *CFOPValidator {
	return &CFOPValidator{res: res}
}

func (v *CFOPValidator) Validate(item *models.Item, inv *models.Invoice) []models.ValidationError {
	var errs []models.ValidationError

	cfop, ok := digitsOnly(item.CFOP, 4)
	if !ok {
		errs = append(errs, models.ValidationError{
			Code:           "CFOP_001",
			Field:          "cfop",
			Message:        fmt.Sprintf("CFOP inválido: %s. Deve ter 4 dígitos.", item.CFOP),
			Severity:       models.SeverityError,
			ActualValue:    item.CFOP,
			ExpectedValue:  "4 dígitos numéricos",
			LegalReference: v.res.Citation("SINIEF_0705"),
			ItemNumber:     item.Number,
		})
		return errs
	}

	rule := v.res.CFOP(cfop)
	if !rule.Found {
		errs = append(errs, models.ValidationError{
			Code:           "CFOP_002",
			Field:          "cfop",
			Message:        fmt.Sprintf("CFOP %s não reconhecido na base de regras", cfop),
			Severity:       models.SeverityError,
			ActualValue:    cfop,
			LegalReference: v.res.Citation("SINIEF_0705"),
			ItemNumber:     item.Number,
			Suggestion:     "Verificar Tabela CFOP completa ou adicionar regra",
		})
		// Territorial digit check still runs without a rule.
	}

	errs = append(errs, v.checkTerritoriality(item, inv, cfop, rule)...)

	if rule.Found && rule.Nature != "" && inv.OperationNature != "" {
		if !strings.Contains(strings.ToUpper(inv.OperationNature), strings.ToUpper(rule.Nature)) {
			errs = append(errs, models.ValidationError{
				Code:           "CFOP_005",
				Field:          "cfop",
				Message:        fmt.Sprintf("Natureza da operação %q incompatível com CFOP %s (%s)", inv.OperationNature, cfop, rule.Nature),
				Severity:       models.SeverityError,
				ActualValue:    inv.OperationNature,
				ExpectedValue:  rule.Nature,
				LegalReference: rule.LegalReference,
				ItemNumber:     item.Number,
			})
		}
	}

	return errs
}

func (v *CFOPValidator) checkTerritoriality(item *models.Item, inv *models.Invoice, cfop string, rule resolver.CFOPResolution) []models.ValidationError {
	var errs []models.ValidationError
	interstate := inv.IsInterstate()

	legalRef := "Tabela CFOP"
	if rule.Found && rule.LegalReference != "" {
		legalRef = rule.LegalReference
	}

	interstateScope := rule.Scope == models.ScopeInterstate || rule.Scope == models.ScopeExport
	if !rule.Found {
		interstateScope = cfop[0] == '6' || cfop[0] == '7'
	}
	internalScope := rule.Scope == models.ScopeInternal
	if !rule.Found {
		internalScope = cfop[0] == '5'
	}

	switch {
	case interstate && !interstateScope:
		errs = append(errs, models.ValidationError{
			Code:           "CFOP_003",
			Field:          "cfop",
			Message:        fmt.Sprintf("Operação interestadual (%s→%s) com CFOP interno (%s)", inv.Issuer.UF, inv.Recipient.UF, cfop),
			Severity:       models.SeverityCritical,
			ActualValue:    cfop,
			ExpectedValue:  fmt.Sprintf("6%s (interestadual)", cfop[1:]),
			LegalReference: legalRef,
			ItemNumber:     item.Number,
			Suggestion:     fmt.Sprintf("Use CFOP 6%s para operação interestadual", cfop[1:]),
		})
	case !interstate && !internalScope:
		errs = append(errs, models.ValidationError{
			Code:           "CFOP_004",
			Field:          "cfop",
			Message:        fmt.Sprintf("Operação interna (%s) com CFOP interestadual (%s)", inv.Issuer.UF, cfop),
			Severity:       models.SeverityCritical,
			ActualValue:    cfop,
			ExpectedValue:  fmt.Sprintf("5%s (interno)", cfop[1:]),
			LegalReference: legalRef,
			ItemNumber:     item.Number,
			Suggestion:     fmt.Sprintf("Use CFOP 5%s para operação interna", cfop[1:]),
		})
	}
	return errs
}
