package validators

import (
	"fmt"
	"strings"

	"github.com/fiscalops/nfe-auditor/internal/models"
	"github.com/fiscalops/nfe-auditor/internal/resolver"
)

// NCMValidator checks the item's classification code: format, catalog
// presence and description consistency.
type NCMValidator struct {
	res *resolver.Resolver
}

func NewNCMValidator(res *resolver.Resolver) *NCMValidator {
	return &NCMValidator{res: res}
}

// NormalizeNCM strips separators and right-pads short numeric codes to 8
// digits. Spreadsheet exports drop trailing zeros on chapter-level codes.
func NormalizeNCM(ncm string) (string, bool) {
	clean := strings.NewReplacer(".", "", "-", "", " ", "").Replace(ncm)
	if clean == "" {
		return "", false
	}
	for _, r := range clean {
		if r < '0' || r > '9' {
			return clean, false
		}
	}
	for len(clean) < 8 {
		clean += "0"
	}
	return clean, len(clean) == 8
}

func (v *NCMValidator) Validate(item *models.Item, inv *models.Invoice) []models.ValidationError {
	var errs []models.ValidationError

	ncm, ok := NormalizeNCM(item.NCM)
	if !ok {
		errs = append(errs, models.ValidationError{
			Code:           "NCM_001",
			Field:          "ncm",
			Message:        fmt.Sprintf("NCM inválido: %s. Deve ter 8 dígitos.", item.NCM),
			Severity:       models.SeverityError,
			ActualValue:    item.NCM,
			ExpectedValue:  "8 dígitos numéricos",
			LegalReference: v.res.Citation("IN_2121"),
			ItemNumber:     item.Number,
		})
		return errs
	}

	rule := v.res.NCM(ncm)
	if !rule.Found {
		errs = append(errs, models.ValidationError{
			Code:           "NCM_002",
			Field:          "ncm",
			Message:        fmt.Sprintf("NCM %s não cadastrado na base de regras", ncm),
			Severity:       models.SeverityInfo,
			ActualValue:    ncm,
			LegalReference: v.res.Citation("TIPI_17"),
			ItemNumber:     item.Number,
			Suggestion:     "Validar com a Tabela NCM completa ou adicionar regra em base_validacao.csv",
		})
		return errs
	}

	if err := v.checkDescription(item, rule); err != nil {
		errs = append(errs, *err)
	}
	return errs
}

// checkDescription looks for any rule keyword inside the item description.
// Rules without keywords (override records) skip the check.
func (v *NCMValidator) checkDescription(item *models.Item, rule resolver.NCMResolution) *models.ValidationError {
	if len(rule.Keywords) == 0 {
		return nil
	}
	desc := strings.ToLower(item.Description)
	for _, kw := range rule.Keywords {
		if strings.Contains(desc, strings.ToLower(kw)) {
			return nil
		}
	}
	return &models.ValidationError{
		Code:           "NCM_003",
		Field:          "descricao",
		Message:        fmt.Sprintf("Descrição %q pode não corresponder ao NCM %s (%s)", item.Description, rule.NCM, rule.Description),
		Severity:       models.SeverityWarning,
		ActualValue:    item.Description,
		ExpectedValue:  rule.Description,
		LegalReference: "Tabela NCM/TIPI - Posição " + rule.NCM[:4],
		ItemNumber:     item.Number,
		Suggestion:     fmt.Sprintf("Descrição esperada para NCM %s: %s", rule.NCM, rule.Description),
	}
}
