// Package report turns a validated invoice into its two output views: a
// serializable report tree and a Markdown narrative projected from the tree.
package report

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fiscalops/nfe-auditor/internal/models"
)

// Summary is the severity and impact aggregate of one invoice's findings.
// Pure data: computing it never touches the rule layers.
type Summary struct {
	TotalErrors   int
	CriticalCount int
	ErrorCount    int
	WarningCount  int
	InfoCount     int

	TotalImpact decimal.Decimal

	// ByType counts findings per code namespace (NCM, PIS, TOTAL...).
	ByType map[string]int
	// ByItem counts findings per item number; invoice-level findings are not
	// included.
	ByItem map[int]int

	Recommendations []string
}

// Aggregate summarizes the invoice's findings. Recommendations come out in
// fixed rule order regardless of finding insertion order: criticals, impact
// threshold, classification review, contribution legislation.
func Aggregate(inv *models.Invoice, impactThreshold decimal.Decimal) Summary {
	s := Summary{
		TotalErrors: len(inv.ValidationErrors),
		ByType:      map[string]int{},
		ByItem:      map[int]int{},
		TotalImpact: decimal.Zero,
	}

	ncmWarnings := 0
	for _, e := range inv.ValidationErrors {
		switch e.Severity {
		case models.SeverityCritical:
			s.CriticalCount++
		case models.SeverityError:
			s.ErrorCount++
		case models.SeverityWarning:
			s.WarningCount++
		default:
			s.InfoCount++
		}
		s.TotalImpact = s.TotalImpact.Add(e.Impact())
		s.ByType[codeNamespace(e.Code)]++
		if e.ItemNumber > 0 {
			s.ByItem[e.ItemNumber]++
		}
		if e.Severity == models.SeverityWarning && codeNamespace(e.Code) == "NCM" {
			ncmWarnings++
		}
	}

	if s.CriticalCount > 0 {
		s.Recommendations = append(s.Recommendations,
			"Foram encontrados erros CRÍTICOS que podem resultar em autuação fiscal. Recomendamos ação imediata.")
	}
	if s.TotalImpact.GreaterThan(impactThreshold) {
		s.Recommendations = append(s.Recommendations,
			fmt.Sprintf("Impacto financeiro estimado: R$ %s. Considere solicitar retificação da nota fiscal.", FormatAmount(s.TotalImpact)))
	}
	// only description/keyword warnings question the classification itself;
	// format errors and catalog misses have their own remedies
	if ncmWarnings > 0 {
		s.Recommendations = append(s.Recommendations,
			"Encontrados erros de classificação NCM. Verifique a Tabela NCM/TIPI atualizada.")
	}
	if s.ByType["PIS"] > 0 || s.ByType["COFINS"] > 0 || s.ByType["PISCOFINS"] > 0 {
		s.Recommendations = append(s.Recommendations,
			"Encontrados erros em PIS/COFINS. Consulte a legislação federal (Lei 10.637/2002 e Lei 10.833/2003).")
	}

	return s
}

// codeNamespace maps "PIS_002" to "PIS".
func codeNamespace(code string) string {
	if i := strings.Index(code, "_"); i > 0 {
		return code[:i]
	}
	return code
}

// FormatAmount renders a decimal with thousands separators, two places:
// 1234567.8 → "1,234,567.80".
func FormatAmount(d decimal.Decimal) string {
	s := d.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart, fracPart, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String() + "." + fracPart
	if neg {
		out = "-" + out
	}
	return out
}
