package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fiscalops/nfe-auditor/internal/models"
)

// Version identifies the report format.
const Version = "2.0.0"

// Tree is the structured report for one invoice. Both serialized outputs
// derive from it: JSON directly, Markdown as a projection that reads nothing
// else.
type Tree struct {
	Metadata        Metadata                 `json:"metadata"`
	InvoiceInfo     InvoiceInfo              `json:"nfe_info"`
	Summary         ValidationSummary        `json:"validation_summary"`
	Errors          []models.ValidationError `json:"errors"`
	ErrorsByType    map[string]int           `json:"errors_by_type"`
	Items           []ItemAnalysis           `json:"items_analysis"`
	Recommendations []string                 `json:"recommendations"`
	LegalReferences []LegalReferenceDigest   `json:"legal_references"`
}

type Metadata struct {
	ReportVersion string    `json:"report_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Validator     string    `json:"validator"`
}

type PartyInfo struct {
	CNPJ      string `json:"cnpj"`
	LegalName string `json:"razao_social"`
	UF        string `json:"uf"`
}

type OperationInfo struct {
	CFOP     string `json:"cfop"`
	Nature   string `json:"natureza"`
	Type     string `json:"tipo"`
	OriginUF string `json:"uf_origem"`
	DestUF   string `json:"uf_destino"`
}

type TotalsInfo struct {
	ProductsValue decimal.Decimal `json:"valor_produtos"`
	PISValue      decimal.Decimal `json:"valor_pis"`
	COFINSValue   decimal.Decimal `json:"valor_cofins"`
	ICMSValue     decimal.Decimal `json:"valor_icms"`
	InvoiceValue  decimal.Decimal `json:"valor_total_nota"`
}

type InvoiceInfo struct {
	AccessKey string        `json:"chave_acesso"`
	Number    string        `json:"numero"`
	Series    string        `json:"serie"`
	IssuedAt  time.Time     `json:"data_emissao"`
	Issuer    PartyInfo     `json:"emitente"`
	Recipient PartyInfo     `json:"destinatario"`
	Totals    TotalsInfo    `json:"totais"`
	Operation OperationInfo `json:"operacao"`
}

type SeverityCounts struct {
	Critical int `json:"critical"`
	Error    int `json:"error"`
	Warning  int `json:"warning"`
	Info     int `json:"info"`
}

type FinancialImpact struct {
	Total    decimal.Decimal `json:"total"`
	Currency string          `json:"currency"`
}

type ValidationSummary struct {
	Status      models.ValidationStatus `json:"status"`
	TotalErrors int                     `json:"total_errors"`
	BySeverity  SeverityCounts          `json:"by_severity"`
	Impact      FinancialImpact         `json:"financial_impact"`
}

// ItemAnalysis carries everything the narrative needs per line, so the
// Markdown projection never reaches back to the invoice.
type ItemAnalysis struct {
	Number      int             `json:"numero_item"`
	ProductCode string          `json:"codigo_produto"`
	Description string          `json:"descricao"`
	NCM         string          `json:"ncm"`
	CFOP        string          `json:"cfop"`
	Quantity    decimal.Decimal `json:"quantidade"`
	Unit        string          `json:"unidade"`
	UnitPrice   decimal.Decimal `json:"valor_unitario"`
	LineTotal   decimal.Decimal `json:"valor_total"`

	PISCST      string          `json:"pis_cst"`
	PISRate     decimal.Decimal `json:"pis_aliquota"`
	PISValue    decimal.Decimal `json:"pis_valor"`
	COFINSCST   string          `json:"cofins_cst"`
	COFINSRate  decimal.Decimal `json:"cofins_aliquota"`
	COFINSValue decimal.Decimal `json:"cofins_valor"`

	ErrorCount int `json:"errors_count"`

	// Suggestion is the optional classifier output, kept apart from the
	// deterministic findings.
	Suggestion *ClassifierSuggestion `json:"classifier_suggestion,omitempty"`
}

// ClassifierSuggestion mirrors the external classifier's answer for one item.
type ClassifierSuggestion struct {
	SuggestedCode string `json:"suggested_code"`
	Confidence    int    `json:"confidence"`
	Rationale     string `json:"rationale"`
	IsConsistent  bool   `json:"is_consistent"`
}

type LegalReferenceDigest struct {
	Reference   string `json:"reference"`
	Article     string `json:"article,omitempty"`
	Occurrences int    `json:"occurrences"`
}

// BuildTree assembles the report tree from a validated invoice and its
// aggregate. Deterministic except for the generation timestamp.
func BuildTree(inv *models.Invoice, summary Summary, now time.Time) *Tree {
	opType := "INTERNA"
	if inv.IsInterstate() {
		opType = "INTERESTADUAL"
	}

	tree := &Tree{
		Metadata: Metadata{
			ReportVersion: Version,
			GeneratedAt:   now,
			Validator:     "NF-e Auditor - Setor Sucroalcooleiro",
		},
		InvoiceInfo: InvoiceInfo{
			AccessKey: inv.AccessKey,
			Number:    inv.Number,
			Series:    inv.Series,
			IssuedAt:  inv.IssuedAt,
			Issuer:    PartyInfo{CNPJ: inv.Issuer.CNPJ, LegalName: inv.Issuer.LegalName, UF: inv.Issuer.UF},
			Recipient: PartyInfo{CNPJ: inv.Recipient.CNPJ, LegalName: inv.Recipient.LegalName, UF: inv.Recipient.UF},
			Totals: TotalsInfo{
				ProductsValue: inv.Totals.ProductsValue,
				PISValue:      inv.Totals.PISValue,
				COFINSValue:   inv.Totals.COFINSValue,
				ICMSValue:     inv.Totals.ICMSValue,
				InvoiceValue:  inv.Totals.InvoiceValue,
			},
			Operation: OperationInfo{
				CFOP:     inv.CFOPNota,
				Nature:   inv.OperationNature,
				Type:     opType,
				OriginUF: inv.Issuer.UF,
				DestUF:   inv.Recipient.UF,
			},
		},
		Summary: ValidationSummary{
			Status:      inv.Status(),
			TotalErrors: summary.TotalErrors,
			BySeverity: SeverityCounts{
				Critical: summary.CriticalCount,
				Error:    summary.ErrorCount,
				Warning:  summary.WarningCount,
				Info:     summary.InfoCount,
			},
			Impact: FinancialImpact{Total: summary.TotalImpact, Currency: "BRL"},
		},
		Errors:          inv.ValidationErrors,
		ErrorsByType:    summary.ByType,
		Recommendations: summary.Recommendations,
		LegalReferences: legalDigest(inv.ValidationErrors),
	}

	for _, item := range inv.Items {
		tree.Items = append(tree.Items, ItemAnalysis{
			Number:      item.Number,
			ProductCode: item.ProductCode,
			Description: item.Description,
			NCM:         item.NCM,
			CFOP:        item.CFOP,
			Quantity:    item.Quantity,
			Unit:        item.Unit,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.LineTotal,
			PISCST:      item.PIS.CST,
			PISRate:     item.PIS.Rate,
			PISValue:    item.PIS.Value,
			COFINSCST:   item.COFINS.CST,
			COFINSRate:  item.COFINS.Rate,
			COFINSValue: item.COFINS.Value,
			ErrorCount:  summary.ByItem[item.Number],
		})
	}

	return tree
}

// AttachSuggestion records a classifier answer on the matching item analysis.
// Returns false when the item number is not in the tree.
func (t *Tree) AttachSuggestion(itemNumber int, s *ClassifierSuggestion) bool {
	for i := range t.Items {
		if t.Items[i].Number == itemNumber {
			t.Items[i].Suggestion = s
			return true
		}
	}
	return false
}

// legalDigest lists distinct legal references in first-appearance order with
// occurrence counts.
func legalDigest(errs []models.ValidationError) []LegalReferenceDigest {
	var out []LegalReferenceDigest
	index := map[string]int{}
	for _, e := range errs {
		if e.LegalReference == "" {
			continue
		}
		if i, ok := index[e.LegalReference]; ok {
			out[i].Occurrences++
			continue
		}
		index[e.LegalReference] = len(out)
		out = append(out, LegalReferenceDigest{
			Reference:   e.LegalReference,
			Article:     e.LegalArticle,
			Occurrences: 1,
		})
	}
	return out
}

var severityOrder = []models.Severity{
	models.SeverityCritical,
	models.SeverityError,
	models.SeverityWarning,
	models.SeverityInfo,
}

var severityHeadings = map[models.Severity][2]string{
	models.SeverityCritical: {"ERROS CRÍTICOS", "Requer ação IMEDIATA"},
	models.SeverityError:    {"ERROS", "Requer correção"},
	models.SeverityWarning:  {"AVISOS", "Verificação recomendada"},
	models.SeverityInfo:     {"INFORMAÇÕES", "Pontos de atenção"},
}

// RenderMarkdown projects the tree into the narrative document. Fixed section
// order: header, invoice info, summary, error detail grouped most severe
// first, items in source order, recommendations, totals.
func RenderMarkdown(t *Tree) string {
	var md []string
	add := func(lines ...string) { md = append(md, lines...) }

	add("# RELATÓRIO DE AUDITORIA FISCAL")
	add(fmt.Sprintf("**%s**  ", t.Metadata.Validator))
	add(fmt.Sprintf("*Versão: %s*  ", t.Metadata.ReportVersion))
	add(fmt.Sprintf("*Gerado em: %s*\n", t.Metadata.GeneratedAt.Format("02/01/2006 15:04:05")))
	add("---\n")

	add("## Informações da NF-e\n")
	add(fmt.Sprintf("**Chave de Acesso:** `%s`  ", t.InvoiceInfo.AccessKey))
	add(fmt.Sprintf("**Número:** %s | **Série:** %s  ", t.InvoiceInfo.Number, t.InvoiceInfo.Series))
	add(fmt.Sprintf("**Data de Emissão:** %s\n", t.InvoiceInfo.IssuedAt.Format("02/01/2006")))

	add("### Emitente")
	add(fmt.Sprintf("- **CNPJ:** %s", formatCNPJ(t.InvoiceInfo.Issuer.CNPJ)))
	add(fmt.Sprintf("- **Razão Social:** %s", t.InvoiceInfo.Issuer.LegalName))
	add(fmt.Sprintf("- **UF:** %s\n", t.InvoiceInfo.Issuer.UF))

	add("### Destinatário")
	add(fmt.Sprintf("- **CNPJ:** %s", formatCNPJ(t.InvoiceInfo.Recipient.CNPJ)))
	add(fmt.Sprintf("- **Razão Social:** %s", t.InvoiceInfo.Recipient.LegalName))
	add(fmt.Sprintf("- **UF:** %s\n", t.InvoiceInfo.Recipient.UF))

	add("### Operação")
	add(fmt.Sprintf("- **Tipo:** %s (%s → %s)", t.InvoiceInfo.Operation.Type, t.InvoiceInfo.Operation.OriginUF, t.InvoiceInfo.Operation.DestUF))
	add(fmt.Sprintf("- **CFOP:** %s", t.InvoiceInfo.Operation.CFOP))
	add(fmt.Sprintf("- **Natureza:** %s\n", t.InvoiceInfo.Operation.Nature))
	add("---\n")

	add("## RESUMO DA VALIDAÇÃO\n")
	add(fmt.Sprintf("### Status: %s\n", t.Summary.Status))
	add(fmt.Sprintf("**Total de Problemas Encontrados:** %d\n", t.Summary.TotalErrors))
	if t.Summary.TotalErrors > 0 {
		add("| Severidade | Quantidade |")
		add("|------------|------------|")
		add(fmt.Sprintf("| **CRÍTICO** | %d |", t.Summary.BySeverity.Critical))
		add(fmt.Sprintf("| **ERRO** | %d |", t.Summary.BySeverity.Error))
		add(fmt.Sprintf("| **AVISO** | %d |", t.Summary.BySeverity.Warning))
		add(fmt.Sprintf("| **INFO** | %d |", t.Summary.BySeverity.Info))
		add("")
	}
	if t.Summary.Impact.Total.IsPositive() {
		add("### IMPACTO FINANCEIRO\n")
		add(fmt.Sprintf("**Economia Potencial:** R$ %s\n", FormatAmount(t.Summary.Impact.Total)))
		add("*Valor total que pode ser economizado corrigindo os erros identificados.*\n")
	}
	add("---\n")

	if len(t.Errors) > 0 {
		add("## DETALHAMENTO DOS ERROS\n")
		for _, sev := range severityOrder {
			group := errorsOfSeverity(t.Errors, sev)
			if len(group) == 0 {
				continue
			}
			heading := severityHeadings[sev]
			add(fmt.Sprintf("### %s", heading[0]))
			add(fmt.Sprintf("*%s*\n", heading[1]))
			for i, e := range group {
				add(fmt.Sprintf("#### %d. %s\n", i+1, e.Message))
				add(fmt.Sprintf("**Código:** `%s`  ", e.Code))
				add(fmt.Sprintf("**Campo:** `%s`  ", e.Field))
				if e.ItemNumber > 0 {
					add(fmt.Sprintf("**Item:** #%d  ", e.ItemNumber))
				}
				if e.ActualValue != "" {
					add(fmt.Sprintf("**Valor Atual:** `%s`  ", e.ActualValue))
				}
				if e.ExpectedValue != "" {
					add(fmt.Sprintf("**Valor Esperado:** `%s`  ", e.ExpectedValue))
				}
				if e.FinancialImpact != nil && !e.FinancialImpact.IsZero() {
					add(fmt.Sprintf("**Impacto:** R$ %s  ", FormatAmount(*e.FinancialImpact)))
				}
				if e.LegalReference != "" {
					ref := fmt.Sprintf("\n**Base Legal:** %s", e.LegalReference)
					if e.LegalArticle != "" {
						ref += " - " + e.LegalArticle
					}
					add(ref)
				}
				if e.Suggestion != "" {
					add(fmt.Sprintf("\n**Sugestão:** %s", e.Suggestion))
				}
				if e.CanAutoCorrect && e.CorrectedValue != "" {
					add(fmt.Sprintf("\n**Correção Automática Disponível:** `%s`", e.CorrectedValue))
				}
				add("\n")
			}
		}
		add("---\n")
	}

	add("## ANÁLISE POR ITEM\n")
	for _, item := range t.Items {
		add(fmt.Sprintf("### Item %d: %s\n", item.Number, item.Description))
		add(fmt.Sprintf("- **Código:** %s", item.ProductCode))
		add(fmt.Sprintf("- **NCM:** %s", formatNCM(item.NCM)))
		add(fmt.Sprintf("- **CFOP:** %s", item.CFOP))
		add(fmt.Sprintf("- **Quantidade:** %s %s", item.Quantity, item.Unit))
		add(fmt.Sprintf("- **Valor Unitário:** R$ %s", FormatAmount(item.UnitPrice)))
		add(fmt.Sprintf("- **Valor Total:** R$ %s\n", FormatAmount(item.LineTotal)))
		add("**Tributação:**")
		add(fmt.Sprintf("- PIS: CST %s | %s%% | R$ %s", item.PISCST, item.PISRate, FormatAmount(item.PISValue)))
		add(fmt.Sprintf("- COFINS: CST %s | %s%% | R$ %s", item.COFINSCST, item.COFINSRate, FormatAmount(item.COFINSValue)))
		if item.Suggestion != nil {
			add(fmt.Sprintf("\n**Sugestão de Classificação (IA):** NCM `%s` (confiança %d%%) - %s",
				item.Suggestion.SuggestedCode, item.Suggestion.Confidence, item.Suggestion.Rationale))
		}
		if item.ErrorCount > 0 {
			add(fmt.Sprintf("\n**%d problema(s) encontrado(s) neste item**", item.ErrorCount))
		}
		add("")
	}
	add("---\n")

	if len(t.Recommendations) > 0 {
		add("## RECOMENDAÇÕES\n")
		for i, rec := range t.Recommendations {
			add(fmt.Sprintf("%d. %s", i+1, rec))
		}
		add("")
		add("---\n")
	}

	add("## TOTAIS DA NF-e\n")
	add("| Descrição | Valor |")
	add("|-----------|------:|")
	add(fmt.Sprintf("| Valor dos Produtos | R$ %s |", FormatAmount(t.InvoiceInfo.Totals.ProductsValue)))
	add(fmt.Sprintf("| PIS | R$ %s |", FormatAmount(t.InvoiceInfo.Totals.PISValue)))
	add(fmt.Sprintf("| COFINS | R$ %s |", FormatAmount(t.InvoiceInfo.Totals.COFINSValue)))
	add(fmt.Sprintf("| ICMS | R$ %s |", FormatAmount(t.InvoiceInfo.Totals.ICMSValue)))
	add(fmt.Sprintf("| **Valor Total da Nota** | **R$ %s** |", FormatAmount(t.InvoiceInfo.Totals.InvoiceValue)))
	add("")

	return strings.Join(md, "\n")
}

func errorsOfSeverity(errs []models.ValidationError, sev models.Severity) []models.ValidationError {
	var out []models.ValidationError
	for _, e := range errs {
		if e.Severity == sev {
			out = append(out, e)
		}
	}
	return out
}

func formatCNPJ(cnpj string) string {
	if len(cnpj) != 14 {
		return cnpj
	}
	return fmt.Sprintf("%s.%s.%s/%s-%s", cnpj[:2], cnpj[2:5], cnpj[5:8], cnpj[8:12], cnpj[12:])
}

func formatNCM(ncm string) string {
	if len(ncm) != 8 {
		return ncm
	}
	return fmt.Sprintf("%s.%s.%s", ncm[:4], ncm[4:6], ncm[6:])
}
