package rulestore

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/fiscalops/nfe-auditor/internal/models"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

// Seed inserts the baseline sugar-sector rule set. Idempotent: existing keys
// are left untouched so operator edits survive reseeding.
func Seed(db *gorm.DB) {
	seedNCMRules(db)
	seedPISCofinsRules(db)
	seedCFOPRules(db)
	seedStateOverrides(db)
	seedLegalRefs(db)
}

func seedNCMRules(db *gorm.DB) {
	rules := []models.NCMRule{
		{NCM: "17011100", Description: "Açúcar de cana, em bruto", Category: "ACUCAR_BRUTO",
			PISCofinsRegime: "STANDARD", Keywords: `["açúcar","cana","bruto","raw","sugar"]`,
			Sector: "sucroalcooleiro", ProductType: "bruto"},
		{NCM: "17011200", Description: "Açúcar de beterraba, em bruto", Category: "ACUCAR_BRUTO",
			PISCofinsRegime: "STANDARD", Keywords: `["açúcar","beterraba","bruto","sugar","beet"]`,
			Sector: "sucroalcooleiro", ProductType: "bruto"},
		{NCM: "17019100", Description: "Açúcar refinado, adicionado de aromatizante ou de corante", Category: "ACUCAR_REFINADO",
			PISCofinsRegime: "STANDARD", Keywords: `["açúcar","refinado","aromatizante","corante","refined"]`,
			Sector: "sucroalcooleiro", ProductType: "refinado"},
		{NCM: "17019900", Description: "Outros açúcares de cana ou de beterraba e sacarose quimicamente pura, no estado sólido", Category: "ACUCAR_OUTROS",
			PISCofinsRegime: "STANDARD", Keywords: `["açúcar","cristal","sacarose","sugar","crystal"]`,
			Sector: "sucroalcooleiro", ProductType: "cristal"},
		{NCM: "17021100", Description: "Lactose e xarope de lactose", Category: "OUTROS_ACUCARES",
			PISCofinsRegime: "STANDARD", Keywords: `["lactose","xarope"]`,
			Sector: "sucroalcooleiro", ProductType: "lactose"},
	}
	for _, r := range rules {
		var existing models.NCMRule
		if err := db.Where("ncm = ?", r.NCM).First(&existing).Error; err == gorm.ErrRecordNotFound {
			db.Create(&r)
		}
	}
}

func seedPISCofinsRules(db *gorm.DB) {
	rules := []models.PISCofinsRule{
		{CST: "01", Description: "Operação Tributável com Alíquota Básica", SituationType: models.SituationTaxed,
			PISRateStandard: dec("1.65"), COFINSRateStandard: dec("7.60"),
			PISRateCumulative: dec("0.65"), COFINSRateCumulative: dec("3.00"), AllowsCredit: true,
			LegalReference: "Lei 10.637/2002 e Lei 10.833/2003",
			LegalArticle:   "Art. 2º - Alíquotas de 1,65% (PIS) e 7,6% (COFINS)"},
		{CST: "04", Description: "Operação Tributável Monofásica - Revenda a Alíquota Zero", SituationType: "TRIBUTADA_MONOFASICA",
			LegalReference: "Lei 10.637/2002 e Lei 10.833/2003", LegalArticle: "Art. 3º - Tributação monofásica"},
		{CST: "06", Description: "Operação Tributável a Alíquota Zero", SituationType: models.SituationZeroRate,
			AllowsCredit:   true,
			LegalReference: "Lei 10.637/2002 e Lei 10.833/2003", LegalArticle: "Art. 5º - Alíquota zero para exportações"},
		{CST: "07", Description: "Operação Isenta da Contribuição", SituationType: models.SituationExempt,
			LegalReference: "Lei 10.637/2002 e Lei 10.833/2003", LegalArticle: "Art. 5º e 6º - Isenções específicas"},
		{CST: "08", Description: "Operação sem Incidência da Contribuição", SituationType: models.SituationNonIncidence,
			LegalReference: "Lei 10.637/2002 e Lei 10.833/2003", LegalArticle: "Art. 4º - Operações sem incidência"},
		{CST: "49", Description: "Outras Operações de Saída", SituationType: "OUTRAS",
			LegalReference: "Lei 10.637/2002 e Lei 10.833/2003"},
		{CST: "50", Description: "Operação com Direito a Crédito - Vinculada Exclusivamente a Receita Tributada", SituationType: models.SituationTaxed,
			PISRateStandard: dec("1.65"), COFINSRateStandard: dec("7.60"), AllowsCredit: true,
			LegalReference: "Lei 10.637/2002 e Lei 10.833/2003", LegalArticle: "Art. 3º - Créditos do regime não-cumulativo"},
	}
	for _, r := range rules {
		var existing models.PISCofinsRule
		if err := db.Where("cst = ?", r.CST).First(&existing).Error; err == gorm.ErrRecordNotFound {
			db.Create(&r)
		}
	}
}

func seedCFOPRules(db *gorm.DB) {
	const sinief = "Tabela CFOP - Ajuste SINIEF 07/05"
	rules := []models.CFOPRule{
		{CFOP: "5101", Description: "Venda de produção do estabelecimento", OperationType: "SAIDA",
			OperationScope: models.ScopeInternal, Nature: "VENDA", LegalReference: sinief},
		{CFOP: "5102", Description: "Venda de mercadoria adquirida ou recebida de terceiros", OperationType: "SAIDA",
			OperationScope: models.ScopeInternal, Nature: "VENDA", LegalReference: sinief},
		{CFOP: "6101", Description: "Venda de produção do estabelecimento", OperationType: "SAIDA",
			OperationScope: models.ScopeInterstate, Nature: "VENDA", LegalReference: sinief},
		{CFOP: "6102", Description: "Venda de mercadoria adquirida ou recebida de terceiros", OperationType: "SAIDA",
			OperationScope: models.ScopeInterstate, Nature: "VENDA", LegalReference: sinief},
		{CFOP: "7101", Description: "Venda de produção do estabelecimento", OperationType: "SAIDA",
			OperationScope: models.ScopeExport, Nature: "EXPORTACAO", LegalReference: sinief},
		{CFOP: "1101", Description: "Compra para industrialização ou produção rural", OperationType: "ENTRADA",
			OperationScope: models.ScopeInternal, Nature: "COMPRA", LegalReference: sinief},
		{CFOP: "2101", Description: "Compra para industrialização ou produção rural", OperationType: "ENTRADA",
			OperationScope: models.ScopeInterstate, Nature: "COMPRA", LegalReference: sinief},
	}
	for _, r := range rules {
		var existing models.CFOPRule
		if err := db.Where("cfop = ?", r.CFOP).First(&existing).Error; err == gorm.ErrRecordNotFound {
			db.Create(&r)
		}
	}
}

func seedStateOverrides(db *gorm.DB) {
	rules := []models.StateOverride{
		{State: "SP", OverrideType: models.OverrideICMS, NCM: "17019900",
			RuleName:        "ICMS Padrão Açúcar SP",
			RuleDescription: "Alíquota padrão de ICMS para açúcar em operações internas em SP",
			ICMSRate:        decPtr("18.00"),
			LegalReference:  "RICMS/SP Decreto 45.490/2000",
			LegalArticle:    "Art. 52 - Alíquota interna de 18%",
			DecreeNumber:    "Decreto 45.490/2000", SeverityCeiling: "WARNING"},
		{State: "SP", OverrideType: models.OverrideBaseReduction, CFOP: "5101",
			RuleName:          "Redução BC ICMS - Produtos Primários",
			RuleDescription:   "Alguns produtos primários podem ter redução de base de cálculo em SP",
			ICMSRate:          decPtr("18.00"),
			ICMSReductionRate: decPtr("0.00"),
			LegalReference:    "RICMS/SP Decreto 45.490/2000",
			LegalArticle:      "Art. 53 - Verificar convênios específicos",
			DecreeNumber:      "Decreto 45.490/2000", SeverityCeiling: "INFO"},
		{State: "PE", OverrideType: models.OverrideICMS, NCM: "17019900",
			RuleName:        "ICMS Padrão Açúcar PE",
			RuleDescription: "Alíquota padrão de ICMS para açúcar em operações internas em PE",
			ICMSRate:        decPtr("18.00"),
			LegalReference:  "RICMS/PE Decreto 14.876/1991",
			LegalArticle:    "Art. 18 - Alíquota interna de 18%",
			DecreeNumber:    "Decreto 14.876/1991", SeverityCeiling: "WARNING"},
	}
	for _, r := range rules {
		var existing models.StateOverride
		err := db.Where("state = ? AND override_type = ? AND ncm = ? AND cfop = ?",
			r.State, r.OverrideType, r.NCM, r.CFOP).First(&existing).Error
		if err == gorm.ErrRecordNotFound {
			db.Create(&r)
		}
	}
}

func seedLegalRefs(db *gorm.DB) {
	refs := []models.LegalRef{
		{Code: "LEI_10637", RefType: "LEI", Number: "10.637", Year: 2002,
			Title:       "Lei do PIS não-cumulativo",
			Summary:     "Dispõe sobre a não-cumulatividade na cobrança da contribuição para o PIS/PASEP",
			IssuingBody: "RECEITA_FEDERAL", Scope: "FEDERAL",
			URL: "http://www.planalto.gov.br/ccivil_03/leis/2002/l10637.htm"},
		{Code: "LEI_10833", RefType: "LEI", Number: "10.833", Year: 2003,
			Title:       "Lei da COFINS não-cumulativa",
			Summary:     "Institui a Contribuição para o Financiamento da Seguridade Social não-cumulativa",
			IssuingBody: "RECEITA_FEDERAL", Scope: "FEDERAL",
			URL: "http://www.planalto.gov.br/ccivil_03/leis/2003/l10.833.htm"},
		{Code: "IN_2121", RefType: "INSTRUCAO_NORMATIVA", Number: "2.121", Year: 2022,
			Title:       "Normas de apuração do PIS/PASEP e da COFINS",
			IssuingBody: "RECEITA_FEDERAL", Scope: "FEDERAL"},
		{Code: "SINIEF_0705", RefType: "AJUSTE_SINIEF", Number: "07", Year: 2005,
			Title:       "Tabela de Códigos Fiscais de Operações e Prestações",
			IssuingBody: "CONFAZ", Scope: "FEDERAL"},
		{Code: "TIPI_17", RefType: "DECRETO", Number: "11.158", Year: 2022,
			Title:       "TIPI - Capítulo 17 (Açúcares e produtos de confeitaria)",
			IssuingBody: "RECEITA_FEDERAL", Scope: "FEDERAL"},
	}
	for _, r := range refs {
		var existing models.LegalRef
		if err := db.Where("code = ?", r.Code).First(&existing).Error; err == gorm.ErrRecordNotFound {
			db.Create(&r)
		}
	}
}
