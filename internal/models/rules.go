package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Rule store tables. Keys are fixed-width zero-padded strings and are matched
// bit-exact; storing them as integers would drop leading zeros.

// CFOP operation scopes.
const (
	ScopeInternal   = "INTERNO"
	ScopeInterstate = "INTERESTADUAL"
	ScopeExport     = "EXTERIOR"
)

// PIS/COFINS situation types.
const (
	SituationTaxed        = "TRIBUTADA"
	SituationZeroRate     = "ALIQUOTA_ZERO"
	SituationNonIncidence = "NAO_INCIDENCIA"
	SituationSuspended    = "SUSPENSAO"
	SituationExempt       = "ISENTA"
)

// State override types.
const (
	OverrideICMS            = "ICMS"
	OverrideBaseReduction   = "REDUCAO_BC"
	OverridePresumedCredit  = "CREDITO_PRESUMIDO"
	OverrideTaxSubstitution = "SUBSTITUICAO_TRIBUTARIA"
	OverrideExemption       = "ISENCAO"
)

// NCMRule carries the baseline treatment for one 8-digit classification code.
type NCMRule struct {
	ID              uint   `gorm:"primaryKey"`
	NCM             string `gorm:"size:8;not null;uniqueIndex"`
	Description     string `gorm:"not null"`
	Category        string
	PISCofinsRegime string
	// Keywords is a JSON array of lowercase terms expected in item descriptions.
	Keywords    string `gorm:"type:text"`
	ProductType string
	Sector      string
	ValidUntil  *time.Time
	Notes       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (NCMRule) TableName() string { return "ncm_rules" }

// KeywordList decodes the stored JSON keyword array. A malformed or empty
// column yields nil, which validators treat as "no keyword check".
func (r NCMRule) KeywordList() []string {
	if r.Keywords == "" {
		return nil
	}
	var kws []string
	if err := json.Unmarshal([]byte(r.Keywords), &kws); err != nil {
		return nil
	}
	return kws
}

// PISCofinsRule maps one 2-digit CST to its situation and standard rate pair.
type PISCofinsRule struct {
	ID            uint   `gorm:"primaryKey"`
	CST           string `gorm:"size:2;not null;uniqueIndex"`
	Description   string
	SituationType string `gorm:"not null"`

	PISRateStandard      decimal.Decimal `gorm:"type:decimal(7,4)"`
	COFINSRateStandard   decimal.Decimal `gorm:"type:decimal(7,4)"`
	PISRateCumulative    decimal.Decimal `gorm:"type:decimal(7,4)"`
	COFINSRateCumulative decimal.Decimal `gorm:"type:decimal(7,4)"`

	AllowsCredit   bool
	LegalReference string
	LegalArticle   string
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (PISCofinsRule) TableName() string { return "pis_cofins_rules" }

// IsTaxed reports whether the CST carries a positive standard rate.
func (r PISCofinsRule) IsTaxed() bool { return r.SituationType == SituationTaxed }

// CFOPRule describes one 4-digit operation code.
type CFOPRule struct {
	ID             uint   `gorm:"primaryKey"`
	CFOP           string `gorm:"size:4;not null;uniqueIndex"`
	Description    string
	OperationType  string // entrada / saida
	OperationScope string `gorm:"not null"` // INTERNO, INTERESTADUAL, EXTERIOR
	Nature         string // venda, compra, transferencia, devolucao...
	LegalReference string
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (CFOPRule) TableName() string { return "cfop_rules" }

// StateOverride is a jurisdiction-scoped rule overlaying federal treatment.
// Findings derived from these are advisory and capped below CRITICAL.
type StateOverride struct {
	ID           uint   `gorm:"primaryKey"`
	State        string `gorm:"size:2;not null;index:idx_state_ncm,priority:1"`
	OverrideType string `gorm:"not null"`
	// NCM scopes the override to one classification code; empty means
	// state-wide.
	NCM             string `gorm:"size:8;index:idx_state_ncm,priority:2"`
	CFOP            string `gorm:"size:4"`
	RuleName        string
	RuleDescription string

	ICMSRate          *decimal.Decimal `gorm:"type:decimal(7,4)"`
	ICMSReductionRate *decimal.Decimal `gorm:"type:decimal(7,4)"`
	IsST              bool
	STMVA             *decimal.Decimal `gorm:"type:decimal(7,4)"`

	LegalReference string
	LegalArticle   string
	DecreeNumber   string
	// SeverityCeiling names the strongest severity this rule may emit.
	SeverityCeiling string `gorm:"default:'WARNING'"`
	ValidUntil      *time.Time
	Notes           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (StateOverride) TableName() string { return "state_overrides" }

// LegalRef is a citable legal source referenced by findings.
type LegalRef struct {
	ID               uint   `gorm:"primaryKey"`
	Code             string `gorm:"not null;uniqueIndex"` // LEI_10637, IN_2121...
	RefType          string // LEI, DECRETO, INSTRUCAO_NORMATIVA...
	Number           string
	Year             int
	Title            string
	Summary          string
	IssuingBody      string
	Scope            string // FEDERAL, SP, PE...
	URL              string
	RelevantArticles string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (LegalRef) TableName() string { return "legal_refs" }
