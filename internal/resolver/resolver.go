// Package resolver layers the override sheet over the persisted rule store.
// Resolution is strict priority: an override hit is returned whole, with no
// per-field fallback to the store. A miss from both layers is a value, not an
// error.
package resolver

import (
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/fiscalops/nfe-auditor/internal/models"
	"github.com/fiscalops/nfe-auditor/internal/override"
	"github.com/fiscalops/nfe-auditor/internal/rulestore"
)

// Source names the layer that answered a lookup.
type Source string

const (
	SourceOverride Source = "override"
	SourceStore    Source = "store"
	SourceNone     Source = "none"
)

// Contribution selects which of the two federal contributions a tax lookup
// refers to.
type Contribution string

const (
	PIS    Contribution = "PIS"
	COFINS Contribution = "COFINS"
)

// NCMResolution is the answer to a classification-code lookup.
type NCMResolution struct {
	Found       bool
	Source      Source
	NCM         string
	Description string
	Keywords    []string
	Category    string
	LegalBasis  string
}

// TaxResolution is the answer to a situation-code lookup for one contribution.
// ExpectedRate is nil when the resolved rule carries no standard rate; an
// empty Situation means the rule left the treatment unspecified.
type TaxResolution struct {
	Found          bool
	Source         Source
	Situation      string
	ExpectedRate   *decimal.Decimal
	AllowsCredit   bool
	LegalReference string
	LegalArticle   string
}

// Taxed reports whether the situation carries a positive standard rate.
func (t TaxResolution) Taxed() bool { return t.Situation == models.SituationTaxed }

// ZeroRated reports whether the situation exempts the operation, as exports
// require.
func (t TaxResolution) ZeroRated() bool {
	return t.Situation == models.SituationZeroRate || t.Situation == models.SituationNonIncidence
}

// CFOPResolution is the answer to an operation-code lookup.
type CFOPResolution struct {
	Found          bool
	Source         Source
	Scope          string
	Nature         string
	Description    string
	LegalReference string
}

// StateResolution is the answer to a jurisdiction+NCM lookup. Overrides come
// from the store; Hint is set instead when the override sheet answered.
type StateResolution struct {
	Found     bool
	Source    Source
	Overrides []models.StateOverride
	Hint      *override.StateHint
}

// Resolver memoizes lookups for the duration of one validation run so every
// validator sees the same answer for the same key. Construct one per run.
type Resolver struct {
	overrides *override.Layer
	store     *rulestore.Store

	mu   sync.Mutex
	memo map[string]interface{}
}

func New(overrides *override.Layer, store *rulestore.Store) *Resolver {
	return &Resolver{overrides: overrides, store: store, memo: map[string]interface{}{}}
}

func (r *Resolver) cached(key string, compute func() interface{}) interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.memo[key]; ok {
		return v
	}
	v := compute()
	r.memo[key] = v
	return v
}

// NCM resolves a classification code.
func (r *Resolver) NCM(ncm string) NCMResolution {
	ncm = strings.TrimSpace(ncm)
	return r.cached("ncm:"+ncm, func() interface{} {
		if r.overrides != nil {
			if rec, ok := r.overrides.NCMRule(ncm); ok {
				return NCMResolution{
					Found:       true,
					Source:      SourceOverride,
					NCM:         ncm,
					Description: rec.Description,
					LegalBasis:  rec.LegalBasis,
				}
			}
		}
		rule, err := r.store.NCMRule(ncm)
		if err != nil {
			return NCMResolution{Source: SourceNone, NCM: ncm}
		}
		return NCMResolution{
			Found:       true,
			Source:      SourceStore,
			NCM:         ncm,
			Description: rule.Description,
			Keywords:    rule.KeywordList(),
			Category:    rule.Category,
			LegalBasis:  rule.Notes,
		}
	}).(NCMResolution)
}

// CSTKnown reports whether the situation code is cataloged at all.
func (r *Resolver) CSTKnown(cst string) bool {
	cst = strings.TrimSpace(cst)
	return r.cached("cstknown:"+cst, func() interface{} {
		ok, err := r.store.IsCSTValid(cst)
		return err == nil && ok
	}).(bool)
}

// Tax resolves the expected treatment of one contribution for an item. The
// override sheet answers when it has a record for the NCM whose outbound CST
// matches the declared one; otherwise the store answers by CST alone.
func (r *Resolver) Tax(kind Contribution, ncm, cst string) TaxResolution {
	ncm, cst = strings.TrimSpace(ncm), strings.TrimSpace(cst)
	return r.cached("tax:"+string(kind)+":"+ncm+":"+cst, func() interface{} {
		if r.overrides != nil {
			if rec, ok := r.overrides.NCMRule(ncm); ok {
				recCST, rate := rec.PISCSTOut, rec.PISRateOut
				if kind == COFINS {
					recCST, rate = rec.COFINSCSTOut, rec.COFINSRateOut
				}
				if recCST != "" && recCST == cst {
					// An empty rate cell pins the CST but says nothing about
					// the treatment: the situation stays unspecified and no
					// exemption is assumed.
					situation := ""
					switch {
					case rate == nil:
					case rate.IsPositive():
						situation = models.SituationTaxed
					default:
						situation = models.SituationZeroRate
					}
					return TaxResolution{
						Found:          true,
						Source:         SourceOverride,
						Situation:      situation,
						ExpectedRate:   rate,
						LegalReference: rec.LegalBasis,
					}
				}
			}
		}
		rule, err := r.store.PISCofinsRule(cst)
		if err != nil {
			return TaxResolution{Source: SourceNone}
		}
		res := TaxResolution{
			Found:          true,
			Source:         SourceStore,
			Situation:      rule.SituationType,
			AllowsCredit:   rule.AllowsCredit,
			LegalReference: rule.LegalReference,
			LegalArticle:   rule.LegalArticle,
		}
		rate := rule.PISRateStandard
		if kind == COFINS {
			rate = rule.COFINSRateStandard
		}
		if rule.IsTaxed() {
			res.ExpectedRate = &rate
		}
		return res
	}).(TaxResolution)
}

// CFOP resolves an operation code. An override-sheet hit carries only the
// digit-derived scope; richer fields come from the store.
func (r *Resolver) CFOP(cfop string) CFOPResolution {
	cfop = strings.TrimSpace(cfop)
	return r.cached("cfop:"+cfop, func() interface{} {
		if r.overrides != nil && r.overrides.CFOPListed(cfop) {
			return CFOPResolution{
				Found:       true,
				Source:      SourceOverride,
				Scope:       scopeFromDigit(cfop),
				Description: "CFOP " + cfop,
			}
		}
		rule, err := r.store.CFOPRule(cfop)
		if err != nil {
			return CFOPResolution{Source: SourceNone}
		}
		return CFOPResolution{
			Found:          true,
			Source:         SourceStore,
			Scope:          rule.OperationScope,
			Nature:         rule.Nature,
			Description:    rule.Description,
			LegalReference: rule.LegalReference,
		}
	}).(CFOPResolution)
}

func scopeFromDigit(cfop string) string {
	if cfop == "" {
		return ""
	}
	switch cfop[0] {
	case '1', '5':
		return models.ScopeInternal
	case '2', '6':
		return models.ScopeInterstate
	case '3', '7':
		return models.ScopeExport
	}
	return ""
}

// State resolves the jurisdiction overlay for one state and NCM.
func (r *Resolver) State(uf, ncm string) StateResolution {
	uf, ncm = strings.TrimSpace(uf), strings.TrimSpace(ncm)
	return r.cached("state:"+uf+":"+ncm, func() interface{} {
		if r.overrides != nil {
			if hint, ok := r.overrides.StateRule(uf, ncm); ok {
				return StateResolution{Found: true, Source: SourceOverride, Hint: hint}
			}
		}
		rules, err := r.store.StateRules(uf, ncm)
		if err != nil || len(rules) == 0 {
			return StateResolution{Source: SourceNone}
		}
		return StateResolution{Found: true, Source: SourceStore, Overrides: rules}
	}).(StateResolution)
}

// Citation proxies legal-reference formatting so validators need only the
// resolver.
func (r *Resolver) Citation(code string) string {
	return r.cached("cite:"+code, func() interface{} {
		return r.store.FormatCitation(code)
	}).(string)
}
