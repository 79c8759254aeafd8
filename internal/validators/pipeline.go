package validators

import (
	"github.com/fiscalops/nfe-auditor/internal/models"
	"github.com/fiscalops/nfe-auditor/internal/resolver"
)

// Pipeline runs the validators in their fixed order and appends every finding
// to the invoice, preserving emission order. One pipeline serves one
// resolution run; construct it with the run's resolver.
type Pipeline struct {
	ncm    *NCMValidator
	tax    *PISCOFINSValidator
	cfop   *CFOPValidator
	totals *TotalsValidator
	states []*StateValidator
}

func NewPipeline(res *resolver.Resolver) *Pipeline {
	return &Pipeline{
		ncm:    NewNCMValidator(res),
		tax:    NewPISCOFINSValidator(res),
		cfop:   NewCFOPValidator(res),
		totals: NewTotalsValidator(),
		states: []*StateValidator{NewSPValidator(res), NewPEValidator(res)},
	}
}

// Run validates the invoice in place. Item checks first (NCM, PIS/COFINS,
// CFOP per item), then the totals cross-check, then the state overlays per
// item.
func (p *Pipeline) Run(inv *models.Invoice) {
	for i := range inv.Items {
		item := &inv.Items[i]
		for _, err := range p.ncm.Validate(item, inv) {
			inv.AddValidationError(err)
		}
		for _, err := range p.tax.Validate(item, inv) {
			inv.AddValidationError(err)
		}
		for _, err := range p.cfop.Validate(item, inv) {
			inv.AddValidationError(err)
		}
	}

	for _, err := range p.totals.Validate(inv) {
		inv.AddValidationError(err)
	}

	for _, sv := range p.states {
		for i := range inv.Items {
			for _, err := range sv.Validate(&inv.Items[i], inv) {
				inv.AddValidationError(err)
			}
		}
	}
}
