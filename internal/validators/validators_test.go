package validators

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fiscalops/nfe-auditor/internal/models"
	"github.com/fiscalops/nfe-auditor/internal/override"
	"github.com/fiscalops/nfe-auditor/internal/resolver"
	"github.com/fiscalops/nfe-auditor/internal/rulestore"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func newTestStore(t *testing.T) *rulestore.Store {
	t.Helper()
	d, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, d.AutoMigrate(
		&models.NCMRule{}, &models.PISCofinsRule{}, &models.CFOPRule{},
		&models.StateOverride{}, &models.LegalRef{},
	))
	rulestore.Seed(d)
	return rulestore.New(d)
}

func newTestResolver(t *testing.T) *resolver.Resolver {
	t.Helper()
	return resolver.New(nil, newTestStore(t))
}

func newTestOverrides(t *testing.T, body string) *override.Layer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "base_validacao.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return override.New(path, zap.NewNop())
}

// conformantInvoice is an internal SP sale that passes every check.
func conformantInvoice() *models.Invoice {
	return &models.Invoice{
		AccessKey: "35200614200166000187550010000000046550000046",
		Number:    "4655",
		Series:    "1",
		IssuedAt:  time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC),
		Issuer:    models.Party{CNPJ: "14200166000187", LegalName: "Usina Santa Clara SA", UF: "SP"},
		Recipient: models.Party{CNPJ: "61365284000104", LegalName: "Distribuidora Paulista Ltda", UF: "SP"},
		Items: []models.Item{{
			Number:      1,
			ProductCode: "ACU-001",
			Description: "Açúcar cristal tipo 1 saco 50kg",
			NCM:         "17019900",
			CFOP:        "5101",
			Unit:        "SC",
			Quantity:    dec("10"),
			UnitPrice:   dec("80.00"),
			LineTotal:   dec("800.00"),
			PIS:         models.TaxFields{CST: "01", Base: dec("800.00"), Rate: dec("1.65"), Value: dec("13.20")},
			COFINS:      models.TaxFields{CST: "01", Base: dec("800.00"), Rate: dec("7.60"), Value: dec("60.80")},
		}},
		Totals: models.Totals{
			ProductsValue: dec("800.00"),
			PISValue:      dec("13.20"),
			COFINSValue:   dec("60.80"),
			InvoiceValue:  dec("800.00"),
		},
		OperationNature: "VENDA DE PRODUCAO DO ESTABELECIMENTO",
	}
}

func TestConformantInvoiceHasNoFindings(t *testing.T) {
	inv := conformantInvoice()
	NewPipeline(newTestResolver(t)).Run(inv)
	require.Empty(t, inv.ValidationErrors)
	require.Equal(t, models.StatusValid, inv.Status())
}

func TestDescriptionMismatchIsSingleWarning(t *testing.T) {
	inv := conformantInvoice()
	inv.Items[0].Description = "Parafuso sextavado de aço 10mm"
	NewPipeline(newTestResolver(t)).Run(inv)

	require.Len(t, inv.ValidationErrors, 1)
	finding := inv.ValidationErrors[0]
	require.Equal(t, "NCM_003", finding.Code)
	require.Equal(t, models.SeverityWarning, finding.Severity)
	require.Equal(t, "Outros açúcares de cana ou de beterraba e sacarose quimicamente pura, no estado sólido", finding.ExpectedValue)
	require.Equal(t, "Tabela NCM/TIPI - Posição 1701", finding.LegalReference)
}

func TestDescriptionMismatchCitesOwnPosition(t *testing.T) {
	inv := conformantInvoice()
	inv.Items[0].NCM = "17021100"
	inv.Items[0].Description = "Parafuso sextavado de aço 10mm"

	errs := NewNCMValidator(newTestResolver(t)).Validate(&inv.Items[0], inv)
	require.Len(t, errs, 1)
	require.Equal(t, "NCM_003", errs[0].Code)
	require.Equal(t, "Tabela NCM/TIPI - Posição 1702", errs[0].LegalReference)
}

func TestWrongRatesYieldTwoCriticalsWithImpact30(t *testing.T) {
	inv := conformantInvoice()
	inv.Items[0].PIS = models.TaxFields{CST: "01", Base: dec("800.00"), Rate: dec("3.00"), Value: dec("24.00")}
	inv.Items[0].COFINS = models.TaxFields{CST: "01", Base: dec("800.00"), Rate: dec("10.00"), Value: dec("80.00")}
	inv.Totals.PISValue = dec("24.00")
	inv.Totals.COFINSValue = dec("80.00")

	NewPipeline(newTestResolver(t)).Run(inv)

	require.Len(t, inv.ValidationErrors, 2)
	pis, cofins := inv.ValidationErrors[0], inv.ValidationErrors[1]

	require.Equal(t, "PIS_002", pis.Code)
	require.Equal(t, models.SeverityCritical, pis.Severity)
	require.Equal(t, "10.8", pis.Impact().String())

	require.Equal(t, "COFINS_002", cofins.Code)
	require.Equal(t, models.SeverityCritical, cofins.Severity)
	require.Equal(t, "19.2", cofins.Impact().String())

	require.Equal(t, "30", inv.TotalFinancialImpact().String())
	require.Equal(t, models.StatusInvalid, inv.Status())
}

func TestInterstateSaleWithInternalCFOP(t *testing.T) {
	inv := conformantInvoice()
	inv.Recipient.UF = "PE"

	NewPipeline(newTestResolver(t)).Run(inv)

	require.Len(t, inv.ValidationErrors, 1)
	finding := inv.ValidationErrors[0]
	require.Equal(t, "CFOP_003", finding.Code)
	require.Equal(t, models.SeverityCritical, finding.Severity)
	require.Equal(t, "6101 (interestadual)", finding.ExpectedValue)
}

func TestInterstateSaleWithInterstateCFOPIsClean(t *testing.T) {
	inv := conformantInvoice()
	inv.Recipient.UF = "PE"
	inv.Items[0].CFOP = "6101"

	NewPipeline(newTestResolver(t)).Run(inv)
	require.Empty(t, inv.ValidationErrors)
}

func TestLineTotalDivergenceIsSingleTotalsError(t *testing.T) {
	inv := conformantInvoice()
	inv.Items[0].Quantity = dec("100")
	inv.Items[0].UnitPrice = dec("2.50")
	inv.Items[0].LineTotal = dec("280.00")
	inv.Items[0].PIS = models.TaxFields{CST: "01", Base: dec("250.00"), Rate: dec("1.65"), Value: dec("4.13")}
	inv.Items[0].COFINS = models.TaxFields{CST: "01", Base: dec("250.00"), Rate: dec("7.60"), Value: dec("19.00")}
	inv.Totals = models.Totals{
		ProductsValue: dec("280.00"),
		PISValue:      dec("4.13"),
		COFINSValue:   dec("19.00"),
		InvoiceValue:  dec("280.00"),
	}

	NewPipeline(newTestResolver(t)).Run(inv)

	require.Len(t, inv.ValidationErrors, 1)
	finding := inv.ValidationErrors[0]
	require.Equal(t, "TOTAL_005", finding.Code)
	require.Equal(t, models.SeverityError, finding.Severity)
	require.Equal(t, "30", finding.Impact().String())
	require.Equal(t, models.StatusInvalid, inv.Status())
}

func TestNCMFormat(t *testing.T) {
	inv := conformantInvoice()
	inv.Items[0].NCM = "17AB"
	errs := NewNCMValidator(newTestResolver(t)).Validate(&inv.Items[0], inv)
	require.Len(t, errs, 1)
	require.Equal(t, "NCM_001", errs[0].Code)
	require.Equal(t, models.SeverityError, errs[0].Severity)
}

func TestNCMSeparatorsAndPaddingAccepted(t *testing.T) {
	inv := conformantInvoice()
	inv.Items[0].NCM = "1701.99.00"
	errs := NewNCMValidator(newTestResolver(t)).Validate(&inv.Items[0], inv)
	require.Empty(t, errs)
}

func TestUncatalogedNCMIsInfoPlusTaxGapWarnings(t *testing.T) {
	inv := conformantInvoice()
	inv.Items[0].NCM = "84879000"
	NewPipeline(newTestResolver(t)).Run(inv)

	var codes []string
	for _, e := range inv.ValidationErrors {
		codes = append(codes, e.Code)
	}
	require.Equal(t, []string{"NCM_002", "PIS_999", "COFINS_999"}, codes)
	require.Equal(t, models.SeverityInfo, inv.ValidationErrors[0].Severity)
	require.Equal(t, models.SeverityWarning, inv.ValidationErrors[1].Severity)
	require.Equal(t, models.StatusValid, inv.Status())
}

func TestOverrideRowClosesCatalogGapOnNextRun(t *testing.T) {
	store := newTestStore(t)

	inv := conformantInvoice()
	inv.Items[0].NCM = "84879000"
	NewPipeline(resolver.New(nil, store)).Run(inv)

	var codes []string
	for _, e := range inv.ValidationErrors {
		codes = append(codes, e.Code)
	}
	require.Equal(t, []string{"NCM_002", "PIS_999", "COFINS_999"}, codes)

	// the operator adds the missing row to the sheet; a fresh run with the
	// same store resolves from the override and the gap entries disappear
	sheet := `ncm,descricao,pis_cst_saida,pis_aliquota_saida,cofins_cst_saida,cofins_aliquota_saida,cfop_saida_permitidos,icms_sp_reducao_bc,icms_pe_credito_presumido,base_legal
84879000,Partes de máquinas,01,1.65,01,7.60,5101,,,IN RFB 2.121/2022
`
	second := conformantInvoice()
	second.Items[0].NCM = "84879000"
	NewPipeline(resolver.New(newTestOverrides(t, sheet), store)).Run(second)
	require.Empty(t, second.ValidationErrors)
}

func TestUnknownCSTIsCritical(t *testing.T) {
	inv := conformantInvoice()
	inv.Items[0].PIS.CST = "77"
	errs := NewPISCOFINSValidator(newTestResolver(t)).Validate(&inv.Items[0], inv)

	var codes []string
	for _, e := range errs {
		codes = append(codes, e.Code)
	}
	// unknown CST blocks the PIS branch, and it now diverges from COFINS
	require.Contains(t, codes, "PIS_001")
	require.Contains(t, codes, "PISCOFINS_001")
	require.Equal(t, models.SeverityCritical, errs[0].Severity)
}

func TestExportRequiresZeroRatedCST(t *testing.T) {
	inv := conformantInvoice()
	inv.CFOPNota = "7101"
	inv.Items[0].CFOP = "7101"
	inv.Recipient.UF = "EX"

	errs := NewPISCOFINSValidator(newTestResolver(t)).Validate(&inv.Items[0], inv)
	var codes []string
	for _, e := range errs {
		codes = append(codes, e.Code)
	}
	require.Contains(t, codes, "PIS_004")
	require.Contains(t, codes, "COFINS_004")
}

func TestExportWithEmptyRateOverrideStillCritical(t *testing.T) {
	// a sheet row pinning CST 01 without a rate says nothing about the
	// treatment, so the export exemption check must still fire
	sheet := `ncm,descricao,pis_cst_saida,pis_aliquota_saida,cofins_cst_saida,cofins_aliquota_saida,cfop_saida_permitidos,icms_sp_reducao_bc,icms_pe_credito_presumido,base_legal
17019900,Açúcar cristal tipo 1,01,,01,,7101,,,Regime especial da empresa
`
	res := resolver.New(newTestOverrides(t, sheet), newTestStore(t))

	inv := conformantInvoice()
	inv.CFOPNota = "7101"
	inv.Items[0].CFOP = "7101"
	inv.Recipient.UF = "EX"

	errs := NewPISCOFINSValidator(res).Validate(&inv.Items[0], inv)
	var codes []string
	for _, e := range errs {
		codes = append(codes, e.Code)
	}
	require.Contains(t, codes, "PIS_004")
	require.Contains(t, codes, "COFINS_004")
}

func TestExportWithZeroRatedCSTIsClean(t *testing.T) {
	inv := conformantInvoice()
	inv.CFOPNota = "7101"
	inv.Items[0].CFOP = "7101"
	inv.Recipient.UF = "EX"
	inv.Items[0].PIS = models.TaxFields{CST: "06", Base: dec("800.00"), Rate: dec("0"), Value: dec("0")}
	inv.Items[0].COFINS = models.TaxFields{CST: "06", Base: dec("800.00"), Rate: dec("0"), Value: dec("0")}
	inv.Totals.PISValue = dec("0")
	inv.Totals.COFINSValue = dec("0")

	errs := NewPISCOFINSValidator(newTestResolver(t)).Validate(&inv.Items[0], inv)
	require.Empty(t, errs)
}

func TestTaxValueRecomputation(t *testing.T) {
	inv := conformantInvoice()
	// rate is right, declared value is not
	inv.Items[0].PIS.Value = dec("20.00")
	errs := NewPISCOFINSValidator(newTestResolver(t)).Validate(&inv.Items[0], inv)

	require.Len(t, errs, 1)
	require.Equal(t, "PIS_003", errs[0].Code)
	require.Equal(t, models.SeverityError, errs[0].Severity)
	require.Equal(t, "6.8", errs[0].Impact().String())
	require.True(t, errs[0].CanAutoCorrect)
	require.Equal(t, "13.2", errs[0].CorrectedValue)
}

func TestCFOPFormat(t *testing.T) {
	inv := conformantInvoice()
	inv.Items[0].CFOP = "51"
	errs := NewCFOPValidator(newTestResolver(t)).Validate(&inv.Items[0], inv)
	require.Len(t, errs, 1)
	require.Equal(t, "CFOP_001", errs[0].Code)
	require.Equal(t, models.SeverityError, errs[0].Severity)
}

func TestUnknownCFOPStillGetsDigitCheck(t *testing.T) {
	inv := conformantInvoice()
	inv.Recipient.UF = "PE"
	inv.Items[0].CFOP = "5933"

	errs := NewCFOPValidator(newTestResolver(t)).Validate(&inv.Items[0], inv)
	var codes []string
	for _, e := range errs {
		codes = append(codes, e.Code)
	}
	require.Equal(t, []string{"CFOP_002", "CFOP_003"}, codes)
}

func TestCFOPNatureMismatch(t *testing.T) {
	inv := conformantInvoice()
	inv.Items[0].CFOP = "1101"
	inv.OperationNature = "VENDA DE PRODUCAO DO ESTABELECIMENTO"

	errs := NewCFOPValidator(newTestResolver(t)).Validate(&inv.Items[0], inv)
	var codes []string
	for _, e := range errs {
		codes = append(codes, e.Code)
	}
	require.Contains(t, codes, "CFOP_005")
}

func TestTotalsProductsDivergence(t *testing.T) {
	inv := conformantInvoice()
	inv.Totals.ProductsValue = dec("900.00")
	inv.Totals.InvoiceValue = dec("900.00")

	errs := NewTotalsValidator().Validate(inv)
	require.Len(t, errs, 1)
	require.Equal(t, "TOTAL_001", errs[0].Code)
	require.Equal(t, "100", errs[0].Impact().String())
}

func TestTotalsWithinToleranceIsClean(t *testing.T) {
	inv := conformantInvoice()
	inv.Totals.ProductsValue = dec("800.01")
	inv.Totals.InvoiceValue = dec("800.01")
	require.Empty(t, NewTotalsValidator().Validate(inv))
}

func TestTotalsTaxSums(t *testing.T) {
	inv := conformantInvoice()
	inv.Totals.PISValue = dec("10.00")
	inv.Totals.COFINSValue = dec("50.00")

	errs := NewTotalsValidator().Validate(inv)
	require.Len(t, errs, 2)
	require.Equal(t, "TOTAL_003", errs[0].Code)
	require.Equal(t, "TOTAL_004", errs[1].Code)
}

func TestSPICMSRateOverlayIsWarning(t *testing.T) {
	inv := conformantInvoice()
	inv.Items[0].ICMS = &models.ICMSFields{
		CST:   "00",
		Base:  decPtr("800.00"),
		Rate:  decPtr("12.00"),
		Value: decPtr("96.00"),
	}

	errs := NewSPValidator(newTestResolver(t)).Validate(&inv.Items[0], inv)
	require.Len(t, errs, 1)
	require.Equal(t, "SP_ICMS_001", errs[0].Code)
	require.Equal(t, models.SeverityWarning, errs[0].Severity)
	require.Equal(t, "18%", errs[0].ExpectedValue)
	// 96.00 declared vs 144.00 at 18%, reported as absolute delta
	require.Equal(t, "48", errs[0].Impact().String())
}

func TestStateImpactAddsToInvoiceTotal(t *testing.T) {
	inv := conformantInvoice()
	inv.Items[0].PIS.Rate = dec("3.00")
	inv.Items[0].PIS.Value = dec("24.00")
	inv.Totals.PISValue = dec("24.00")
	inv.Items[0].ICMS = &models.ICMSFields{
		CST:   "00",
		Base:  decPtr("800.00"),
		Rate:  decPtr("12.00"),
		Value: decPtr("96.00"),
	}

	NewPipeline(newTestResolver(t)).Run(inv)

	// 10.80 federal plus 48.00 state, never 10.80 minus 48.00
	require.True(t, inv.TotalFinancialImpact().Equal(dec("58.80")),
		"total impact was %s", inv.TotalFinancialImpact())
}

func TestStateChecksSkipWhenICMSAbsent(t *testing.T) {
	inv := conformantInvoice()
	require.Nil(t, inv.Items[0].ICMS)
	require.Empty(t, NewSPValidator(newTestResolver(t)).Validate(&inv.Items[0], inv))
}

func TestStateValidatorSkipsForeignStates(t *testing.T) {
	inv := conformantInvoice()
	inv.Issuer.UF = "MG"
	inv.Recipient.UF = "MG"
	inv.Items[0].ICMS = &models.ICMSFields{Rate: decPtr("12.00")}
	require.Empty(t, NewSPValidator(newTestResolver(t)).Validate(&inv.Items[0], inv))
	require.Empty(t, NewPEValidator(newTestResolver(t)).Validate(&inv.Items[0], inv))
}

func TestIdempotentValidation(t *testing.T) {
	res := newTestResolver(t)
	first := conformantInvoice()
	first.Items[0].PIS.Rate = dec("3.00")
	NewPipeline(res).Run(first)

	second := conformantInvoice()
	second.Items[0].PIS.Rate = dec("3.00")
	NewPipeline(res).Run(second)

	require.Equal(t, first.ValidationErrors, second.ValidationErrors)
}
