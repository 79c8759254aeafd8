package batch

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fiscalops/nfe-auditor/internal/classifier"
	"github.com/fiscalops/nfe-auditor/internal/models"
	"github.com/fiscalops/nfe-auditor/internal/report"
	"github.com/fiscalops/nfe-auditor/internal/rulestore"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	// shared cache: parallel workers must see the same in-memory database
	d, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, d.AutoMigrate(
		&models.NCMRule{}, &models.PISCofinsRule{}, &models.CFOPRule{},
		&models.StateOverride{}, &models.LegalRef{},
	))
	rulestore.Seed(d)
	return NewRunner(rulestore.New(d), nil, zap.NewNop())
}

func sampleInvoice(accessKey string) *models.Invoice {
	return &models.Invoice{
		AccessKey: accessKey,
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

func TestRunMixedBatch(t *testing.T) {
	r := newTestRunner(t)

	good := sampleInvoice("35200614200166000187550010000000046550000046")
	bad := sampleInvoice("35200614200166000187550010000000046550000047")
	bad.Items[0].PIS.Rate = dec("3.00")
	bad.Items[0].PIS.Value = dec("24.00")
	bad.Totals.PISValue = dec("24.00")

	results, summary, err := r.Run(context.Background(), []*models.Invoice{good, bad})
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.Equal(t, models.StatusValid, results[0].Status)
	require.Equal(t, 0, results[0].Findings)

	require.Equal(t, models.StatusInvalid, results[1].Status)
	require.True(t, results[1].Impact.Equal(dec("10.80")), "impact was %s", results[1].Impact)

	require.NotEmpty(t, summary.RunID)
	require.Equal(t, 2, summary.Total)
	require.Equal(t, 1, summary.ByStatus[models.StatusValid])
	require.Equal(t, 1, summary.ByStatus[models.StatusInvalid])
	require.True(t, summary.TotalImpact.Equal(dec("10.80")))
}

func TestRunParallelMatchesSequential(t *testing.T) {
	r := newTestRunner(t)
	r.Workers = 4

	var invoices []*models.Invoice
	for i := 0; i < 8; i++ {
		inv := sampleInvoice("3520061420016600018755001000000004655000010" + string(rune('0'+i)))
		if i%2 == 1 {
			inv.Items[0].COFINS.Rate = dec("10.00")
			inv.Items[0].COFINS.Value = dec("80.00")
			inv.Totals.COFINSValue = dec("80.00")
		}
		invoices = append(invoices, inv)
	}

	results, summary, err := r.Run(context.Background(), invoices)
	require.NoError(t, err)
	require.Len(t, results, 8)
	require.Equal(t, 4, summary.ByStatus[models.StatusValid])
	require.Equal(t, 4, summary.ByStatus[models.StatusInvalid])

	// order stays the input order regardless of worker count
	for i, result := range results {
		require.Equal(t, invoices[i].AccessKey, result.AccessKey)
	}
}

type panickyValidator struct{}

func (panickyValidator) Run(*models.Invoice) { panic("boom") }

func TestPanicBecomesSystemError(t *testing.T) {
	r := newTestRunner(t)
	inv := sampleInvoice("35200614200166000187550010000000046550000046")

	result := r.auditOne(context.Background(), panickyValidator{}, inv)

	require.Equal(t, models.StatusSystemError, result.Status)
	require.Equal(t, 1, result.Findings)
	require.Equal(t, models.SystemErrorCode, inv.ValidationErrors[0].Code)
	require.Equal(t, models.SeverityCritical, inv.ValidationErrors[0].Severity)
	require.Contains(t, inv.ValidationErrors[0].Message, "boom")
}

func TestRunWritesReports(t *testing.T) {
	r := newTestRunner(t)
	r.OutputDir = t.TempDir()

	inv := sampleInvoice("35200614200166000187550010000000046550000046")
	results, summary, err := r.Run(context.Background(), []*models.Invoice{inv})
	require.NoError(t, err)

	require.FileExists(t, results[0].ReportJSON)
	require.FileExists(t, results[0].ReportMD)

	md, err := os.ReadFile(results[0].ReportMD)
	require.NoError(t, err)
	require.Contains(t, string(md), "RELATÓRIO DE AUDITORIA FISCAL")

	path, err := WriteSummary(r.OutputDir, results, summary)
	require.NoError(t, err)
	require.FileExists(t, path)
}

type fixedSuggester struct {
	calls int
}

func (f *fixedSuggester) Classify(ctx context.Context, description, currentCode string) (*classifier.Suggestion, error) {
	f.calls++
	return &classifier.Suggestion{
		SuggestedCode: "17019900",
		Confidence:    92,
		Rationale:     "descrição compatível com açúcar cristal",
		IsConsistent:  currentCode == "17019900",
	}, nil
}

func TestSuggestionsLandOnFlaggedItems(t *testing.T) {
	r := newTestRunner(t)
	r.OutputDir = t.TempDir()
	suggester := &fixedSuggester{}
	r.Suggest = suggester

	inv := sampleInvoice("35200614200166000187550010000000046550000046")
	inv.Items[0].Description = "Parafuso sextavado de aço 10mm"

	results, _, err := r.Run(context.Background(), []*models.Invoice{inv})
	require.NoError(t, err)
	require.Equal(t, 1, suggester.calls)

	raw, err := os.ReadFile(results[0].ReportJSON)
	require.NoError(t, err)

	var tree report.Tree
	require.NoError(t, json.Unmarshal(raw, &tree))
	require.Len(t, tree.Items, 1)
	require.NotNil(t, tree.Items[0].Suggestion)
	require.Equal(t, "17019900", tree.Items[0].Suggestion.SuggestedCode)
	require.Equal(t, 92, tree.Items[0].Suggestion.Confidence)
	require.True(t, tree.Items[0].Suggestion.IsConsistent)
}

func TestSuggesterSkipsCleanItems(t *testing.T) {
	r := newTestRunner(t)
	suggester := &fixedSuggester{}
	r.Suggest = suggester

	inv := sampleInvoice("35200614200166000187550010000000046550000046")
	_, _, err := r.Run(context.Background(), []*models.Invoice{inv})
	require.NoError(t, err)
	require.Zero(t, suggester.calls)
}

func TestLoadInvoicesSingleAndArray(t *testing.T) {
	dir := t.TempDir()

	single := filepath.Join(dir, "one.json")
	require.NoError(t, writeJSON(single, sampleInvoice("35200614200166000187550010000000046550000046")))

	invs, err := LoadInvoices(single)
	require.NoError(t, err)
	require.Len(t, invs, 1)

	array := filepath.Join(dir, "many.json")
	require.NoError(t, writeJSON(array, []*models.Invoice{
		sampleInvoice("35200614200166000187550010000000046550000046"),
		sampleInvoice("35200614200166000187550010000000046550000047"),
	}))

	invs, err = LoadInvoices(array)
	require.NoError(t, err)
	require.Len(t, invs, 2)
}

func TestLoadInvoicesDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeJSON(filepath.Join(dir, "b.json"), sampleInvoice("35200614200166000187550010000000046550000047")))
	require.NoError(t, writeJSON(filepath.Join(dir, "a.json"), sampleInvoice("35200614200166000187550010000000046550000046")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o644))

	invs, err := LoadInvoices(dir)
	require.NoError(t, err)
	require.Len(t, invs, 2)
	// lexicographic file order
	require.Equal(t, "35200614200166000187550010000000046550000046", invs[0].AccessKey)
}

func TestLoadInvoicesMissingPath(t *testing.T) {
	_, err := LoadInvoices(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}
