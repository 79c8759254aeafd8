// Package batch drives the audit over a set of invoices. One failed invoice
// never aborts the run: its panic becomes a SYSTEM_001 finding and the loop
// keeps going.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fiscalops/nfe-auditor/internal/classifier"
	"github.com/fiscalops/nfe-auditor/internal/models"
	"github.com/fiscalops/nfe-auditor/internal/override"
	"github.com/fiscalops/nfe-auditor/internal/report"
	"github.com/fiscalops/nfe-auditor/internal/resolver"
	"github.com/fiscalops/nfe-auditor/internal/rulestore"
	"github.com/fiscalops/nfe-auditor/internal/validators"
)

// Result is the per-invoice outcome of a run.
type Result struct {
	AccessKey string                  `json:"access_key"`
	Status    models.ValidationStatus `json:"status"`
	Findings  int                     `json:"findings"`
	Impact    decimal.Decimal         `json:"impact"`

	ReportJSON string `json:"report_json,omitempty"`
	ReportMD   string `json:"report_md,omitempty"`
}

// Summary totals a run.
type Summary struct {
	RunID       string                          `json:"run_id"`
	Total       int                             `json:"total"`
	ByStatus    map[models.ValidationStatus]int `json:"by_status"`
	TotalImpact decimal.Decimal                 `json:"total_impact"`
	Elapsed     time.Duration                   `json:"elapsed"`
}

// invoiceValidator is what a Run drives per invoice.
type invoiceValidator interface {
	Run(inv *models.Invoice)
}

// Suggester proposes an NCM for a product description. Answers decorate the
// report; they never join the findings list.
type Suggester interface {
	Classify(ctx context.Context, description, currentCode string) (*classifier.Suggestion, error)
}

// Runner validates invoices and writes their reports. Safe for a single Run
// at a time; each Run resolves rules with a fresh memo.
type Runner struct {
	store     *rulestore.Store
	overrides *override.Layer

	ImpactThreshold decimal.Decimal
	Workers         int
	// OutputDir receives per-invoice report files; empty disables writing.
	OutputDir string
	// Suggest, when set, annotates items carrying classification findings
	// with an advisory NCM suggestion.
	Suggest Suggester

	log *zap.Logger
}

func NewRunner(store *rulestore.Store, overrides *override.Layer, log *zap.Logger) *Runner {
	return &Runner{
		store:           store,
		overrides:       overrides,
		ImpactThreshold: decimal.NewFromInt(1000),
		Workers:         1,
		log:             log,
	}
}

// Run audits every invoice and returns per-invoice results in input order
// plus the run summary.
func (r *Runner) Run(ctx context.Context, invoices []*models.Invoice) ([]Result, Summary, error) {
	start := time.Now()
	runID := uuid.NewString()
	r.log.Info("batch started", zap.String("run_id", runID), zap.Int("invoices", len(invoices)))

	var pipeline invoiceValidator = validators.NewPipeline(resolver.New(r.overrides, r.store))

	results := make([]Result, len(invoices))

	workers := r.Workers
	if workers < 1 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, inv := range invoices {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = r.auditOne(ctx, pipeline, inv)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Summary{}, err
	}

	summary := Summary{
		RunID:    runID,
		ByStatus: map[models.ValidationStatus]int{},
		Elapsed:  time.Since(start),
	}
	for _, result := range results {
		summary.Total++
		summary.ByStatus[result.Status]++
		summary.TotalImpact = summary.TotalImpact.Add(result.Impact)
	}

	r.log.Info("batch finished",
		zap.String("run_id", runID),
		zap.Int("invoices", summary.Total),
		zap.Int("valid", summary.ByStatus[models.StatusValid]),
		zap.Int("invalid", summary.ByStatus[models.StatusInvalid]),
		zap.Int("system_errors", summary.ByStatus[models.StatusSystemError]),
		zap.String("total_impact", summary.TotalImpact.StringFixed(2)),
		zap.Duration("elapsed", summary.Elapsed))

	return results, summary, nil
}

func (r *Runner) auditOne(ctx context.Context, pipeline invoiceValidator, inv *models.Invoice) Result {
	r.validate(pipeline, inv)

	s := report.Aggregate(inv, r.ImpactThreshold)
	tree := report.BuildTree(inv, s, time.Now())
	if r.Suggest != nil {
		r.attachSuggestions(ctx, inv, tree)
	}

	result := Result{
		AccessKey: inv.AccessKey,
		Status:    inv.Status(),
		Findings:  len(inv.ValidationErrors),
		Impact:    s.TotalImpact,
	}

	if r.OutputDir != "" {
		jsonPath, mdPath, err := report.WriteFiles(r.OutputDir, tree)
		if err != nil {
			r.log.Error("write report", zap.String("access_key", inv.AccessKey), zap.Error(err))
		} else {
			result.ReportJSON = jsonPath
			result.ReportMD = mdPath
		}
	}

	r.log.Info("invoice audited",
		zap.String("access_key", inv.AccessKey),
		zap.String("status", string(result.Status)),
		zap.Int("findings", result.Findings),
		zap.String("impact", result.Impact.StringFixed(2)))

	return result
}

// attachSuggestions asks the suggester about every item that drew a
// classification finding and decorates the report tree with the answers. A
// failed call only logs: suggestions are advisory.
func (r *Runner) attachSuggestions(ctx context.Context, inv *models.Invoice, tree *report.Tree) {
	flagged := map[int]bool{}
	for _, e := range inv.ValidationErrors {
		if e.ItemNumber > 0 && (e.Code == "NCM_002" || e.Code == "NCM_003") {
			flagged[e.ItemNumber] = true
		}
	}

	for i := range inv.Items {
		item := &inv.Items[i]
		if !flagged[item.Number] {
			continue
		}
		s, err := r.Suggest.Classify(ctx, item.Description, item.NCM)
		if err != nil {
			r.log.Warn("ncm suggestion failed",
				zap.String("access_key", inv.AccessKey),
				zap.Int("item", item.Number),
				zap.Error(err))
			continue
		}
		tree.AttachSuggestion(item.Number, &report.ClassifierSuggestion{
			SuggestedCode: s.SuggestedCode,
			Confidence:    s.Confidence,
			Rationale:     s.Rationale,
			IsConsistent:  s.IsConsistent,
		})
	}
}

// validate isolates panics from validator code. A recovered panic leaves the
// invoice marked SYSTEM_ERROR with a synthetic finding; partial findings
// collected before the panic are kept.
func (r *Runner) validate(pipeline invoiceValidator, inv *models.Invoice) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("validation panicked",
				zap.String("access_key", inv.AccessKey),
				zap.Any("panic", rec))
			inv.AddValidationError(models.ValidationError{
				Code:     models.SystemErrorCode,
				Field:    "invoice",
				Message:  fmt.Sprintf("Falha interna ao validar a nota: %v", rec),
				Severity: models.SeverityCritical,
			})
		}
	}()
	pipeline.Run(inv)
}

// WriteSummary writes the run summary next to the per-invoice reports.
func WriteSummary(dir string, results []Result, summary Summary) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "batch_summary.json")
	payload := struct {
		Summary Summary  `json:"summary"`
		Results []Result `json:"results"`
	}{summary, results}
	return path, writeJSON(path, payload)
}
