package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fiscalops/nfe-auditor/internal/batch"
	"github.com/fiscalops/nfe-auditor/internal/models"
	"github.com/fiscalops/nfe-auditor/internal/override"
	"github.com/fiscalops/nfe-auditor/internal/rulestore"
)

func newAuditCmd() *cobra.Command {
	var (
		input    string
		outDir   string
		workers  int
		classify bool
	)

	cmd := &cobra.Command{
		Use:   "audit --input <arquivo|diretório>",
		Short: "Valida um lote de NF-e e gera os relatórios",
		RunE: func(cmd *cobra.Command, args []string) error {
			// env-configured defaults apply unless the flag was given
			if !cmd.Flags().Changed("workers") {
				workers = cfg.BatchWorkers
			}
			if !cmd.Flags().Changed("out-dir") {
				outDir = cfg.OutputDir
			}

			invoices, err := batch.LoadInvoices(input)
			if err != nil {
				return err
			}
			logger.Info("batch loaded", zap.Int("invoices", len(invoices)), zap.String("input", input))

			db, err := rulestore.ConnectAndMigrate(cfg.RulesDBPath)
			if err != nil {
				return fmt.Errorf("open rule store: %w", err)
			}
			rulestore.Seed(db)

			overrides := override.New(cfg.OverrideCSV, logger)

			store := rulestore.New(db)

			runner := batch.NewRunner(store, overrides, logger)
			runner.ImpactThreshold = cfg.ImpactThreshold
			runner.Workers = workers
			runner.OutputDir = outDir

			if classify {
				suggester, err := newCatalogClassifier(cmd.Context(), store)
				if err != nil {
					return err
				}
				runner.Suggest = suggester
			}

			results, summary, err := runner.Run(cmd.Context(), invoices)
			if err != nil {
				return err
			}

			if outDir != "" {
				path, err := batch.WriteSummary(outDir, results, summary)
				if err != nil {
					return fmt.Errorf("write summary: %w", err)
				}
				fmt.Printf("Resumo do lote: %s\n", path)
			}

			fmt.Printf("Notas: %d | Válidas: %d | Inválidas: %d | Erros de sistema: %d\n",
				summary.Total,
				summary.ByStatus[models.StatusValid],
				summary.ByStatus[models.StatusInvalid],
				summary.ByStatus[models.StatusSystemError])
			fmt.Printf("Impacto financeiro total: R$ %s\n", summary.TotalImpact.StringFixed(2))

			if bad := summary.ByStatus[models.StatusInvalid] + summary.ByStatus[models.StatusSystemError]; bad > 0 {
				return fmt.Errorf("%d nota(s) com problemas", bad)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "arquivo JSON ou diretório com NF-e")
	cmd.Flags().StringVar(&outDir, "out-dir", "reports", "diretório de saída dos relatórios (vazio desativa)")
	cmd.Flags().IntVar(&workers, "workers", 1, "número de workers do lote")
	cmd.Flags().BoolVar(&classify, "classify", false, "sugere NCM via Gemini para itens com problema de classificação")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}
