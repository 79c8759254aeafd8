package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fiscalops/nfe-auditor/internal/classifier"
	"github.com/fiscalops/nfe-auditor/internal/rulestore"
)

// newCatalogClassifier builds a Gemini classifier primed with the full NCM
// catalog from the rule store.
func newCatalogClassifier(ctx context.Context, store *rulestore.Store) (*classifier.Classifier, error) {
	rules, err := store.AllNCMRules()
	if err != nil {
		return nil, err
	}
	catalog := make([]classifier.CatalogEntry, 0, len(rules))
	for _, r := range rules {
		catalog = append(catalog, classifier.CatalogEntry{
			NCM:         r.NCM,
			Description: r.Description,
			Keywords:    r.KeywordList(),
		})
	}
	return classifier.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.ClassifierTimeout, catalog, logger)
}

func newClassifyCmd() *cobra.Command {
	var currentNCM string

	cmd := &cobra.Command{
		Use:   "classify <descrição do produto>",
		Short: "Sugere o NCM de um produto via Gemini (consultivo, fora da validação)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			description := strings.Join(args, " ")

			db, err := rulestore.ConnectAndMigrate(cfg.RulesDBPath)
			if err != nil {
				return fmt.Errorf("open rule store: %w", err)
			}
			store := rulestore.New(db)
			rulestore.Seed(db)

			c, err := newCatalogClassifier(cmd.Context(), store)
			if err != nil {
				return err
			}

			s, err := c.Classify(cmd.Context(), description, currentNCM)
			if err != nil {
				return err
			}

			fmt.Printf("NCM sugerido: %s (confiança %d%%)\n", s.SuggestedCode, s.Confidence)
			fmt.Printf("Justificativa: %s\n", s.Rationale)
			if currentNCM != "" {
				if s.IsConsistent {
					fmt.Printf("O NCM declarado %s é consistente com a sugestão.\n", currentNCM)
				} else {
					fmt.Printf("O NCM declarado %s DIVERGE da sugestão.\n", currentNCM)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&currentNCM, "ncm", "", "NCM declarado para comparação")
	return cmd
}
