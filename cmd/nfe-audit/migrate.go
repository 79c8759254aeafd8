package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fiscalops/nfe-auditor/internal/rulestore"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Aplica as migrações do banco de regras e sai",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := rulestore.ConnectAndMigrate(cfg.RulesDBPath)
			if err != nil {
				return err
			}
			stats, err := rulestore.New(db).Statistics()
			if err != nil {
				return err
			}
			fmt.Println("Migrações aplicadas.")
			for table, count := range stats {
				fmt.Printf("  %s: %d registros\n", table, count)
			}
			return nil
		},
	}
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Popula o banco de regras com a base fiscal padrão",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := rulestore.ConnectAndMigrate(cfg.RulesDBPath)
			if err != nil {
				return err
			}
			rulestore.Seed(db)
			fmt.Println("Base de regras populada.")
			return nil
		},
	}
}
