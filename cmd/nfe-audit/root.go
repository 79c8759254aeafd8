package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fiscalops/nfe-auditor/internal/config"
)

var (
	cfg    config.Config
	logger *zap.Logger

	rootCmd = &cobra.Command{
		Use:           "nfe-audit [command]",
		Short:         "Auditor fiscal de NF-e para o setor sucroalcooleiro",
		Long:          "Valida NF-e contra as regras federais de PIS/COFINS, NCM e CFOP\ne as particularidades estaduais de SP e PE, gerando relatórios de auditoria.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			cfg = config.Load()

			var err error
			logger, err = newLogger(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			return nil
		},
	}
)

func init() {
	rootCmd.AddCommand(newAuditCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newSeedCmd())
	rootCmd.AddCommand(newClassifyCmd())
}

func Execute() error {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Env == "development" {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
