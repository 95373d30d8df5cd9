package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/biokg/backend/internal/metrics"
	"github.com/biokg/backend/pkg/config"
	appLogger "github.com/biokg/backend/pkg/logger"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "biokg",
	Short: "Build a biomedical knowledge graph from PubMed abstracts",
	Long: `biokg fetches PubMed abstracts, extracts entities and relations with an
LLM, and merges them into a persisted knowledge graph.

Configuration is read from config.yaml (or --config), then BIOKG_* environment
variables. A .env file in the working directory is loaded first when present.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		appLogger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml)")
}

func setup(cmd *cobra.Command, args []string) error {
	envErr := godotenv.Load()

	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if envErr != nil {
		appLogger.Debug("No .env file loaded", zap.Error(envErr))
	}

	metrics.Init()
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
