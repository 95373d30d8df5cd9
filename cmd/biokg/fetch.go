package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/biokg/backend/internal/graph"
	"github.com/biokg/backend/internal/pubmed"
	appLogger "github.com/biokg/backend/pkg/logger"
)

var (
	fetchYearsBack   int
	fetchMaxArticles int
	fetchOutput      string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch recent PubMed abstracts into the ledger",
	Long: `Fetch searches PubMed for articles published in the last --years-back
years, downloads their abstracts and records them in the SQLite ledger so
that "biokg process" can pick them up. With --output the abstracts are also
written to a JSON file.`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().IntVar(&fetchYearsBack, "years-back", 1, "how many years back to search")
	fetchCmd.Flags().IntVar(&fetchMaxArticles, "max-articles", 0, "maximum number of articles (default pubmed.maxArticles)")
	fetchCmd.Flags().StringVarP(&fetchOutput, "output", "o", "", "also write abstracts to this JSON file")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	abstracts, err := fetchAbstracts(ctx, fetchYearsBack, fetchMaxArticles)
	if err != nil {
		return err
	}

	ledger, err := openLedger(cfg)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer ledger.Close()

	n, err := ledger.UpsertAbstracts(abstracts)
	if err != nil {
		return fmt.Errorf("failed to store abstracts: %w", err)
	}
	appLogger.Info("Abstracts stored", zap.Int("fetched", len(abstracts)), zap.Int("stored", n))

	if fetchOutput != "" {
		if err := writeAbstracts(fetchOutput, abstracts); err != nil {
			return err
		}
		appLogger.Info("Abstracts written", zap.String("path", fetchOutput))
	}
	return nil
}

func fetchAbstracts(ctx context.Context, yearsBack, maxArticles int) ([]graph.Abstract, error) {
	if yearsBack <= 0 {
		return nil, fmt.Errorf("years-back must be positive, got %d", yearsBack)
	}
	if maxArticles <= 0 {
		maxArticles = cfg.PubMed.MaxArticles
	}

	end := time.Now()
	start := end.AddDate(0, 0, -365*yearsBack)

	client := pubmed.NewClient(cfg.PubMed)
	abstracts, err := client.FetchRange(ctx, start, end, maxArticles)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch abstracts: %w", err)
	}
	return abstracts, nil
}

// readAbstracts returns nil, nil when the file is missing or empty.
func readAbstracts(path string) ([]graph.Abstract, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var abstracts []graph.Abstract
	if err := json.Unmarshal(data, &abstracts); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return abstracts, nil
}

func writeAbstracts(path string, abstracts []graph.Abstract) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	data, err := json.MarshalIndent(abstracts, "", "    ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
