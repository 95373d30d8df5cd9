package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/biokg/backend/internal/graph"
	appLogger "github.com/biokg/backend/pkg/logger"
)

var (
	processData        string
	processYearsBack   int
	processMaxArticles int
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Merge abstracts into the knowledge graph",
	Long: `Process runs every abstract through extraction and merges the result into
the graph file. A failing abstract is logged and skipped.

Without --data, the ledger's pending abstracts (those without a successful
run) are processed. With --data, abstracts are read from a JSON file; when
the file is missing or empty, PubMed is searched first and the file written.`,
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVar(&processData, "data", "", "JSON file of abstracts")
	processCmd.Flags().IntVar(&processYearsBack, "years-back", 1, "years to search when --data must be fetched")
	processCmd.Flags().IntVar(&processMaxArticles, "max-articles", 0, "articles to fetch when --data must be fetched")
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	var abstracts []graph.Abstract
	if processData != "" {
		abstracts, err = readAbstracts(processData)
		if err != nil {
			return err
		}
		if len(abstracts) == 0 {
			appLogger.Info("Data file missing or empty, fetching from PubMed", zap.String("path", processData))
			abstracts, err = fetchAbstracts(ctx, processYearsBack, processMaxArticles)
			if err != nil {
				return err
			}
			if err := writeAbstracts(processData, abstracts); err != nil {
				return err
			}
		}
		if _, err := rt.ledger.UpsertAbstracts(abstracts); err != nil {
			appLogger.Warn("Failed to record abstracts in ledger", zap.Error(err))
		}
	} else {
		abstracts, err = rt.ledger.ListAbstracts(true)
		if err != nil {
			return fmt.Errorf("failed to list pending abstracts: %w", err)
		}
	}

	if len(abstracts) == 0 {
		appLogger.Info("Nothing to process")
		return nil
	}

	summary, err := rt.processor.Run(ctx, abstracts)
	appLogger.Info("Processing finished",
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("changes", summary.Changes),
		zap.Strings("failed_pmids", summary.FailedPMIDs),
		zap.Duration("duration", summary.Duration),
	)
	return err
}
