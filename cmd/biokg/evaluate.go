package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/biokg/backend/internal/evaluation"
	"github.com/biokg/backend/internal/llm"
)

var evaluateDataset string

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score LLM extraction against an annotated dataset",
	Long: `Evaluate runs extraction over every abstract in --dataset and reports
entity and relation precision, recall and F1 against the expected
extractions. The graph is not modified.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(evaluateDataset)
		if err != nil {
			return fmt.Errorf("failed to read dataset: %w", err)
		}
		dataset, err := evaluation.LoadDatasetFromJSON(data)
		if err != nil {
			return err
		}

		audit, err := llm.NewAuditLog(cfg.LLM.AuditLogPath)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		defer audit.Close()

		report, err := evaluation.NewEvaluator(llm.NewClient(cfg.LLM, audit)).RunDatasetEvaluation(cmd.Context(), dataset)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), evaluation.GenerateReport(report))
		return nil
	},
}

func init() {
	evaluateCmd.Flags().StringVar(&evaluateDataset, "dataset", "", "JSON dataset of abstracts with expected extractions")
	_ = evaluateCmd.MarkFlagRequired("dataset")
	rootCmd.AddCommand(evaluateCmd)
}
