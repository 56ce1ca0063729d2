package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/thfmn/ttm-rag/internal/evaluation"
)

var (
	evalK    int
	evalJSON bool
)

var evalCmd = &cobra.Command{
	Use:   "eval [dataset.yaml]",
	Short: "Evaluate retrieval quality against a labelled dataset",
	Long: `Runs every query in a YAML or JSON dataset of {query, relevant_document_ids}
and reports hit rate@k, MRR and the mean top score.`,
	Args: cobra.ExactArgs(1),
	RunE: runEval,
}

func init() {
	evalCmd.Flags().IntVar(&evalK, "k", 5, "cutoff for hit rate and MRR (a top_k in the dataset wins)")
	evalCmd.Flags().BoolVar(&evalJSON, "json", false, "output the full report as JSON")
	rootCmd.AddCommand(evalCmd)
}

func runEval(cmd *cobra.Command, args []string) error {
	dataset, err := evaluation.LoadDataset(args[0])
	if err != nil {
		return err
	}

	return withService(cmd, func(ctx context.Context, svc Service) error {
		evaluator := evaluation.NewEvaluator(svc, evalK)
		report, err := evaluator.RunDatasetEvaluation(ctx, dataset)
		if err != nil {
			return err
		}

		if evalJSON {
			return printJSON(cmd, report)
		}
		cmd.Print(evaluator.GenerateReport(report))
		return nil
	})
}
