package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var modelsJSON bool

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the generation models in the catalog",
	Args:  cobra.NoArgs,
	RunE:  runModels,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store counts and the effective pipeline configuration",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	modelsCmd.Flags().BoolVar(&modelsJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(statsCmd)
}

func runModels(cmd *cobra.Command, _ []string) error {
	return withService(cmd, func(_ context.Context, svc Service) error {
		list := svc.Models()
		if modelsJSON {
			return printJSON(cmd, map[string]any{"models": list})
		}

		for _, m := range list {
			marker := " "
			if m.Default {
				marker = "*"
			}
			cmd.Printf("%s %-20s %-8s %s\n", marker, m.ID, m.Provider, m.Name)
		}
		return nil
	})
}

func runStats(cmd *cobra.Command, _ []string) error {
	return withService(cmd, func(ctx context.Context, svc Service) error {
		stats, err := svc.Stats(ctx)
		if err != nil {
			return fmt.Errorf("stats failed: %w", err)
		}
		return printJSON(cmd, stats)
	})
}
