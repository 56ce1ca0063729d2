package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete [document-id]",
	Short: "Delete every chunk of a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	return withService(cmd, func(ctx context.Context, svc Service) error {
		n, err := svc.Delete(ctx, args[0])
		if err != nil {
			return fmt.Errorf("delete failed: %w", err)
		}
		if n == 0 {
			cmd.Printf("No chunks found for document %s.\n", args[0])
			return nil
		}
		cmd.Printf("Deleted %d chunks of document %s.\n", n, args[0])
		return nil
	})
}
