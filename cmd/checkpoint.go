package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/thread-recovery/internal/app"
)

func newCheckpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect and maintain checkpoints",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "consolidate",
		Short: "Fold worker checkpoints into the global checkpoint",
		Long: `Merges every checkpoint-worker-N.json in the output directory into the
global checkpoint. Run it only while no worker is active.`,
		RunE: withApp(func(cmd *cobra.Command, instance *app.App) error {
			added, err := instance.Consolidate()
			if err != nil {
				return fmt.Errorf("consolidate: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "added %d identifiers\n", added)
			return err
		}),
	})
	return cmd
}
