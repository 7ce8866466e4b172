package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/thread-recovery/internal/app"
)

func newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Report remaining work and per-worker partition sizes",
		Long: `Enumerates the inventory and subtracts every checkpoint in the output
directory, then prints the remaining count and how many identifiers each worker
would receive. No browser is started.`,
		RunE: withApp(func(cmd *cobra.Command, instance *app.App) error {
			plan, err := instance.Plan(cmd.Context())
			if err != nil {
				return fmt.Errorf("plan: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(plan)
		}),
	}
}
