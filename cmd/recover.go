package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/thread-recovery/internal/api"
	"github.com/JakeFAU/thread-recovery/internal/app"
	"github.com/JakeFAU/thread-recovery/internal/dispatcher"
	"github.com/JakeFAU/thread-recovery/internal/recovery"
)

func newRecoverCmd() *cobra.Command {
	var allWorkers bool
	cmd := &cobra.Command{
		Use:         "recover",
		Annotations: map[string]string{annotationLogin: "true"},
		Short:       "Extract the remaining threads assigned to this worker",
		Long: `Enumerates the inventory, skips identifiers recorded in the global and
local checkpoints, takes this worker's round-robin share of the rest and
extracts each thread. With --all-workers every worker of the fleet runs in this
process, each with its own browser.`,
		RunE: withApp(func(cmd *cobra.Command, instance *app.App) error {
			return runRecover(cmd.Context(), instance, allWorkers)
		}),
	}
	cmd.Flags().BoolVar(&allWorkers, "all-workers", false, "run every worker of the fleet in this process")
	return cmd
}

func runRecover(ctx context.Context, instance *app.App, allWorkers bool) error {
	cfg := instance.Config()
	logger := instance.Logger()

	var runners []dispatcher.Runner
	if allWorkers {
		fleet, err := instance.Fleet()
		if err != nil {
			return err
		}
		for _, w := range fleet {
			runners = append(runners, w)
		}
	} else {
		w, err := instance.Worker(cfg.Worker.Index)
		if err != nil {
			return err
		}
		runners = append(runners, w)
	}
	fleet := dispatcher.New(runners, logger, dispatcher.WithConcurrency(cfg.Worker.Parallel))

	if cfg.Server.Addr != "" {
		srvCtx, stopServer := context.WithCancel(ctx)
		defer stopServer()
		srv := api.NewServer(fleet, logger.Named("api"))
		go func() {
			if err := srv.ListenAndServe(srvCtx, cfg.Server.Addr); err != nil {
				logger.Error("status server failed", zap.Error(err))
			}
		}()
	}

	summaries, err := fleet.Run(ctx)
	for _, s := range summaries {
		logSummary(logger, s)
	}
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	return nil
}

func logSummary(logger *zap.Logger, s recovery.RunSummary) {
	logger.Info("worker summary",
		zap.Int("worker", s.Worker),
		zap.Int("assigned", s.Assigned),
		zap.Int("processed", s.Processed()),
		zap.Int("succeeded", s.Counts[recovery.StatusSucceeded]),
		zap.Int("restricted", s.Counts[recovery.StatusRestricted]),
		zap.Int("failed", s.Counts[recovery.StatusFailed]),
		zap.Int("skipped", s.Counts[recovery.StatusSkipped]),
		zap.Int("rotations", s.Rotations),
	)
}
