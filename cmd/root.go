// Package cmd implements the thread-recovery command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/thread-recovery/internal/app"
	"github.com/JakeFAU/thread-recovery/internal/config"
	"github.com/JakeFAU/thread-recovery/internal/logging"
)

type appKeyType string

const appKey appKeyType = "app"

// annotationLogin marks commands that drive an authenticated browser.
const annotationLogin = "requires-login"

type options struct {
	cfgFile     string
	workerIndex int
	workerTotal int
}

// newApp is the application factory; tests replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "thread-recovery",
		Short: "Recover message threads through an authenticated browser session.",
		Long: `thread-recovery walks a universe of thread identifiers, opens each thread in
an authenticated headless browser and journals the extracted messages. Runs are
resumable through checkpoints and can be split across cooperating workers.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return err
			}
			instance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, instance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.PersistentFlags().IntVar(&opts.workerIndex, "worker-index", 0, "1-based worker index (overrides RECOVERY_WORKER_INDEX)")
	cmd.PersistentFlags().IntVar(&opts.workerTotal, "worker-total", 0, "number of workers (overrides RECOVERY_WORKER_TOTAL)")

	cmd.AddCommand(newRecoverCmd(), newPlanCmd(), newCheckpointCmd())
	return cmd
}

// loadConfig reads the configuration and applies flag overrides.
func loadConfig(cmd *cobra.Command, opts *options) (config.Config, error) {
	cfg, err := config.Read(opts.cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("worker-index") {
		cfg.Worker.Index = opts.workerIndex
	}
	if flags.Changed("worker-total") {
		cfg.Worker.Total = opts.workerTotal
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	if cmd.Annotations[annotationLogin] == "true" {
		if err := cfg.ValidateLogin(); err != nil {
			return config.Config{}, fmt.Errorf("invalid config: %w", err)
		}
	}
	return cfg, nil
}

func resolveApp(ctx context.Context) (*app.App, error) {
	instance, ok := ctx.Value(appKey).(*app.App)
	if !ok || instance == nil {
		return nil, errors.New("application services not initialized")
	}
	return instance, nil
}

// withApp resolves the application services for fn and closes them when fn
// returns, whether or not it failed.
func withApp(fn func(cmd *cobra.Command, instance *app.App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		instance, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer instance.Close()
		return fn(cmd, instance)
	}
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
