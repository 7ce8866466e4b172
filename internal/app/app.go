// Package app builds and holds the long-lived services of a recovery run,
// acting as a dependency injection container for the commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/thread-recovery/internal/archive"
	"github.com/JakeFAU/thread-recovery/internal/browser"
	"github.com/JakeFAU/thread-recovery/internal/checkpoint"
	"github.com/JakeFAU/thread-recovery/internal/clock/system"
	"github.com/JakeFAU/thread-recovery/internal/config"
	"github.com/JakeFAU/thread-recovery/internal/extract"
	"github.com/JakeFAU/thread-recovery/internal/inventory"
	"github.com/JakeFAU/thread-recovery/internal/journal"
	"github.com/JakeFAU/thread-recovery/internal/lease"
	"github.com/JakeFAU/thread-recovery/internal/metadata"
	"github.com/JakeFAU/thread-recovery/internal/partition"
	"github.com/JakeFAU/thread-recovery/internal/policy/pacing"
	"github.com/JakeFAU/thread-recovery/internal/policy/retry"
	"github.com/JakeFAU/thread-recovery/internal/publisher/pubsub"
	"github.com/JakeFAU/thread-recovery/internal/recovery"
	"github.com/JakeFAU/thread-recovery/internal/session"
	"github.com/JakeFAU/thread-recovery/internal/storage/gcs"
	"github.com/JakeFAU/thread-recovery/internal/storage/local"
	"github.com/JakeFAU/thread-recovery/internal/storage/postgres"
	"github.com/JakeFAU/thread-recovery/internal/worker"
)

// App holds the services shared by every worker of this process.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	inventory *inventory.Enumerator
	global    *checkpoint.Store
	launcher  recovery.Launcher
	metadata  recovery.MetadataLookup
	claimer   recovery.Claimer
	publisher recovery.Publisher
	ledger    recovery.RunLedger
	archiver  worker.Archiver

	closers []func() error
}

// Option customizes New.
type Option func(*App)

// WithLauncher replaces the Chrome launcher.
func WithLauncher(l recovery.Launcher) Option {
	return func(a *App) { a.launcher = l }
}

// WithCloser registers fn to run during Close, after the services New opens.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.onClose(fn) }
}

// New wires the shared services described by cfg. Optional backends are
// only dialed when configured. On error everything opened so far is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.cfg
	l := a.logger

	invCfg := inventory.Config{
		Dir:           cfg.Inventory.Dir,
		Recursive:     cfg.Inventory.Recursive,
		CanonicalUUID: cfg.Inventory.CanonicalUUID,
	}
	if cfg.Inventory.Pattern != "" {
		re, err := regexp.Compile(cfg.Inventory.Pattern)
		if err != nil {
			return fmt.Errorf("compile inventory pattern: %w", err)
		}
		invCfg.Pattern = re
	}
	inv, err := inventory.New(invCfg)
	if err != nil {
		return fmt.Errorf("init inventory: %w", err)
	}
	a.inventory = inv

	a.global, err = checkpoint.NewStore(cfg.CheckpointPath(), l.Named("checkpoint"))
	if err != nil {
		return fmt.Errorf("init global checkpoint: %w", err)
	}

	if a.launcher == nil {
		a.launcher = browser.NewLauncher(browser.Config{
			Headless:          cfg.Browser.Headless,
			UserAgent:         cfg.Browser.UserAgent,
			ExecPath:          cfg.Browser.ExecPath,
			NavigationTimeout: cfg.Browser.NavigationTimeout,
			Settle:            cfg.Browser.Settle,
		}, l.Named("browser"))
	}

	var db *postgres.Store
	if cfg.DB.DSN != "" {
		l.Info("connecting to postgres")
		db, err = postgres.New(ctx, postgres.Config{
			DSN:           cfg.DB.DSN,
			MetadataTable: cfg.DB.MetadataTable,
			RunsTable:     cfg.DB.RunsTable,
			MaxConns:      cfg.DB.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("init postgres: %w", err)
		}
		a.onClose(func() error { db.Close(); return nil })
		a.ledger = db
	}

	switch cfg.Metadata.Source {
	case config.MetadataHTTP:
		lookup, err := metadata.NewHTTPLookup(metadata.HTTPConfig{
			BaseURL: cfg.Metadata.URL,
			Token:   cfg.Metadata.Token,
			Timeout: cfg.Metadata.Timeout,
		}, nil)
		if err != nil {
			return fmt.Errorf("init metadata lookup: %w", err)
		}
		a.metadata = lookup
	case config.MetadataPostgres:
		if db == nil {
			return errors.New("metadata source postgres requires db.dsn")
		}
		a.metadata = db
	default:
		a.metadata = metadata.Nop{}
	}

	if cfg.Lease.Enabled {
		l.Info("using redis leases", zap.String("prefix", cfg.Lease.KeyPrefix))
		claimer, err := lease.NewRedisClaimer(ctx, lease.Config{
			URL:       cfg.Lease.RedisURL,
			Password:  cfg.Lease.Password,
			KeyPrefix: cfg.Lease.KeyPrefix,
			TTL:       cfg.Lease.TTL,
		})
		if err != nil {
			return fmt.Errorf("init lease store: %w", err)
		}
		a.onClose(claimer.Close)
		a.claimer = claimer
	}

	if cfg.PubSub.Topic != "" {
		l.Info("publishing notifications", zap.String("topic", cfg.PubSub.Topic))
		pub, err := pubsub.NewFromProject(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("init publisher: %w", err)
		}
		a.onClose(pub.Close)
		a.publisher = pub
	}

	switch {
	case cfg.Archive.GCSBucket != "":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Archive.GCSBucket, Prefix: cfg.Archive.Prefix})
		if err != nil {
			_ = client.Close()
			return fmt.Errorf("init gcs archive: %w", err)
		}
		a.onClose(store.Close)
		a.archiver = archive.New(store, l.Named("archive"))
	case cfg.Archive.Dir != "":
		store, err := local.New(local.Config{BaseDir: cfg.Archive.Dir})
		if err != nil {
			return fmt.Errorf("init local archive: %w", err)
		}
		a.archiver = archive.New(store, l.Named("archive"))
	}
	return nil
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Worker builds worker index of the configured fleet with its own browser
// session, journals and local checkpoint.
func (a *App) Worker(index int) (*worker.Worker, error) {
	cfg := a.cfg
	if err := partition.Validate(index, cfg.Worker.Total); err != nil {
		return nil, err
	}
	log := a.logger.With(zap.Int("worker", index))

	matcher := session.NewLoginMatcher(cfg.Target.LoginMarkers...)
	sess, err := session.NewManager(session.Config{
		Launcher: pacing.ThrottledLauncher{
			Launcher: a.launcher,
			Limiter:  pacing.NewLimiter(pacing.Config{RPS: cfg.Pacing.RPS, Burst: cfg.Pacing.Burst}),
		},
		Login: recovery.LoginForm{
			URL:              cfg.Target.LoginURL,
			Username:         cfg.Credentials.Username,
			Password:         cfg.Credentials.Password,
			UsernameSelector: cfg.Target.UsernameSelector,
			PasswordSelector: cfg.Target.PasswordSelector,
			SubmitSelector:   cfg.Target.SubmitSelector,
		},
		Matcher:           matcher,
		RotationThreshold: cfg.Session.RotationThreshold,
		Logger:            log.Named("session"),
	})
	if err != nil {
		return nil, fmt.Errorf("init session: %w", err)
	}

	heuristic := extract.HeuristicConfig{
		Delimiter:         cfg.Extract.Delimiter,
		MinChunkLength:    cfg.Extract.MinChunkLength,
		MaxMessages:       cfg.Extract.MaxMessages,
		FingerprintLength: cfg.Extract.FingerprintLength,
	}
	if cfg.Extract.SpeakerPattern != "" {
		re, err := regexp.Compile(cfg.Extract.SpeakerPattern)
		if err != nil {
			return nil, fmt.Errorf("compile speaker pattern: %w", err)
		}
		heuristic.Speaker = re
	}
	pipeline, err := extract.NewPipeline(cfg.Target.ThreadURL, matcher, extract.NewHeuristicExtractor(heuristic))
	if err != nil {
		return nil, fmt.Errorf("init extraction pipeline: %w", err)
	}

	localStore, err := checkpoint.NewStore(filepath.Join(cfg.Output.Dir, checkpoint.LocalFileName(index)), log.Named("checkpoint"))
	if err != nil {
		return nil, fmt.Errorf("init local checkpoint: %w", err)
	}
	results, err := journal.OpenResults(filepath.Join(cfg.Output.Dir, journal.ResultsFileName(index)))
	if err != nil {
		return nil, err
	}
	a.onClose(results.Close)
	failures, err := journal.OpenFailures(filepath.Join(cfg.Output.Dir, journal.FailuresFileName(index)))
	if err != nil {
		return nil, err
	}

	deps := worker.Deps{
		Inventory:        a.inventory,
		GlobalCheckpoint: a.global,
		LocalCheckpoint:  localStore,
		Session:          sess,
		Extractor:        pipeline,
		Policy: retry.Policy{
			MaxAttempts:      cfg.Retry.MaxAttempts,
			MaxLoginAttempts: cfg.Retry.MaxLoginAttempts,
			MaxCrashRetries:  cfg.Retry.MaxCrashRetries,
		},
		Pacer:     pacing.NewPacer(cfg.Pacing.Delay),
		Results:   results,
		Failures:  failures,
		Metadata:  a.metadata,
		Claimer:   a.claimer,
		Publisher: a.publisher,
		Ledger:    a.ledger,
		Archiver:  a.archiver,
		Clock:     system.New(),
		Logger:    a.logger,
	}
	return worker.New(worker.Config{
		Index:      index,
		Total:      cfg.Worker.Total,
		FlushEvery: cfg.Output.FlushEvery,
		Topic:      cfg.PubSub.Topic,
	}, deps)
}

// Fleet builds every worker of the configured fleet.
func (a *App) Fleet() ([]*worker.Worker, error) {
	out := make([]*worker.Worker, 0, a.cfg.Worker.Total)
	for i := 1; i <= a.cfg.Worker.Total; i++ {
		w, err := a.Worker(i)
		if err != nil {
			return nil, fmt.Errorf("build worker %d: %w", i, err)
		}
		out = append(out, w)
	}
	return out, nil
}

// Plan describes the remaining work without starting a browser.
type Plan struct {
	Universe        int   `json:"universe"`
	CompletedGlobal int   `json:"completedGlobal"`
	CompletedLocal  int   `json:"completedLocal"`
	Remaining       int   `json:"remaining"`
	PerWorker       []int `json:"perWorker"`
}

// Plan enumerates the universe and sizes each worker's partition against
// the global checkpoint and every worker checkpoint in the output directory.
func (a *App) Plan(ctx context.Context) (Plan, error) {
	all, err := a.inventory.Enumerate(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("enumerate work universe: %w", err)
	}
	global := a.global.Load()
	locals, err := a.locals()
	if err != nil {
		return Plan{}, err
	}
	more := make([]recovery.Completed, 0, len(locals))
	localCount := 0
	for _, l := range locals {
		more = append(more, l)
		localCount += l.Len()
	}
	remaining := checkpoint.Remaining(all, checkpoint.Merge(global, recovery.NewProgressRecord(nil, 0), more...))
	sizes, err := partition.Plan(len(remaining), a.cfg.Worker.Total)
	if err != nil {
		return Plan{}, err
	}
	return Plan{
		Universe:        len(all),
		CompletedGlobal: global.Len(),
		CompletedLocal:  localCount,
		Remaining:       len(remaining),
		PerWorker:       sizes,
	}, nil
}

// Consolidate folds every worker checkpoint into the global one and saves
// it. It must only run while no worker is active.
func (a *App) Consolidate() (int, error) {
	global := a.global.Load()
	locals, err := a.locals()
	if err != nil {
		return 0, err
	}
	added := checkpoint.Consolidate(global, locals...)
	if err := a.global.Save(global); err != nil {
		return 0, err
	}
	a.logger.Info("checkpoint consolidated",
		zap.String("path", a.global.Path()),
		zap.Int("workers", len(locals)),
		zap.Int("added", added),
		zap.Int("completed", global.Len()),
	)
	return added, nil
}

func (a *App) locals() ([]*recovery.ProgressRecord, error) {
	files, err := checkpoint.LocalFiles(a.cfg.Output.Dir)
	if err != nil {
		return nil, err
	}
	out := make([]*recovery.ProgressRecord, 0, len(files))
	for _, f := range files {
		store, err := checkpoint.NewStore(f, a.logger.Named("checkpoint"))
		if err != nil {
			return nil, err
		}
		out = append(out, store.Load())
	}
	return out, nil
}

// Close shuts down every service in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}
