// Package worker implements one worker's recovery loop: enumerate, filter by
// checkpoint, take this worker's partition and extract each thread.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/thread-recovery/internal/checkpoint"
	"github.com/JakeFAU/thread-recovery/internal/id/uuid"
	"github.com/JakeFAU/thread-recovery/internal/metrics"
	"github.com/JakeFAU/thread-recovery/internal/partition"
	"github.com/JakeFAU/thread-recovery/internal/policy/retry"
	"github.com/JakeFAU/thread-recovery/internal/recovery"
)

// DefaultFlushEvery is the number of completed items between checkpoint saves.
const DefaultFlushEvery = 10

var (
	// ErrSessionUnavailable means neither re-authentication nor rotation could
	// restore a usable browser session.
	ErrSessionUnavailable = errors.New("session unavailable")
	// ErrSessionStart means the initial browser session could not be created.
	ErrSessionStart = errors.New("initial session failed")
)

// Inventory lists every identifier in the work universe.
type Inventory interface {
	Enumerate(ctx context.Context) ([]string, error)
}

// CheckpointStore loads and saves a progress record.
type CheckpointStore interface {
	Load() *recovery.ProgressRecord
	Save(record *recovery.ProgressRecord) error
	Path() string
}

// Session is the browser session owned by the worker.
type Session interface {
	Start(ctx context.Context) error
	Authenticate(ctx context.Context) error
	MarkExpired()
	Rotate(ctx context.Context, reason string) error
	Processed()
	DueForRotation() bool
	Browser() recovery.Browser
	Close() error
}

// Extractor runs one extraction attempt.
type Extractor interface {
	Extract(ctx context.Context, browser recovery.Browser, id string) recovery.Outcome
}

// Pacer waits between items.
type Pacer interface {
	Pause(ctx context.Context)
}

// ResultSink journals successful and restricted items.
type ResultSink interface {
	Append(result recovery.ExtractionResult) error
	Path() string
}

// FailureSink journals permanent failures.
type FailureSink interface {
	Append(record recovery.FailureRecord) error
	Path() string
}

// Archiver copies run artifacts elsewhere at shutdown.
type Archiver interface {
	Archive(ctx context.Context, worker int, runID string, files ...string) ([]string, error)
}

// Config controls one worker.
type Config struct {
	Index      int
	Total      int
	FlushEvery int
	// Topic receives per-item and per-run notifications when a Publisher is set.
	Topic string
	RunID string
}

// Deps are the collaborators of a Worker. Inventory, GlobalCheckpoint,
// LocalCheckpoint, Session, Extractor, Results and Failures are required.
type Deps struct {
	Inventory        Inventory
	GlobalCheckpoint CheckpointStore
	LocalCheckpoint  CheckpointStore
	Session          Session
	Extractor        Extractor
	Policy           retry.Policy
	Pacer            Pacer
	Results          ResultSink
	Failures         FailureSink
	Metadata         recovery.MetadataLookup
	Claimer          recovery.Claimer
	Publisher        recovery.Publisher
	Ledger           recovery.RunLedger
	Archiver         Archiver
	Clock            recovery.Clock
	Logger           *zap.Logger
}

// Worker processes its partition of the remaining identifiers.
type Worker struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	mu      sync.Mutex
	summary recovery.RunSummary

	local      *recovery.ProgressRecord
	sinceFlush int
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// New validates cfg and deps.
func New(cfg Config, deps Deps) (*Worker, error) {
	if err := partition.Validate(cfg.Index, cfg.Total); err != nil {
		return nil, err
	}
	switch {
	case deps.Inventory == nil:
		return nil, errors.New("worker: inventory is required")
	case deps.GlobalCheckpoint == nil || deps.LocalCheckpoint == nil:
		return nil, errors.New("worker: checkpoint stores are required")
	case deps.Session == nil:
		return nil, errors.New("worker: session is required")
	case deps.Extractor == nil:
		return nil, errors.New("worker: extractor is required")
	case deps.Results == nil || deps.Failures == nil:
		return nil, errors.New("worker: journals are required")
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = DefaultFlushEvery
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.MustRunID()
	}
	if deps.Policy == (retry.Policy{}) {
		deps.Policy = retry.NewPolicy()
	}
	if deps.Clock == nil {
		deps.Clock = systemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	metrics.Init()
	return &Worker{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.Named("worker").With(zap.Int("index", cfg.Index)),
		summary: recovery.RunSummary{
			RunID:        cfg.RunID,
			Worker:       cfg.Index,
			TotalWorkers: cfg.Total,
			Counts:       map[recovery.Status]int{},
		},
	}, nil
}

// Snapshot returns a copy of the live run summary.
func (w *Worker) Snapshot() recovery.RunSummary {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.summary
	out.Counts = make(map[recovery.Status]int, len(w.summary.Counts))
	for k, v := range w.summary.Counts {
		out.Counts[k] = v
	}
	return out
}

func (w *Worker) update(fn func(s *recovery.RunSummary)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(&w.summary)
}

// Assignment computes this worker's identifiers from the inventory and the
// global and local checkpoints.
func (w *Worker) Assignment(ctx context.Context) ([]string, *recovery.ProgressRecord, error) {
	all, err := w.deps.Inventory.Enumerate(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("enumerate work universe: %w", err)
	}
	global := w.deps.GlobalCheckpoint.Load()
	local := w.deps.LocalCheckpoint.Load()
	remaining := checkpoint.Remaining(all, checkpoint.Merge(global, local))
	assigned, err := partition.Assign(remaining, w.cfg.Index, w.cfg.Total)
	if err != nil {
		return nil, nil, err
	}
	w.logger.Info("work assigned",
		zap.Int("universe", len(all)),
		zap.Int("completed_global", global.Len()),
		zap.Int("completed_local", local.Len()),
		zap.Int("remaining", len(remaining)),
		zap.Int("assigned", len(assigned)),
	)
	return assigned, local, nil
}

// Run processes the assignment until done or ctx is canceled. Cancellation is
// observed between items only. The returned summary is valid even when err
// is non-nil.
func (w *Worker) Run(ctx context.Context) (recovery.RunSummary, error) {
	started := w.deps.Clock.Now()
	w.update(func(s *recovery.RunSummary) { s.StartedAt = started })

	assigned, local, err := w.Assignment(ctx)
	if err != nil {
		return w.finish(ctx, err), err
	}
	w.local = local
	w.update(func(s *recovery.RunSummary) { s.Assigned = len(assigned) })
	if len(assigned) == 0 {
		w.logger.Info("nothing to do")
		return w.finish(ctx, nil), nil
	}

	if err := w.deps.Session.Start(ctx); err != nil {
		err = fmt.Errorf("%w: %w", ErrSessionStart, err)
		return w.finish(ctx, err), err
	}
	defer func() {
		if err := w.deps.Session.Close(); err != nil {
			w.logger.Warn("closing session failed", zap.Error(err))
		}
	}()

	if w.deps.Ledger != nil {
		if err := w.deps.Ledger.RunStarted(ctx, w.Snapshot()); err != nil {
			w.logger.Warn("run ledger start failed", zap.Error(err))
		}
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	runErr := w.loop(ctx, assigned)
	return w.finish(ctx, runErr), runErr
}

func (w *Worker) loop(ctx context.Context, assigned []string) error {
	for i, id := range assigned {
		if i > 0 && w.deps.Pacer != nil {
			w.deps.Pacer.Pause(ctx)
		}
		if ctx.Err() != nil {
			w.logger.Info("stopping before next item", zap.Int("left", len(assigned)-i))
			return nil
		}
		// In-flight items complete even if ctx is canceled meanwhile.
		itemCtx := context.WithoutCancel(ctx)
		if w.deps.Session.DueForRotation() {
			if err := w.rotate(itemCtx, "threshold"); err != nil {
				return fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
			}
		}
		if err := w.handle(itemCtx, id); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) rotate(ctx context.Context, reason string) error {
	if err := w.deps.Session.Rotate(ctx, reason); err != nil {
		w.logger.Error("session rotation failed", zap.String("reason", reason), zap.Error(err))
		return err
	}
	metrics.ObserveRotation(w.cfg.Index, reason)
	w.update(func(s *recovery.RunSummary) { s.Rotations++ })
	return nil
}

// flush saves the local checkpoint; failures are logged and tolerated.
func (w *Worker) flush() {
	if w.local == nil {
		return
	}
	err := w.deps.LocalCheckpoint.Save(w.local)
	metrics.ObserveCheckpointFlush(w.cfg.Index, err == nil)
	if err != nil {
		w.logger.Error("checkpoint save failed", zap.String("path", w.deps.LocalCheckpoint.Path()), zap.Error(err))
		return
	}
	w.sinceFlush = 0
	w.logger.Debug("checkpoint saved", zap.Int("completed", w.local.Len()))
}

func (w *Worker) finish(ctx context.Context, runErr error) recovery.RunSummary {
	w.flush()
	finished := w.deps.Clock.Now()
	w.update(func(s *recovery.RunSummary) {
		s.FinishedAt = finished
		if runErr != nil {
			s.Error = runErr.Error()
		}
	})
	summary := w.Snapshot()

	bg := context.WithoutCancel(ctx)
	if w.deps.Archiver != nil {
		if _, err := w.deps.Archiver.Archive(bg, w.cfg.Index, w.cfg.RunID,
			w.deps.Results.Path(), w.deps.Failures.Path(), w.deps.LocalCheckpoint.Path()); err != nil {
			w.logger.Warn("archiving run artifacts failed", zap.Error(err))
		}
	}
	if w.deps.Ledger != nil && summary.Assigned > 0 && !errors.Is(runErr, ErrSessionStart) {
		if err := w.deps.Ledger.RunFinished(bg, summary); err != nil {
			w.logger.Warn("run ledger finish failed", zap.Error(err))
		}
	}
	w.notify(bg, runEvent{Event: "run_finished", Summary: summary})

	w.logger.Info("run finished",
		zap.String("run_id", summary.RunID),
		zap.Int("assigned", summary.Assigned),
		zap.Int("succeeded", summary.Counts[recovery.StatusSucceeded]),
		zap.Int("restricted", summary.Counts[recovery.StatusRestricted]),
		zap.Int("failed", summary.Counts[recovery.StatusFailed]),
		zap.Int("skipped", summary.Counts[recovery.StatusSkipped]),
		zap.Int("claimed_elsewhere", summary.Counts[recovery.StatusClaimed]),
		zap.Int("rotations", summary.Rotations),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	return summary
}

type itemEvent struct {
	Event      string          `json:"event"`
	RunID      string          `json:"runId"`
	Worker     int             `json:"worker"`
	Identifier string          `json:"identifier"`
	Status     recovery.Status `json:"status"`
}

type runEvent struct {
	Event   string              `json:"event"`
	Summary recovery.RunSummary `json:"summary"`
}

func (w *Worker) notify(ctx context.Context, payload any) {
	if w.deps.Publisher == nil || w.cfg.Topic == "" {
		return
	}
	if _, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		w.logger.Warn("notification failed", zap.Error(err))
	}
}
