// Package dispatcher runs several recovery workers in one process.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/thread-recovery/internal/recovery"
)

// Runner is one worker of the fleet.
type Runner interface {
	Run(ctx context.Context) (recovery.RunSummary, error)
	Snapshot() recovery.RunSummary
}

// Dispatcher fans the fleet out to goroutines. Workers share nothing, so the
// failure of one never cancels the others.
type Dispatcher struct {
	workers []Runner
	logger  *zap.Logger
	limit   int

	mu        sync.Mutex
	summaries []recovery.RunSummary
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithConcurrency caps how many workers run at once. n <= 0 means no cap.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) { d.limit = n }
}

// New creates a Dispatcher.
func New(workers []Runner, logger *zap.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		workers:   workers,
		logger:    logger.Named("dispatcher"),
		summaries: make([]recovery.RunSummary, len(workers)),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run starts the workers, at most limit at a time, and blocks until all of
// them return. The result holds one summary per worker in input order; the
// error joins every worker failure.
func (d *Dispatcher) Run(ctx context.Context) ([]recovery.RunSummary, error) {
	var g errgroup.Group
	if d.limit > 0 {
		g.SetLimit(d.limit)
	}
	errs := make([]error, len(d.workers))
	for i, w := range d.workers {
		g.Go(func() error {
			summary, err := d.runOne(ctx, w)
			d.mu.Lock()
			d.summaries[i] = summary
			d.mu.Unlock()
			errs[i] = err
			return err
		})
	}
	if err := g.Wait(); err != nil {
		d.logger.Warn("fleet finished with failures", zap.NamedError("first", err))
	}

	d.mu.Lock()
	out := append([]recovery.RunSummary(nil), d.summaries...)
	d.mu.Unlock()
	return out, errors.Join(errs...)
}

func (d *Dispatcher) runOne(ctx context.Context, w Runner) (summary recovery.RunSummary, err error) {
	defer func() {
		if r := recover(); r != nil {
			summary = w.Snapshot()
			err = fmt.Errorf("worker %d panicked: %v", summary.Worker, r)
			d.logger.Error("worker panicked", zap.Int("worker", summary.Worker), zap.Any("panic", r))
		}
	}()
	summary, err = w.Run(ctx)
	if err != nil {
		d.logger.Error("worker failed", zap.Int("worker", summary.Worker), zap.Error(err))
		return summary, fmt.Errorf("worker %d: %w", summary.Worker, err)
	}
	return summary, nil
}

// Snapshots returns the live summary of every worker.
func (d *Dispatcher) Snapshots() []recovery.RunSummary {
	out := make([]recovery.RunSummary, 0, len(d.workers))
	for _, w := range d.workers {
		out = append(out, w.Snapshot())
	}
	return out
}
