package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/thread-recovery/internal/metrics"
	"github.com/JakeFAU/thread-recovery/internal/policy/retry"
	"github.com/JakeFAU/thread-recovery/internal/recovery"
)

// handle processes one identifier end to end. Only an unrecoverable session
// is returned as an error; every per-item failure is classified.
func (w *Worker) handle(ctx context.Context, id string) error {
	start := w.deps.Clock.Now()
	log := w.logger.With(zap.String("thread_id", id))

	if w.deps.Claimer != nil {
		ok, err := w.deps.Claimer.Claim(ctx, id, w.cfg.Index)
		switch {
		case err != nil:
			log.Warn("lease claim failed, processing anyway", zap.Error(err))
		case !ok:
			w.record(ctx, id, recovery.StatusClaimed, start, log)
			return nil
		}
	}

	item := recovery.WorkItem{ID: id, Meta: w.lookup(ctx, id, log)}
	status, err := w.extract(ctx, item, log)
	if err != nil {
		return err
	}
	w.deps.Session.Processed()

	if status == recovery.StatusSkipped && w.deps.Claimer != nil {
		if err := w.deps.Claimer.Release(ctx, id); err != nil {
			log.Warn("lease release failed", zap.Error(err))
		}
	}
	w.record(ctx, id, status, start, log)
	return nil
}

func (w *Worker) lookup(ctx context.Context, id string, log *zap.Logger) *recovery.Metadata {
	if w.deps.Metadata == nil {
		return nil
	}
	meta, err := w.deps.Metadata.Lookup(ctx, id)
	if err != nil {
		log.Warn("metadata lookup failed", zap.Error(err))
		return nil
	}
	return meta
}

// extract drives the retry policy until it reaches a terminal action.
func (w *Worker) extract(ctx context.Context, item recovery.WorkItem, log *zap.Logger) (recovery.Status, error) {
	var state retry.Attempt
	for {
		outcome := w.deps.Extractor.Extract(ctx, w.deps.Session.Browser(), item.ID)
		decision := w.deps.Policy.Decide(&state, outcome)

		switch decision.Action {
		case retry.ActionAccept:
			return w.journal(item, outcome.Messages, false, log), nil
		case retry.ActionRestricted:
			log.Info("thread restricted", zap.String("reason", decision.Reason))
			return w.journal(item, nil, true, log), nil
		case retry.ActionFail:
			return w.fail(item, decision.Reason, log), nil
		case retry.ActionSkip:
			log.Warn("attempts exhausted, leaving for a later run", zap.String("reason", decision.Reason))
			return recovery.StatusSkipped, nil
		case retry.ActionReauthenticate:
			if err := w.reauthenticate(ctx, log); err != nil {
				return "", err
			}
		case retry.ActionRotate:
			log.Warn("browser crashed, rotating session", zap.String("reason", decision.Reason))
			if err := w.rotate(ctx, "crash"); err != nil {
				return "", fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
			}
		default:
			return w.fail(item, fmt.Sprintf("unhandled action %s", decision.Action), log), nil
		}
	}
}

// reauthenticate logs in again on the current browser and escalates to a
// rotation when that fails.
func (w *Worker) reauthenticate(ctx context.Context, log *zap.Logger) error {
	w.deps.Session.MarkExpired()
	err := w.deps.Session.Authenticate(ctx)
	metrics.ObserveReauth(w.cfg.Index, err == nil)
	if err == nil {
		log.Info("session re-authenticated")
		return nil
	}
	log.Warn("re-authentication failed, rotating session", zap.Error(err))
	if err := w.rotate(ctx, "reauth_failed"); err != nil {
		return fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
	}
	return nil
}

// journal writes a result line. A write failure leaves the item uncompleted
// so it is retried by a later run.
func (w *Worker) journal(item recovery.WorkItem, messages []string, restricted bool, log *zap.Logger) recovery.Status {
	result := recovery.NewExtractionResult(item, messages, restricted, w.deps.Clock.Now(), w.cfg.Index)
	if err := w.deps.Results.Append(result); err != nil {
		log.Error("result journal write failed", zap.Error(err))
		return recovery.StatusSkipped
	}
	if restricted {
		return recovery.StatusRestricted
	}
	return recovery.StatusSucceeded
}

func (w *Worker) fail(item recovery.WorkItem, reason string, log *zap.Logger) recovery.Status {
	log.Error("thread failed", zap.String("reason", reason))
	rec := recovery.FailureRecord{Identifier: item.ID, Reason: reason, Timestamp: w.deps.Clock.Now().UTC()}
	if err := w.deps.Failures.Append(rec); err != nil {
		log.Error("failure journal write failed", zap.Error(err))
		return recovery.StatusSkipped
	}
	return recovery.StatusFailed
}

// record updates counters, progress and the checkpoint cadence.
func (w *Worker) record(ctx context.Context, id string, status recovery.Status, start time.Time, log *zap.Logger) {
	elapsed := w.deps.Clock.Now().Sub(start)
	metrics.ObserveItem(w.cfg.Index, string(status), elapsed)
	w.update(func(s *recovery.RunSummary) { s.Counts[status]++ })
	log.Info("item done", zap.String("status", string(status)), zap.Duration("elapsed", elapsed))

	if !status.Terminal() {
		return
	}
	w.notify(ctx, itemEvent{
		Event:      "thread_completed",
		RunID:      w.cfg.RunID,
		Worker:     w.cfg.Index,
		Identifier: id,
		Status:     status,
	})
	if w.local.Mark(id) {
		w.sinceFlush++
	}
	if w.sinceFlush >= w.cfg.FlushEvery {
		w.flush()
	}
}
