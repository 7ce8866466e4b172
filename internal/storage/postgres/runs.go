package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/thread-recovery/internal/recovery"
)

// Run statuses stored in the ledger.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// RunStarted inserts a ledger row for run.
func (s *Store) RunStarted(ctx context.Context, run recovery.RunSummary) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, worker, total_workers, assigned, started_at, status)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING`, s.runsTable)
	_, err := s.pool.Exec(ctx, query,
		run.RunID,
		run.Worker,
		run.TotalWorkers,
		run.Assigned,
		run.StartedAt,
		RunRunning,
	)
	if err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

// RunFinished stores the final counts of run.
func (s *Store) RunFinished(ctx context.Context, run recovery.RunSummary) error {
	status := RunCompleted
	var errMsg *string
	if run.Error != "" {
		status = RunFailed
		errMsg = &run.Error
	}
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1,
	status = $2,
	succeeded = $3,
	restricted = $4,
	failed = $5,
	skipped = $6,
	claimed_elsewhere = $7,
	rotations = $8,
	error_message = $9
WHERE id = $10`, s.runsTable)
	res, err := s.pool.Exec(ctx, query,
		run.FinishedAt,
		status,
		run.Counts[recovery.StatusSucceeded],
		run.Counts[recovery.StatusRestricted],
		run.Counts[recovery.StatusFailed],
		run.Counts[recovery.StatusSkipped],
		run.Counts[recovery.StatusClaimed],
		run.Rotations,
		errMsg,
		run.RunID,
	)
	if err != nil {
		return fmt.Errorf("record run finish: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("record run finish: run %s not found", run.RunID)
	}
	return nil
}
