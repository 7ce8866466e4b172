package recovery

import (
	"context"
	"time"
)

// RunSummary describes one worker run for logs, ledgers and status endpoints.
type RunSummary struct {
	RunID        string         `json:"runId"`
	Worker       int            `json:"worker"`
	TotalWorkers int            `json:"totalWorkers"`
	Assigned     int            `json:"assigned"`
	Counts       map[Status]int `json:"counts"`
	Rotations    int            `json:"rotations"`
	StartedAt    time.Time      `json:"startedAt"`
	FinishedAt   time.Time      `json:"finishedAt,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// Processed is the number of items that reached any classification.
func (s RunSummary) Processed() int {
	total := 0
	for _, n := range s.Counts {
		total += n
	}
	return total
}

// RunLedger records run boundaries outside the worker's local files.
type RunLedger interface {
	RunStarted(ctx context.Context, run RunSummary) error
	RunFinished(ctx context.Context, run RunSummary) error
}
