package recovery

import (
	"errors"
	"time"
)

// ErrTransportClosed marks errors raised because the underlying browser
// resource is closed or unreachable. Session rotation recovers from it.
var ErrTransportClosed = errors.New("transport closed")

// Metadata is the optional descriptive data fetched for a thread.
type Metadata struct {
	DisplayName   string `json:"displayName,omitempty"`
	DisplayNumber string `json:"displayNumber,omitempty"`
}

// WorkItem is one identifier targeted for extraction.
type WorkItem struct {
	ID   string
	Meta *Metadata
}

// ExtractionResult is one journaled terminal outcome. Never mutated after creation.
type ExtractionResult struct {
	Identifier    string    `json:"identifier"`
	DisplayName   string    `json:"displayName,omitempty"`
	DisplayNumber string    `json:"displayNumber,omitempty"`
	Messages      []string  `json:"messages"`
	Restricted    bool      `json:"restricted,omitempty"`
	CompletedAt   time.Time `json:"completedAt"`
	Worker        int       `json:"worker,omitempty"`
}

// NewExtractionResult builds a result for item, copying its metadata.
func NewExtractionResult(item WorkItem, messages []string, restricted bool, at time.Time, worker int) ExtractionResult {
	if messages == nil {
		messages = []string{}
	}
	res := ExtractionResult{
		Identifier:  item.ID,
		Messages:    messages,
		Restricted:  restricted,
		CompletedAt: at.UTC(),
		Worker:      worker,
	}
	if item.Meta != nil {
		res.DisplayName = item.Meta.DisplayName
		res.DisplayNumber = item.Meta.DisplayNumber
	}
	return res
}

// FailureRecord captures a permanent per-item failure.
type FailureRecord struct {
	Identifier string    `json:"identifier"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}

// Status is the terminal classification of one work item within a run.
type Status string

// Item statuses reported in run summaries.
const (
	StatusSucceeded  Status = "succeeded"
	StatusRestricted Status = "restricted"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
	StatusClaimed    Status = "claimed_elsewhere"
)

// Terminal reports whether the status marks the identifier as completed in
// the checkpoint. Skipped and claimed items are left for a later run.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusRestricted, StatusFailed:
		return true
	default:
		return false
	}
}
