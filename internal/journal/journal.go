// Package journal appends terminal outcomes to durable per-worker files:
// newline-delimited results and a JSON array of failures.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/JakeFAU/thread-recovery/internal/fsutil"
	"github.com/JakeFAU/thread-recovery/internal/recovery"
)

// ResultsFileName is the result journal of worker n.
func ResultsFileName(worker int) string {
	return fmt.Sprintf("results-worker-%d.ndjson", worker)
}

// FailuresFileName is the failure journal of worker n.
func FailuresFileName(worker int) string {
	return fmt.Sprintf("failures-worker-%d.json", worker)
}

// ResultJournal appends one JSON document per line and syncs after each.
type ResultJournal struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// OpenResults opens (or creates) the journal at path in append mode.
func OpenResults(path string) (*ResultJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open result journal %s: %w", path, err)
	}
	return &ResultJournal{path: path, file: f}, nil
}

// Path returns the journal location.
func (j *ResultJournal) Path() string {
	return j.path
}

// Append writes result as one line and flushes it to disk.
func (j *ResultJournal) Append(result recovery.ExtractionResult) error {
	line, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result %s: %w", result.Identifier, err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return os.ErrClosed
	}
	if _, err := j.file.Write(line); err != nil {
		return fmt.Errorf("append result %s: %w", result.Identifier, err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("sync result journal: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (j *ResultJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	if err != nil {
		return fmt.Errorf("close result journal: %w", err)
	}
	return nil
}

// FailureJournal keeps one record per identifier and rewrites the whole array
// on every append.
type FailureJournal struct {
	mu      sync.Mutex
	path    string
	records []recovery.FailureRecord
	seen    map[string]struct{}
}

// OpenFailures loads existing records from path. A missing file starts empty;
// an unparseable file is an error so earlier failures are not overwritten.
func OpenFailures(path string) (*FailureJournal, error) {
	j := &FailureJournal{path: path, seen: make(map[string]struct{})}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return j, nil
	case err != nil:
		return nil, fmt.Errorf("read failure journal %s: %w", path, err)
	}
	var existing []recovery.FailureRecord
	if len(data) > 0 {
		if err := json.Unmarshal(data, &existing); err != nil {
			return nil, fmt.Errorf("decode failure journal %s: %w", path, err)
		}
	}
	for _, rec := range existing {
		j.add(rec)
	}
	return j, nil
}

func (j *FailureJournal) add(rec recovery.FailureRecord) bool {
	if _, dup := j.seen[rec.Identifier]; dup {
		return false
	}
	j.seen[rec.Identifier] = struct{}{}
	j.records = append(j.records, rec)
	return true
}

// Path returns the journal location.
func (j *FailureJournal) Path() string {
	return j.path
}

// Append records a failure unless the identifier is already present; the
// first record for an identifier wins.
func (j *FailureJournal) Append(rec recovery.FailureRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.add(rec) {
		return nil
	}
	payload, err := json.MarshalIndent(j.records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal failures: %w", err)
	}
	if err := fsutil.WriteFileAtomic(j.path, payload); err != nil {
		return fmt.Errorf("write failure journal %s: %w", j.path, err)
	}
	return nil
}

// Records returns a copy of the journaled failures.
func (j *FailureJournal) Records() []recovery.FailureRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]recovery.FailureRecord, len(j.records))
	copy(out, j.records)
	return out
}
