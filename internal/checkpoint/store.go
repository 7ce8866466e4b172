// Package checkpoint persists the set of completed identifiers so a run can
// resume. Loads never fail; saves are best-effort.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/thread-recovery/internal/fsutil"
	"github.com/JakeFAU/thread-recovery/internal/recovery"
)

// File is the on-disk checkpoint document.
type File struct {
	ProcessedIDs []string `json:"processedIds"`
	Count        int      `json:"count"`
}

// Store reads and writes one checkpoint file.
type Store struct {
	path   string
	logger *zap.Logger
}

// NewStore returns a Store bound to path.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("checkpoint path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger}, nil
}

// Path returns the checkpoint file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the checkpoint. A missing or corrupt file yields an empty record.
func (s *Store) Load() *recovery.ProgressRecord {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("checkpoint unreadable; starting empty", zap.String("path", s.path), zap.Error(err))
		}
		return recovery.NewProgressRecord(nil, 0)
	}
	var doc File
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("checkpoint corrupt; starting empty", zap.String("path", s.path), zap.Error(err))
		return recovery.NewProgressRecord(nil, 0)
	}
	return recovery.NewProgressRecord(doc.ProcessedIDs, doc.Count)
}

// Save overwrites the checkpoint with record. The write goes through a
// temporary file in the same directory and a rename.
func (s *Store) Save(record *recovery.ProgressRecord) error {
	doc := File{ProcessedIDs: record.IDs(), Count: record.Count()}
	if doc.ProcessedIDs == nil {
		doc.ProcessedIDs = []string{}
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.path, payload); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", s.path, err)
	}
	return nil
}

// LocalFileName is the checkpoint written by worker n.
func LocalFileName(worker int) string {
	return fmt.Sprintf("checkpoint-worker-%d.json", worker)
}

// LocalFiles lists the worker checkpoints present in dir, sorted by name.
func LocalFiles(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "checkpoint-worker-*.json"))
	if err != nil {
		return nil, fmt.Errorf("list worker checkpoints: %w", err)
	}
	return matches, nil
}
