// Package archive copies a worker's journals and checkpoint to a blob store
// once the run ends.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// BlobStore persists named objects.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Archiver uploads files under <worker-n>/<run id>/.
type Archiver struct {
	store  BlobStore
	logger *zap.Logger
}

// New returns an Archiver writing to store.
func New(store BlobStore, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{store: store, logger: logger}
}

// Archive uploads every existing file and returns the resulting URIs. Missing
// files are skipped; other failures are collected and returned together.
func (a *Archiver) Archive(ctx context.Context, worker int, runID string, files ...string) ([]string, error) {
	if a == nil || a.store == nil {
		return nil, nil
	}
	var (
		uris []string
		errs []error
	)
	for _, file := range files {
		uri, err := a.upload(ctx, worker, runID, file)
		switch {
		case errors.Is(err, os.ErrNotExist):
			a.logger.Debug("archive skipped missing file", zap.String("file", file))
		case err != nil:
			errs = append(errs, err)
		default:
			a.logger.Info("archived file", zap.String("file", file), zap.String("uri", uri))
			uris = append(uris, uri)
		}
	}
	return uris, errors.Join(errs...)
}

func (a *Archiver) upload(ctx context.Context, worker int, runID, file string) (string, error) {
	f, err := os.Open(file)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", file, err)
	}
	defer f.Close()

	name := path.Join(fmt.Sprintf("worker-%d", worker), runID, filepath.Base(file))
	uri, err := a.store.PutObject(ctx, name, contentType(file), f)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", file, err)
	}
	return uri, nil
}

func contentType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".ndjson":
		return "application/x-ndjson"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
