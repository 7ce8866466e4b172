// Package inventory enumerates the universe of thread identifiers from a
// local directory of artifacts that already reference each identifier.
package inventory

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// DefaultPattern matches UUID-shaped identifiers anywhere in a filename.
var DefaultPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// Config controls where and how identifiers are discovered.
type Config struct {
	Dir       string
	Pattern   *regexp.Regexp
	Recursive bool
	// CanonicalUUID lowercases and validates matches through uuid.Parse.
	CanonicalUUID bool
}

// Enumerator discovers identifiers from filenames.
type Enumerator struct {
	cfg Config
}

// New validates cfg and returns an Enumerator.
func New(cfg Config) (*Enumerator, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("inventory directory is required")
	}
	if cfg.Pattern == nil {
		cfg.Pattern = DefaultPattern
	}
	return &Enumerator{cfg: cfg}, nil
}

// Enumerate returns the sorted, de-duplicated identifiers found in the
// inventory. An unreadable inventory is an error.
func (e *Enumerator) Enumerate(ctx context.Context) ([]string, error) {
	names, err := e.filenames(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(names))
	ids := make([]string, 0, len(names))
	for _, name := range names {
		id, ok := e.identifier(name)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (e *Enumerator) identifier(name string) (string, bool) {
	match := e.cfg.Pattern.FindString(name)
	if match == "" {
		return "", false
	}
	if !e.cfg.CanonicalUUID {
		return match, true
	}
	parsed, err := uuid.Parse(match)
	if err != nil {
		return "", false
	}
	return parsed.String(), true
}

func (e *Enumerator) filenames(ctx context.Context) ([]string, error) {
	if !e.cfg.Recursive {
		entries, err := os.ReadDir(e.cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("read inventory %s: %w", e.cfg.Dir, err)
		}
		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			names = append(names, entry.Name())
		}
		return names, nil
	}

	var names []string
	err := filepath.WalkDir(e.cfg.Dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.IsDir() {
			names = append(names, d.Name())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk inventory %s: %w", e.cfg.Dir, err)
	}
	return names, nil
}
