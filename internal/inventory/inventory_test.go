package inventory

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
}

func TestEnumerateSortsAndDeduplicates(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	touch(t, dir, "thread-9b2e7c1a-0000-4000-8000-000000000002.pdf")
	touch(t, dir, "1a2b3c4d-0000-4000-8000-000000000001.json")
	touch(t, dir, "copy-1A2B3C4D-0000-4000-8000-000000000001.json")
	touch(t, dir, "README.md")
	touch(t, dir, "nested/5f5f5f5f-0000-4000-8000-000000000003.json")

	e, err := New(Config{Dir: dir, CanonicalUUID: true})
	require.NoError(t, err)

	ids, err := e.Enumerate(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{
		"1a2b3c4d-0000-4000-8000-000000000001",
		"9b2e7c1a-0000-4000-8000-000000000002",
	}, ids)
}

func TestEnumerateRecursive(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	touch(t, dir, "a/5f5f5f5f-0000-4000-8000-000000000003.json")
	touch(t, dir, "1a2b3c4d-0000-4000-8000-000000000001.json")

	e, err := New(Config{Dir: dir, Recursive: true})
	require.NoError(t, err)

	ids, err := e.Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, ids, 2)
	require.Equal(t, "1a2b3c4d-0000-4000-8000-000000000001", ids[0])
}

func TestEnumerateCustomPattern(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	touch(t, dir, "job-0042.txt")
	touch(t, dir, "job-0007.txt")
	touch(t, dir, "other.txt")

	e, err := New(Config{Dir: dir, Pattern: regexp.MustCompile(`job-\d{4}`)})
	require.NoError(t, err)

	ids, err := e.Enumerate(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"job-0007", "job-0042"}, ids)
}

func TestEnumerateUnreadableInventory(t *testing.T) {
	t.Parallel()

	e, err := New(Config{Dir: filepath.Join(t.TempDir(), "missing")})
	require.NoError(t, err)

	_, err = e.Enumerate(context.Background())
	require.Error(t, err)
}

func TestNewRequiresDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}
