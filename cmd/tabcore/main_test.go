package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/tabcore/internal/memory/hibernation"
	"github.com/GriffinCanCode/tabcore/internal/shared/id"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seed(t *testing.T, dir string, tabIDs ...uint64) {
	t.Helper()
	store, err := hibernation.New(hibernation.Config{Dir: dir, CompressionLevel: 3})
	require.NoError(t, err)
	defer store.Close()

	for _, tabID := range tabIDs {
		_, err := store.Hibernate(context.Background(), &hibernation.Snapshot{
			TabID: id.TabID(tabID),
			URL:   "https://example.com/",
			Title: "Example",
			DOM:   []byte("<html><body>hi</body></html>"),
		})
		require.NoError(t, err)
	}
}

func TestStorageList(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HIBERNATION_DIR", dir)

	out, err := run(t, "storage", "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "no hibernated tabs")

	seed(t, dir, 4, 9)
	out, err = run(t, "storage", "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "TAB")
	assert.Contains(t, out, "total")
	assert.Regexp(t, `(?m)^4\s`, out)
	assert.Regexp(t, `(?m)^9\s`, out)
}

func TestStorageGC(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HIBERNATION_DIR", dir)
	seed(t, dir, 1, 2)

	old := time.Now().Add(-48 * time.Hour)
	matches, err := filepath.Glob(filepath.Join(dir, "*"+hibernation.FileExtension))
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.NoError(t, os.Chtimes(matches[0], old, old))

	out, err := run(t, "storage", "gc", "--max-age", "24h")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 1 file(s)")

	rest, err := filepath.Glob(filepath.Join(dir, "*"+hibernation.FileExtension))
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestStorageGCRejectsNonPositiveAge(t *testing.T) {
	t.Setenv("HIBERNATION_DIR", t.TempDir())
	_, err := run(t, "storage", "gc", "--max-age", "0s")
	require.Error(t, err)
}

func TestBadLogLevel(t *testing.T) {
	t.Setenv("HIBERNATION_DIR", t.TempDir())
	_, err := run(t, "serve", "--log-level", "chatty")
	require.Error(t, err)
}
