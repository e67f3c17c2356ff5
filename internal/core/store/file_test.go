package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyrotor/keyrotor/internal/core"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := NewFileStore(filepath.Join(t.TempDir(), "keys.json"))

	want := samplePool()
	require.NoError(t, fs.Save(ctx, want))

	got, err := fs.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "absent.json"))

	got, err := fs.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestFileStoreCorruptFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileStore(path).Load(context.Background())
	require.Error(t, err)
}

func TestFileStoreWritesPrettyJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	fs := NewFileStore(path)
	require.NoError(t, fs.Save(context.Background(), samplePool()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	assert.True(t, strings.HasPrefix(text, "[\n  {"))
	assert.Contains(t, text, `"status": "Inactive"`)
	assert.Contains(t, text, `"requests_this_minute": 4`)
	assert.Contains(t, text, `"deactivated_at": null`)
}

func TestFileStoreSaveEmptyPool(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	fs := NewFileStore(path)
	require.NoError(t, fs.Save(context.Background(), nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "[]", string(data))
}

func TestFileStoreOverwritesWithoutLeftovers(t *testing.T) {
	dir := t.TempDir()
	fs := NewFileStore(filepath.Join(dir, "keys.json"))
	ctx := context.Background()

	require.NoError(t, fs.Save(ctx, samplePool()))
	require.NoError(t, fs.Save(ctx, samplePool()[:1]))

	got, err := fs.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileStoreHonorsCancelledContext(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "keys.json"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, fs.Save(ctx, []core.KeyRecord{}), context.Canceled)
	_, err := fs.Load(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
