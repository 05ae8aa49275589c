package runlog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/price-archive/internal/storage/memory"
)

func TestUploadReplacesLogObject(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "scraper.log")
	store := memory.NewBlobStore()
	cfg := Config{File: path, ObjectKey: "scraper.log"}

	require.NoError(t, os.WriteFile(path, []byte("run one\n"), 0o600))
	require.NoError(t, Upload(context.Background(), store, cfg, nil))
	require.NoError(t, os.WriteFile(path, []byte("run one\nrun two\n"), 0o600))
	require.NoError(t, Upload(context.Background(), store, cfg, nil))

	obj, ok := store.Object("scraper.log")
	require.True(t, ok)
	require.Equal(t, "text/plain", obj.ContentType)
	require.Equal(t, "run one\nrun two\n", string(obj.Data))
}

func TestUploadDisabled(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	require.NoError(t, Upload(context.Background(), store, Config{}, nil))
	require.Empty(t, store.Keys())
}

func TestUploadMissingFile(t *testing.T) {
	t.Parallel()

	cfg := Config{File: filepath.Join(t.TempDir(), "missing.log"), ObjectKey: "x.log"}
	err := Upload(context.Background(), memory.NewBlobStore(), cfg, nil)
	require.ErrorContains(t, err, "read log file")
}
