package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/voyage-scraper/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("CreatesMissingDir", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "output")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.NotNil(t, store)
		assert.DirExists(t, dir)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		t.Parallel()
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsAFile", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "output")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("OverwritesPreviousRun", func(t *testing.T) {
		uri, err := store.PutObject(ctx, "vesselfinder.json", "application/json", strings.NewReader(`[{"search_text":"A"}]`))
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(dir, "vesselfinder.json"), uri)

		_, err = store.PutObject(ctx, "vesselfinder.json", "application/json", strings.NewReader(`[]`))
		require.NoError(t, err)

		// #nosec G304 -- test reads from the controlled temp directory.
		got, err := os.ReadFile(filepath.Join(dir, "vesselfinder.json"))
		require.NoError(t, err)
		assert.Equal(t, "[]", string(got))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		for _, e := range entries {
			assert.False(t, strings.HasPrefix(e.Name(), "."), "leftover temp file %s", e.Name())
		}
	})

	t.Run("NestedPath", func(t *testing.T) {
		uri, err := store.PutObject(ctx, "runs/2024/marinetraffic.json", "application/json", strings.NewReader("[]"))
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(dir, "runs/2024/marinetraffic.json"), uri)
		assert.FileExists(t, filepath.Join(dir, "runs/2024/marinetraffic.json"))
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(ctx, " ", "application/json", strings.NewReader("[]"))
		assert.Error(t, err)
	})

	t.Run("Traversal", func(t *testing.T) {
		_, err := store.PutObject(ctx, "../escape.json", "application/json", strings.NewReader("[]"))
		assert.Error(t, err)
	})
}
