package task

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspaceFromPath(t *testing.T) {
	t.Run("Should return the process cwd for an empty path", func(t *testing.T) {
		ws, err := WorkspaceFromPath("")
		require.NoError(t, err)
		wd, _ := os.Getwd()
		assert.Equal(t, wd, ws.Path())
	})
	t.Run("Should normalize a directory and a file path to the same directory", func(t *testing.T) {
		dir := t.TempDir()
		file := filepath.Join(dir, "a.txt")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
		byDir, err := WorkspaceFromPath(dir)
		require.NoError(t, err)
		assert.Equal(t, dir, byDir.Path())
		byFile, err := WorkspaceFromPath(file)
		require.NoError(t, err)
		assert.Equal(t, dir, byFile.Path())
	})
}

func TestWorkspace_RebindPathResolveValidate(t *testing.T) {
	t.Run("Should reject Rebind on a nil workspace", func(t *testing.T) {
		var w *Workspace
		assert.Error(t, w.Rebind("whatever"))
	})
	t.Run("Should Rebind, Path, Validate and Resolve", func(t *testing.T) {
		dir := t.TempDir()
		file := filepath.Join(dir, "b.txt")
		require.NoError(t, os.WriteFile(file, []byte("y"), 0o644))
		w := &Workspace{}
		require.NoError(t, w.Rebind(dir))
		assert.Equal(t, dir, w.Path())
		assert.NoError(t, w.Validate())
		got, err := w.Resolve("b.txt")
		require.NoError(t, err)
		assert.Equal(t, file, got)
	})
	t.Run("Should error resolving a missing file on an unset workspace", func(t *testing.T) {
		w := &Workspace{}
		_, err := w.Resolve("missing")
		assert.Error(t, err)
		assert.Error(t, w.Validate())
	})
	t.Run("Should treat a nil workspace as unset", func(t *testing.T) {
		var w *Workspace
		assert.Equal(t, "", w.Path())
		assert.Error(t, w.Validate())
	})
}
