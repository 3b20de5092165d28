// SPDX-License-Identifier: MIT

package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("on: push\n"), 0o640))
}

func TestResolve(t *testing.T) {
	ws := t.TempDir()
	platform := t.TempDir()

	roots, err := Resolve(ws, "")
	require.NoError(t, err)
	assert.Equal(t, roots.Workspace, roots.Platform)

	roots, err = Resolve(ws, platform)
	require.NoError(t, err)
	assert.NotEqual(t, roots.Workspace, roots.Platform)

	_, err = Resolve(filepath.Join(ws, "missing"), "")
	assert.Error(t, err)
}

func TestDiscoverWorkflows(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".github/workflows/ci.yml")
	writeFile(t, root, ".github/workflows/release.yaml")
	writeFile(t, root, ".github/workflows/nested/deploy.yml")
	writeFile(t, root, ".github/workflows/README.md")
	writeFile(t, root, ".github/workflows/.hidden.yml")
	writeFile(t, root, ".github/other.yml")

	found, err := DiscoverWorkflows(root)
	require.NoError(t, err)
	assert.Equal(t, []string{
		".github/workflows/ci.yml",
		".github/workflows/nested/deploy.yml",
		".github/workflows/release.yaml",
	}, found)
}

func TestDiscoverWorkflowsMissingDir(t *testing.T) {
	found, err := DiscoverWorkflows(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestDiscoverActions(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".github/actions/setup/action.yml")
	writeFile(t, root, "tools/release/action.yaml")
	writeFile(t, root, "tools/release/config.yml")
	writeFile(t, root, ".git/action.yml")

	found, err := DiscoverActions(root)
	require.NoError(t, err)
	assert.Equal(t, []string{
		".github/actions/setup/action.yml",
		"tools/release/action.yaml",
	}, found)
}

func TestFilterToPRDiffWithoutRange(t *testing.T) {
	files := []string{".github/workflows/ci.yml"}
	got, filtered := FilterToPRDiff(t.Context(), t.TempDir(), files, PRRange{})
	assert.False(t, filtered)
	assert.Equal(t, files, got)
}

func TestFilterToPRDiffUnresolvableDowngrades(t *testing.T) {
	// No git repository at the root: resolution fails and the full set
	// comes back unfiltered.
	files := []string{".github/workflows/ci.yml", ".github/workflows/x.yml"}
	got, filtered := FilterToPRDiff(t.Context(), t.TempDir(),
		files, PRRange{Base: "0000000000000000000000000000000000000000", Head: "1111111111111111111111111111111111111111"})
	assert.False(t, filtered)
	assert.Equal(t, files, got)
}
