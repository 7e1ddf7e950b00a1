package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSidecarManifestMissingIsNotAnError(t *testing.T) {
	_, ok, err := ReadSidecarManifest(filepath.Join(t.TempDir(), "ghost.mcdr"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReadSidecarManifestForFilePlugin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.mcdr")
	require.NoError(t, os.WriteFile(path, []byte("binary"), 0o755))
	require.NoError(t, os.WriteFile(path+".yml", []byte(
		"id: sample\nversion: 2.1.0\nname: Sample\ndependencies:\n  core: \">=1.0.0\"\n"), 0o644))

	m, ok, err := ReadSidecarManifest(path)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sample", m.ID)
	assert.Equal(t, "2.1.0", m.Version)
	assert.Equal(t, ">=1.0.0", m.Dependencies["core"])
}

func TestReadSidecarManifestForDirectoryPlugin(t *testing.T) {
	dir := t.TempDir()
	pluginDir := filepath.Join(dir, "sample.mcdr")
	require.NoError(t, os.Mkdir(pluginDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, ManifestFileName), []byte(
		"id: sample\nversion: 0.3.0\n"), 0o644))

	m, ok, err := ReadSidecarManifest(pluginDir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0.3.0", m.Version)
}

func TestReadSidecarManifestMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.mcdr")
	require.NoError(t, os.WriteFile(path+".yml", []byte("id: [unclosed"), 0o644))

	_, _, err := ReadSidecarManifest(path)
	assert.Error(t, err)
}

func TestMergeManifestsAnnouncedWins(t *testing.T) {
	sidecar := RawManifest{ID: "sample", Version: "1.0.0", Description: "from file"}
	announced := RawManifest{Version: "1.1.0"}
	merged := mergeManifests(sidecar, announced)
	assert.Equal(t, "sample", merged.ID)
	assert.Equal(t, "1.1.0", merged.Version)
	assert.Equal(t, "from file", merged.Description)
}
