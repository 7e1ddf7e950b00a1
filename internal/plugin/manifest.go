package plugin

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ManifestFileName is the sidecar manifest a directory-shaped plugin
// carries for metadata its subprocess doesn't announce itself. A
// file-shaped plugin uses "<file>.yml" next to its entry point instead.
const ManifestFileName = "mcdr.plugin.yml"

// sidecarManifestPath resolves where pluginPath's sidecar manifest would
// live, if the plugin ships one.
func sidecarManifestPath(pluginPath string) string {
	if info, err := os.Stat(pluginPath); err == nil && info.IsDir() {
		return filepath.Join(pluginPath, ManifestFileName)
	}
	return pluginPath + ".yml"
}

// ReadSidecarManifest loads and decodes pluginPath's sidecar manifest.
// A plugin without one gets a zero manifest and ok=false, which is not an
// error: the announce frame alone is a complete metadata source.
func ReadSidecarManifest(pluginPath string) (RawManifest, bool, error) {
	raw, err := os.ReadFile(sidecarManifestPath(pluginPath))
	if err != nil {
		if os.IsNotExist(err) {
			return RawManifest{}, false, nil
		}
		return RawManifest{}, false, fmt.Errorf("read plugin manifest: %w", err)
	}
	var m RawManifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return RawManifest{}, false, fmt.Errorf("decode plugin manifest: %w", err)
	}
	return m, true, nil
}

// mergeManifests overlays the announced manifest on top of the sidecar
// one: anything the subprocess announces wins, the sidecar fills the rest.
func mergeManifests(sidecar, announced RawManifest) RawManifest {
	out := sidecar
	if announced.ID != "" {
		out.ID = announced.ID
	}
	if announced.Version != "" {
		out.Version = announced.Version
	}
	if announced.Name != "" {
		out.Name = announced.Name
	}
	if announced.Description != "" {
		out.Description = announced.Description
	}
	if len(announced.Author) > 0 {
		out.Author = announced.Author
	}
	if announced.Link != "" {
		out.Link = announced.Link
	}
	if len(announced.Dependencies) > 0 {
		out.Dependencies = announced.Dependencies
	}
	return out
}
