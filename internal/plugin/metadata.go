// Copyright 2025 James Ross
// Package plugin defines the plugin entity, its metadata, lifecycle state
// machine, and the event/listener registry a loaded plugin populates.
package plugin

import (
	"strings"

	"go.uber.org/zap"

	"github.com/kafuuchino-desu/mcdr-go/internal/semver"
)

// FallbackVersion is used whenever a manifest omits a version or supplies
// one that fails to parse.
const FallbackVersion = semver.FallbackVersion

// RawManifest is a plugin's undecoded metadata, before defaulting. It
// arrives two ways that get merged: the sidecar mcdr.plugin.yml (decoded
// with gopkg.in/yaml.v3) and the manifest field of the subprocess's
// announce frame (JSON).
type RawManifest struct {
	ID           string            `yaml:"id" json:"id"`
	Version      string            `yaml:"version" json:"version"`
	Name         string            `yaml:"name" json:"name"`
	Description  string            `yaml:"description" json:"description"`
	Author       []string          `yaml:"author" json:"author"`
	Link         string            `yaml:"link" json:"link"`
	Dependencies map[string]string `yaml:"dependencies" json:"dependencies"`
}

// MetaData is a plugin's parsed, defaulted manifest.
type MetaData struct {
	ID           string
	Version      semver.Version
	Name         string
	Description  string
	Author       []string
	Link         string
	Dependencies map[string]semver.Requirement
}

// NewMetaData builds a MetaData from a decoded manifest and the plugin's
// file name (used as the id fallback, the way the original strips the
// plugin file suffix from the file name). Malformed version strings and
// malformed dependency requirements are logged and fall back rather than
// failing the whole plugin load, matching the original metadata loader.
func NewMetaData(raw RawManifest, fileNameFallbackID string, logger *zap.Logger) *MetaData {
	id := raw.ID
	if id == "" {
		id = idFromFileName(fileNameFallbackID)
	}

	name := raw.Name
	if name == "" {
		name = id
	}

	md := &MetaData{
		ID:           id,
		Name:         name,
		Description:  raw.Description,
		Author:       raw.Author,
		Link:         raw.Link,
		Dependencies: map[string]semver.Requirement{},
	}

	if raw.Version != "" {
		v, err := semver.Parse(raw.Version, false)
		if err != nil {
			logger.Warn("invalid plugin version, falling back",
				zap.String("plugin_id", id),
				zap.String("version", raw.Version),
				zap.String("fallback", FallbackVersion),
				zap.Error(err))
			md.Version = semver.Fallback()
		} else {
			md.Version = v
		}
	} else {
		logger.Warn("plugin does not specify a version, using fallback",
			zap.String("plugin_id", id),
			zap.String("fallback", FallbackVersion))
		md.Version = semver.Fallback()
	}

	for depID, reqStr := range raw.Dependencies {
		req, err := semver.ParseRequirement(reqStr)
		if err != nil {
			logger.Warn("invalid dependency requirement, ignoring",
				zap.String("plugin_id", id),
				zap.String("dependency", depID),
				zap.String("requirement", reqStr),
				zap.Error(err))
			continue
		}
		md.Dependencies[depID] = req
	}

	return md
}

// idFromFileName strips the ".mcdr" plugin suffix from a plugin file or
// directory name, mirroring the fallback-id derivation in the original
// metadata loader.
func idFromFileName(fileName string) string {
	const suffix = ".mcdr"
	return strings.TrimSuffix(fileName, suffix)
}
