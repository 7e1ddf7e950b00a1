package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kafuuchino-desu/mcdr-go/internal/semver"
)

func TestNewMetaDataDefaults(t *testing.T) {
	logger := zaptest.NewLogger(t)
	md := NewMetaData(RawManifest{}, "my-plugin.mcdr", logger)
	assert.Equal(t, "my-plugin", md.ID)
	assert.Equal(t, "my-plugin", md.Name)
	assert.Equal(t, FallbackVersion, md.Version.String())
	assert.Empty(t, md.Dependencies)
}

func TestNewMetaDataExplicitFields(t *testing.T) {
	logger := zaptest.NewLogger(t)
	raw := RawManifest{
		ID:      "sample-plugin",
		Version: "1.2.3",
		Name:    "Sample Plugin",
		Dependencies: map[string]string{
			"core-plugin": ">=1.0.0",
			"other":       "*",
		},
	}
	md := NewMetaData(raw, "unused.mcdr", logger)
	assert.Equal(t, "sample-plugin", md.ID)
	assert.Equal(t, "Sample Plugin", md.Name)
	assert.Equal(t, "1.2.3", md.Version.String())
	require.Len(t, md.Dependencies, 2)
	assert.True(t, md.Dependencies["core-plugin"].Satisfies(semver.MustParse("1.5.0")))
	assert.True(t, md.Dependencies["other"].Satisfies(semver.MustParse("0.0.1")))
}

func TestNewMetaDataInvalidVersionFallsBack(t *testing.T) {
	logger := zaptest.NewLogger(t)
	raw := RawManifest{ID: "x", Version: "not-a-version"}
	md := NewMetaData(raw, "x.mcdr", logger)
	assert.Equal(t, FallbackVersion, md.Version.String())
}

func TestNewMetaDataInvalidDependencyIgnored(t *testing.T) {
	logger := zaptest.NewLogger(t)
	raw := RawManifest{
		ID:           "x",
		Dependencies: map[string]string{"broken": ""},
	}
	md := NewMetaData(raw, "x.mcdr", logger)
	assert.Empty(t, md.Dependencies)
}
