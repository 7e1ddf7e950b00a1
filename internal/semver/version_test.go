package semver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	v, err := Parse("1.2.3", false)
	require.NoError(t, err)
	assert.Equal(t, Version{Major: 1, Minor: 2, Patch: 3, raw: "1.2.3"}, v)

	v, err = Parse("1.2", false)
	require.NoError(t, err)
	assert.Equal(t, 0, v.Patch)

	v, err = Parse("1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Major)
	assert.Equal(t, 0, v.Minor)

	v, err = Parse("1.2.3-beta", false)
	require.NoError(t, err)
	assert.Equal(t, "beta", v.PreRelease)
}

func TestParseWildcard(t *testing.T) {
	_, err := Parse("*", false)
	assert.Error(t, err)

	v, err := Parse("*", true)
	require.NoError(t, err)
	assert.Equal(t, "*", v.raw)
}

func TestParseInvalid(t *testing.T) {
	cases := []string{"", "1.2.3.4", "a.b.c", "1..3", "-1.0.0"}
	for _, c := range cases {
		_, err := Parse(c, false)
		assert.Errorf(t, err, "expected parse error for %q", c)
		var perr *ParsingError
		assert.ErrorAs(t, err, &perr)
	}
}

func TestFallback(t *testing.T) {
	v := Fallback()
	assert.Equal(t, "0.0.0", v.String())
}

func TestCompare(t *testing.T) {
	assert.True(t, MustParse("1.0.0").Less(MustParse("1.0.1")))
	assert.True(t, MustParse("1.0.0").Less(MustParse("1.1.0")))
	assert.True(t, MustParse("1.0.0").Less(MustParse("2.0.0")))
	assert.True(t, MustParse("1.0.0").Equal(MustParse("1.0.0")))
	assert.True(t, MustParse("2.0.0").Greater(MustParse("1.9.9")))
}

func TestComparePreRelease(t *testing.T) {
	// a pre-release ranks below the release at the same numeric tuple
	pre, err := Parse("1.0.0-rc1", false)
	require.NoError(t, err)
	rel := MustParse("1.0.0")
	assert.True(t, pre.Less(rel))
	assert.True(t, rel.Greater(pre))
}

func TestString(t *testing.T) {
	assert.Equal(t, "1.2.3", MustParse("1.2.3").String())
	v, err := Parse("1.2.3-beta.1", false)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3-beta.1", v.String())
}
