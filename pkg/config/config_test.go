package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil, "sbtext.hcl")
	require.NoError(t, err)
	require.NotNil(t, cfg.Build)
	require.NotNil(t, cfg.Cache)
	assert.Empty(t, cfg.Build.Entry)
	assert.False(t, cfg.Build.Relaxed)
	assert.True(t, cfg.Build.ScaleSVGsOrDefault())
}

func TestParseFull(t *testing.T) {
	src := `
build {
  entry      = "game/main.sbtext"
  output     = "dist/game.sb3"
  relaxed    = true
  scale_svgs = false
}

cache {
  path = ".sbtext-cache.db"
}
`
	cfg, err := Parse([]byte(src), "sbtext.hcl")
	require.NoError(t, err)
	assert.Equal(t, "game/main.sbtext", cfg.Build.Entry)
	assert.Equal(t, "dist/game.sb3", cfg.Build.Output)
	assert.True(t, cfg.Build.Relaxed)
	require.NotNil(t, cfg.Build.ScaleSVGs)
	assert.False(t, cfg.Build.ScaleSVGsOrDefault())
	assert.Equal(t, ".sbtext-cache.db", cfg.Cache.Path)
}

func TestScaleSVGsTriState(t *testing.T) {
	on := true
	off := false
	assert.True(t, (&Build{}).ScaleSVGsOrDefault())
	assert.True(t, (&Build{ScaleSVGs: &on}).ScaleSVGsOrDefault())
	assert.False(t, (&Build{ScaleSVGs: &off}).ScaleSVGsOrDefault())
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("build {"), "broken.hcl")
	assert.ErrorContains(t, err, "broken.hcl")

	_, err = Parse([]byte("build {\n  entry = 5 {}\n}\n"), "bad.hcl")
	assert.Error(t, err)
}

func TestParseEnvInterpolation(t *testing.T) {
	t.Setenv("SBTEXT_TEST_OUT", "from-env.sb3")
	cfg, err := Parse([]byte("build {\n  output = env.SBTEXT_TEST_OUT\n}\n"), "sbtext.hcl")
	require.NoError(t, err)
	assert.Equal(t, "from-env.sb3", cfg.Build.Output)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sbtext.hcl")
	require.NoError(t, os.WriteFile(path, []byte("build {\n  entry = \"main.sbtext\"\n}\n"), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "main.sbtext", cfg.Build.Entry)

	_, err = Load(filepath.Join(dir, "missing.hcl"))
	assert.Error(t, err)
}
