package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaultsAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procmon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - package: com.x
    process: com.x
verbose: true
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/system/packages.xml", cfg.PackageDBPath)
	assert.Equal(t, []string{"zygote"}, cfg.SpawnerPrefixes)
	assert.True(t, cfg.Verbose)
	require.Len(t, cfg.Rules, 1)
	assert.Equal(t, "com.x", cfg.Rules[0].Package)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestResolveInterpreterPaths_PrefersExistingCandidates(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "app_process64")
	require.NoError(t, os.WriteFile(present, []byte("binary"), 0755))
	missing := filepath.Join(dir, "app_process32")

	got := ResolveInterpreterPaths([]string{missing, present}, filepath.Join(dir, "app_process"))

	assert.Equal(t, []string{present}, got)
}

func TestResolveInterpreterPaths_FallsBackWhenNoneExist(t *testing.T) {
	dir := t.TempDir()
	fallback := filepath.Join(dir, "app_process")
	require.NoError(t, os.WriteFile(fallback, []byte("binary"), 0755))

	got := ResolveInterpreterPaths([]string{
		filepath.Join(dir, "app_process32"),
		filepath.Join(dir, "app_process64"),
	}, fallback)

	assert.Equal(t, []string{fallback}, got)
}
