package storeconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadInstallsDefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nix.conf")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.FileExists(t, path)
}

func TestLoadParsesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nix.conf")
	body := "store.store_path = /custom/store\nprofiles.max_generations = 3\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/custom/store", cfg.Store.StorePath)
	require.Equal(t, 3, cfg.Profiles.MaxGenerations)
}

func TestLoadRejectsInvalidPathList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nix.conf")
	body := "dependencies.extra_lib_paths = relative/path\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Default().Deps.ExtraLibPaths, cfg.Deps.ExtraLibPaths, "invalid list must be ignored in favor of defaults")
}

func TestEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nix.conf")

	t.Setenv("NIXSTORE_PROFILES_MAX_GENERATIONS", "7")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Profiles.MaxGenerations)
}
