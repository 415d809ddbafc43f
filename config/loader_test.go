package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerFallsBackToDefaultYAML(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "default.yaml"), []byte("listen: \":7000\"\n"), 0644))

	cfg, err := LoadServer(LoaderOptions{ConfigDir: tmpDir, Environment: "staging"})
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Listen)
	assert.Equal(t, "staging", cfg.Environment)
}

func TestLoadServerReturnsDefaultsWhenNoFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	cfg, err := LoadServer(LoaderOptions{ConfigDir: tmpDir, Environment: "test"})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, cfg.SupportedVersions)
}

func TestLoadServerEnvironmentOverridesTakePriority(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "default.yaml"), []byte("listen: \":7000\"\n"), 0644))

	os.Setenv("PROTOV2D_LISTEN", ":9999")
	defer os.Unsetenv("PROTOV2D_LISTEN")

	cfg, err := LoadServer(LoaderOptions{ConfigDir: tmpDir})
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Listen)
}

func TestLoadClientFallsBackToClientYAML(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "client.yaml"), []byte("server_url: \"wss://h/p\"\n"), 0644))

	cfg, err := LoadClient(LoaderOptions{ConfigDir: tmpDir, Environment: "test"})
	require.NoError(t, err)
	assert.Equal(t, "wss://h/p", cfg.ServerURL)
}

func TestLoadServerFallsBackToDefaultsWhenFileIsUnparseable(t *testing.T) {
	// A malformed config file is treated the same as a missing one: the
	// cascade moves on to the next candidate (or bare defaults) rather
	// than surfacing a parse error, mirroring the teacher's loader.
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "default.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [this is not a string\n"), 0644))

	cfg, err := LoadServer(LoaderOptions{ConfigDir: tmpDir, Environment: "whatever-env-misses-this-file"})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, cfg.SupportedVersions)
}
