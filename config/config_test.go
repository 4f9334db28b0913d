package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stackvm/config"
	"stackvm/vm"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.False(t, cfg.VM.TraceEnabled)
	assert.Equal(t, vm.DefaultGlobalMemoryWords, cfg.VM.GlobalMemoryWords)
	assert.Equal(t, uint64(0), cfg.VM.MaxSteps)
	assert.True(t, cfg.Assembler.WarnUnusedLabels)
}

func TestLoadFrom_MissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadFrom(filepath.Join(dir, "does-not-exist.toml"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)
}

func TestSaveToThenLoadFromRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := config.DefaultConfig()
	cfg.VM.TraceEnabled = true
	cfg.VM.GlobalMemoryWords = 4096
	cfg.VM.MaxSteps = 1_000_000
	cfg.Assembler.WarnUnusedLabels = false

	require.NoError(t, cfg.SaveTo(path))

	loaded, err := config.LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadFrom_MalformedFileIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("this is not valid toml {{{"), 0644))

	_, err := config.LoadFrom(path)
	require.Error(t, err)
}
