package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	ResetConfig()

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultOutput, cfg.Output)
	assert.False(t, cfg.Verbose)
	assert.Empty(t, cfg.SchemaPath)
}

func TestLoadConfigFromFile(t *testing.T) {
	ResetConfig()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "tsqllineage.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("schema_path: schemas/prod.yaml\nverbose: true\n"), 0o644))

	cfg, err := LoadConfig(cfgPath, nil)
	require.NoError(t, err)

	assert.Equal(t, "schemas/prod.yaml", cfg.SchemaPath)
	assert.True(t, cfg.Verbose)
	assert.Equal(t, cfgPath, GetConfigFileUsed())
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	ResetConfig()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "tsqllineage.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("output: text\n"), 0o644))

	t.Setenv("TSQLLINEAGE_OUTPUT", "json")

	cfg, err := LoadConfig(cfgPath, nil)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Output)
}

func TestLoadConfigFlagsWin(t *testing.T) {
	ResetConfig()

	t.Setenv("TSQLLINEAGE_OUTPUT", "text")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.StringP("output", "o", "", "")
	flags.Bool("verbose", false, "")
	require.NoError(t, flags.Parse([]string{"--output", "json"}))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.Output, "explicitly set flags should override env vars")
	assert.False(t, cfg.Verbose, "unchanged flags should not override anything")
}

func TestGetCurrentConfigFallback(t *testing.T) {
	ResetConfig()

	cfg := GetCurrentConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, DefaultOutput, cfg.Output)
}
