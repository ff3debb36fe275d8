// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesBuiltInDefaultsWithNoFileOrEnv(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(WithConfigFile(filepath.Join(dir, "absent.yaml")))
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Engine.MaxConcurrency)
	require.Equal(t, "./components", cfg.Paths.ComponentsDir)
	require.Equal(t, "text", cfg.Logging.Format)
	require.Empty(t, cfg.ConfigFileUsed)
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slipway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine:
  maxConcurrency: 8
paths:
  componentsDir: /srv/components
logging:
  format: json
`), 0o600))

	cfg, err := Load(WithConfigFile(path))
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Engine.MaxConcurrency)
	require.Equal(t, "/srv/components", cfg.Paths.ComponentsDir)
	require.Equal(t, "json", cfg.Logging.Format)
	require.Equal(t, path, cfg.ConfigFileUsed)
}

func TestLoadEnvironmentOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slipway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  maxConcurrency: 8\n"), 0o600))

	t.Setenv("SLIPWAY_ENGINE_MAXCONCURRENCY", "16")

	cfg, err := Load(WithConfigFile(path))
	require.NoError(t, err)
	require.Equal(t, 16, cfg.Engine.MaxConcurrency)
}

func TestLoadRejectsInvalidConcurrency(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slipway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  maxConcurrency: 0\n"), 0o600))

	_, err := Load(WithConfigFile(path))
	require.Error(t, err)
}

func TestValidateRejectsUnknownLogFormat(t *testing.T) {
	cfg := defaults()
	cfg.Logging.Format = "xml"
	require.Error(t, cfg.Validate())
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownFetchRetryPolicy(t *testing.T) {
	cfg := defaults()
	cfg.Engine.FetchRetryPolicy = "fibonacci"
	require.Error(t, cfg.Validate())
}

func TestLoadConfigFileSelectsFetchRetryPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slipway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine:
  fetchRetryPolicy: constant
  fetchRetryInterval: 50ms
  fetchMaxRetries: 5
`), 0o600))

	cfg, err := Load(WithConfigFile(path))
	require.NoError(t, err)
	require.Equal(t, "constant", cfg.Engine.FetchRetryPolicy)
	require.Equal(t, 50*1000*1000, int(cfg.Engine.FetchRetryInterval))
	require.Equal(t, 5, cfg.Engine.FetchMaxRetries)
}
