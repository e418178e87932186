package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_InterpolatesEnvVars(t *testing.T) {
	t.Setenv("STATE_DIR", "/var/lib/tstopd")
	path := writeConfig(t, `
persistence:
  db_path: "${STATE_DIR}/state.db"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/tstopd/state.db", cfg.Persistence.DBPath)
}

func TestLoad_AppliesDefaultsForUnsetFields(t *testing.T) {
	path := writeConfig(t, `
exchange:
  product_id: ETH-USD
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "ETH-USD", cfg.Exchange.ProductID)
	require.Equal(t, 5, cfg.Exchange.MaxRetries)
	require.True(t, cfg.Strategy.TrailPct.Equal(defaults().Strategy.TrailPct)) // default trail_pct applied
	require.False(t, cfg.Strategy.TrailPct.IsZero())
}

func TestLoad_ParsesPairsAndPortfolio(t *testing.T) {
	path := writeConfig(t, `
portfolio:
  total_capital: "100000"
  max_positions: 5
pairs:
  - product_id: BTC-USD
    enabled: true
    position_size_pct: "2"
  - product_id: ETH-USD
    enabled: false
    position_size_pct: "1"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "100000", cfg.Portfolio.TotalCapital.String())
	require.Equal(t, 5, cfg.Portfolio.MaxPositions)
	require.Len(t, cfg.Pairs, 2)
	require.Equal(t, "BTC-USD", cfg.Pairs[0].ProductID)
	require.False(t, cfg.Pairs[1].Enabled)
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadEnvFile_MissingFileIsNotAnError(t *testing.T) {
	require.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}

func TestLoadEnvFile_SetsVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("TSTOPD_TEST_VAR=hello\n"), 0o644))
	require.NoError(t, LoadEnvFile(path))
	require.Equal(t, "hello", os.Getenv("TSTOPD_TEST_VAR"))
}
