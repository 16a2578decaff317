package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
log_level: info
database:
  dsn: "user:pass@tcp(127.0.0.1:3306)/tradingbot"
store:
  bolt_path: /var/lib/tradingbotd/store.db
server:
  listen_addr: 127.0.0.1:7232
filter:
  preset: conservative
  min_liquidity_sol: 5
honeypot:
  max_risk_score: 60
  worst_case_holder_fallback: true
rug:
  liquidity_drop_pct: 0.5
orchestrator:
  unknown_token_policy: PAUSE_AND_ALERT
  rotation_strategy: ROUND_ROBIN
`

func TestLoadYAMLParsesAllSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	cfg, err := LoadYAML(path)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:7232", cfg.Server.ListenAddr)
	assert.Equal(t, "conservative", cfg.Filter.Preset)
	require.NotNil(t, cfg.Filter.MinLiquiditySOL)
	assert.Equal(t, 5.0, *cfg.Filter.MinLiquiditySOL)
	require.NotNil(t, cfg.Honeypot.MaxRiskScore)
	assert.Equal(t, 60, *cfg.Honeypot.MaxRiskScore)
	assert.True(t, cfg.Honeypot.WorstCaseHolderFallback)
	assert.Equal(t, "PAUSE_AND_ALERT", cfg.Orchestrator.UnknownTokenPolicy)
}

func TestFilterYAMLConvertsToFilterConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	cfg, err := LoadYAML(path)
	require.NoError(t, err)

	fc := cfg.Filter.ToFilterConfig()
	require.NotNil(t, fc.MinLiquiditySOL)
	assert.Equal(t, 5.0, *fc.MinLiquiditySOL)
}

func TestOrchestratorYAMLAppliesDefaultsWhenUnset(t *testing.T) {
	var o OrchestratorYAML
	cfg := o.ToOrchestratorConfig()
	assert.NotEmpty(t, cfg.UnknownTokenPolicy)
}

func TestLoadYAMLMissingFileReturnsError(t *testing.T) {
	_, err := LoadYAML("/nonexistent/path/config.yml")
	assert.Error(t, err)
}
