package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9000\n"))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Mode)
	assert.Equal(t, "wallet", cfg.Chain.Mode)
	assert.Equal(t, 60, cfg.Game.GemFlushIntervalS)
	assert.Equal(t, 0, cfg.Game.HistoryRefreshIntervalS, "history refresh disabled by default")
	assert.NotEmpty(t, cfg.Game.ImageBaseURL)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  port: 8081
  debug: true
chain:
  mode: dev
  dev_seed_gems: 500
security:
  jwt_secret: s3cret
  admin_allowed_ips: ["10.0.0.1"]
`))
	require.NoError(t, err)

	assert.True(t, cfg.Server.Debug)
	assert.Equal(t, "dev", cfg.Chain.Mode)
	assert.EqualValues(t, 500, cfg.Chain.DevSeedGems)
	assert.Equal(t, "s3cret", cfg.Security.JWTSecret)
	assert.Equal(t, []string{"10.0.0.1"}, cfg.Security.AdminAllowedIPs)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
