package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleConfig = `
server:
  address: ":9000"
  name: "Test Agent"
  version: "2.1.0"
  log_level: "debug"
  rate_limit:
    rps: 10
    burst: 20
agent:
  description: "A test agent"
  capabilities:
    streaming: true
    push_notifications: true
  skills:
    - id: echo
      name: Echo
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestYamlConfigLoad(t *testing.T) {
	cfg, err := NewYamlConfig(writeConfig(t, sampleConfig), zap.NewNop())
	require.NoError(t, err)
	defer cfg.Close()

	addr, err := cfg.ListenAddr()
	require.NoError(t, err)
	assert.Equal(t, ":9000", addr)

	name, err := cfg.ServerName()
	require.NoError(t, err)
	assert.Equal(t, "Test Agent", name)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, "debug", level)

	rps, err := cfg.RateLimitRPS()
	require.NoError(t, err)
	assert.Equal(t, 10, rps)

	card, err := cfg.AgentCard("http://localhost:9000")
	require.NoError(t, err)
	assert.Equal(t, "Test Agent", card.Name)
	assert.Equal(t, "2.1.0", card.Version)
	assert.Equal(t, "http://localhost:9000", card.URL)
	assert.True(t, card.Capabilities.Streaming)
	assert.True(t, card.Capabilities.PushNotifications)
	require.Len(t, card.Skills, 1)
	assert.Equal(t, "echo", card.Skills[0].ID)
	require.NotNil(t, card.Description)
	assert.Equal(t, "A test agent", *card.Description)
}

func TestYamlConfigDefaults(t *testing.T) {
	cfg, err := NewYamlConfig(writeConfig(t, "server:\n  name: minimal\n"), zap.NewNop())
	require.NoError(t, err)
	defer cfg.Close()

	addr, err := cfg.ListenAddr()
	require.NoError(t, err)
	assert.Equal(t, ":41241", addr)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, "info", level)

	mode, err := cfg.SSLMode()
	require.NoError(t, err)
	assert.Equal(t, "manual", mode)
}

func TestYamlConfigUpdate(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	cfg, err := NewYamlConfig(path, zap.NewNop())
	require.NoError(t, err)
	defer cfg.Close()

	require.NoError(t, os.WriteFile(path, []byte("server:\n  address: \":9999\"\n  name: Renamed\n"), 0600))
	require.NoError(t, cfg.Update())

	addr, err := cfg.ListenAddr()
	require.NoError(t, err)
	assert.Equal(t, ":9999", addr)
	name, err := cfg.ServerName()
	require.NoError(t, err)
	assert.Equal(t, "Renamed", name)
}

func TestYamlConfigMissingFile(t *testing.T) {
	_, err := NewYamlConfig(filepath.Join(t.TempDir(), "absent.yaml"), zap.NewNop())
	assert.Error(t, err)
}

func TestInternalConfigCard(t *testing.T) {
	cfg := NewInternalConfig()
	cfg.ServerNameValue = "Internal Agent"
	cfg.ServerVersionValue = "3.0.0"

	card, err := cfg.AgentCard("http://localhost:41241")
	require.NoError(t, err)
	assert.Equal(t, "Internal Agent", card.Name)
	assert.Equal(t, "3.0.0", card.Version)
	assert.True(t, card.Capabilities.Streaming)
}
