package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/devrev/pairdb/ringnode/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ringnode.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, 2048, cfg.Node.BufferSize)
	assert.Equal(t, 256, cfg.Node.InboxSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Node.PollInterval)
	assert.False(t, cfg.Admin.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, 7946, cfg.Gossip.BindPort)
	assert.Equal(t, time.Second, cfg.Gossip.ProbeInterval)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Nil(t, cfg.Node.EntryAddress())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
node:
  bind_ip: 10.0.0.1
  bind_port: 5001
  remote_ip: 10.0.0.2
  remote_port: 5002
  poll_interval: 100ms
gossip:
  enabled: true
  seed_nodes: ["10.0.0.2:7946"]
logging:
  format: console
`)
	t.Setenv("RINGNODE_NODE_BIND_PORT", "6001")
	t.Setenv("RINGNODE_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, model.NewAddress("10.0.0.1", 6001), cfg.Node.BindAddress())
	require.NotNil(t, cfg.Node.EntryAddress())
	assert.Equal(t, model.NewAddress("10.0.0.2", 5002), *cfg.Node.EntryAddress())
	assert.Equal(t, 100*time.Millisecond, cfg.Node.PollInterval)
	assert.Equal(t, []string{"10.0.0.2:7946"}, cfg.Gossip.SeedNodes)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "tiny buffer", mutate: func(c *Config) { c.Node.BufferSize = 8 }},
		{name: "zero inbox", mutate: func(c *Config) { c.Node.InboxSize = 0 }},
		{name: "zero poll interval", mutate: func(c *Config) { c.Node.PollInterval = 0 }},
		{name: "admin port", mutate: func(c *Config) { c.Admin.Enabled = true; c.Admin.Port = 70000 }},
		{name: "metrics path", mutate: func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Path = "metrics" }},
		{name: "rate limit", mutate: func(c *Config) { c.Metrics.Enabled = true; c.Metrics.RateLimit.BurstSize = 0 }},
		{name: "gossip port", mutate: func(c *Config) { c.Gossip.Enabled = true; c.Gossip.BindPort = 0 }},
		{name: "log format", mutate: func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, "{}\n"))
			require.NoError(t, err)

			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestYAML_RoundTrip(t *testing.T) {
	cfg, err := Load(writeConfig(t, "node:\n  bind_ip: 127.0.0.1\n  bind_port: 5001\n"))
	require.NoError(t, err)

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "poll_interval: 250ms")

	var back Config
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, cfg.Node, back.Node)
}
