package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "companiond.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFile_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
link:
  target: tcp://10.0.0.5:9000
logging:
  level: debug
`)

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)

	assert.Equal(t, "tcp://10.0.0.5:9000", cfg.Link.Target)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched sections keep their defaults.
	assert.Equal(t, "stream", cfg.Link.Transport)
	assert.Equal(t, 200, cfg.Dispatch.GraceMS)
	assert.True(t, cfg.Server.Enabled)
}

func TestLoadConfigFile_RejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
link:
  target: tcp://10.0.0.5:9000
  tagret_typo: oops
`)

	_, err := LoadConfigFile(path)
	assert.Error(t, err)
}

func TestLoadConfigFile_RejectsTrailingDocument(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: info
---
logging:
  level: debug
`)

	_, err := LoadConfigFile(path)
	assert.Error(t, err)
}

func TestLoadConfigFile_MissingFile(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestFlagOverrides_ApplyOnTopOfFile(t *testing.T) {
	cfg := DefaultConfig()

	target := "ws://192.168.1.50:8765/link"
	transport := "ws"
	disabled := false
	FlagOverrides{
		LinkTarget:    &target,
		LinkTransport: &transport,
		ServerEnabled: &disabled,
	}.Apply(&cfg)

	assert.Equal(t, "ws", cfg.Link.Transport)
	assert.Equal(t, target, cfg.Link.Target)
	assert.False(t, cfg.Server.Enabled)
	// Untouched values stay at defaults.
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad transport", func(c *Config) { c.Link.Transport = "carrier-pigeon" }},
		{"empty target", func(c *Config) { c.Link.Target = "" }},
		{"payload below header size", func(c *Config) { c.Link.MaxPayloadBytes = 10 }},
		{"zero handshake timeout", func(c *Config) { c.Link.HandshakeTimeoutMS = 0 }},
		{"negative grace", func(c *Config) { c.Dispatch.GraceMS = -1 }},
		{"negative settle", func(c *Config) { c.Dispatch.SettleMS = -1 }},
		{"zero queue", func(c *Config) { c.Dispatch.QueueSize = 0 }},
		{"server enabled without listen", func(c *Config) { c.Server.Enabled = true; c.Server.Listen = "" }},
		{"empty log level", func(c *Config) { c.Logging.Level = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "companiond.yaml"), ExpandPath("~/companiond.yaml"))
	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, "/etc/companiond.yaml", ExpandPath("/etc/companiond.yaml"))
	assert.Equal(t, "", ExpandPath(""))
}
