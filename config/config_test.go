package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1300, cfg.Data.MaxFragmentSize)
	assert.Equal(t, 4, cfg.Jitter.VideoTargetDepth)
	assert.Greater(t, cfg.Session.HeartbeatTimeout, cfg.Session.KeepAliveInterval)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vrlink.yaml")
	content := `
control:
  retransmit_timeout: 350ms
jitter:
  video_target_depth: 8
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 350*time.Millisecond, cfg.Control.RetransmitTimeout)
	assert.Equal(t, 8, cfg.Jitter.VideoTargetDepth)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched sections keep their defaults.
	assert.Equal(t, 2*time.Second, cfg.Handshake.Timeout)
	assert.Equal(t, 1300, cfg.Data.MaxFragmentSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("control: ["), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invalid.yaml")
	content := `
data:
  max_fragment_size: -1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "Zero handshake timeout", mutate: func(c *Config) { c.Handshake.Timeout = 0 }},
		{name: "Negative retries", mutate: func(c *Config) { c.Handshake.Retries = -1 }},
		{name: "Zero retransmit timeout", mutate: func(c *Config) { c.Control.RetransmitTimeout = 0 }},
		{name: "Zero max retransmits", mutate: func(c *Config) { c.Control.MaxRetransmits = 0 }},
		{name: "Zero fragment size", mutate: func(c *Config) { c.Data.MaxFragmentSize = 0 }},
		{name: "Zero jitter depth", mutate: func(c *Config) { c.Jitter.VideoTargetDepth = 0 }},
		{name: "Smoothing weight above one", mutate: func(c *Config) { c.Clock.SmoothingWeight = 1.5 }},
		{name: "Heartbeat not above keepalive", mutate: func(c *Config) {
			c.Session.HeartbeatTimeout = c.Session.KeepAliveInterval
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
