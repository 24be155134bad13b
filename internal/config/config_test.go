package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaultsValid(t *testing.T) {
	require.NoError(t, Validate(GetDefaults()))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"log level", func(c *Config) { c.Logging.Level = "trace" }},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"redaction char", func(c *Config) { c.Privacy.Redaction.Char = "##" }},
		{"empty redaction char", func(c *Config) { c.Privacy.Redaction.Char = "" }},
		{"partial chars", func(c *Config) { c.Privacy.Redaction.PartialChars = -1 }},
		{"preview length", func(c *Config) { c.Privacy.PreviewLength = 0 }},
		{"max events", func(c *Config) { c.Audit.MaxEvents = 0 }},
		{"storage larger than memory", func(c *Config) { c.Audit.Storage.Capacity = c.Audit.MaxEvents + 1 }},
		{"backend", func(c *Config) { c.Audit.Storage.Backend = "s3" }},
		{"rate limit", func(c *Config) { c.RateLimit.RequestsPerMin = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaults()
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `
server:
  port: 9090
privacy:
  detectors: ["SSN", "Email"]
  redaction:
    char: "#"
audit:
  max_events: 50
  storage:
    backend: sqlite
    capacity: 20
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, []string{"SSN", "Email"}, cfg.Privacy.Detectors)
		assert.Equal(t, "#", cfg.Privacy.Redaction.Char)
		assert.True(t, cfg.Privacy.Redaction.PreserveLength)
		assert.Equal(t, 50, cfg.Audit.MaxEvents)
		assert.Equal(t, "sqlite", cfg.Audit.Storage.Backend)
		assert.Equal(t, 20, cfg.Audit.Storage.Capacity)
	})

	t.Run("invalid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("audit:\n  storage:\n    backend: tape\n"), 0o600))

		_, err := Load(path)
		assert.Error(t, err)
	})
}
