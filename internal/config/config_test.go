package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store)
	assert.Equal(t, 260000, cfg.KDF.PBKDF2Iterations)
	assert.Equal(t, 5, cfg.Lockout.MaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Lockout.Duration)

	assert.InDelta(t, 0.75, cfg.Match.Identify.ConfidenceThreshold, 1e-9)
	assert.Equal(t, 3, cfg.Match.Identify.RequiredMatches)
	assert.Equal(t, 20*time.Second, cfg.Match.Identify.Timeout)
	assert.InDelta(t, 0.65, cfg.Match.Verify.ConfidenceThreshold, 1e-9)
	assert.Equal(t, 1, cfg.Match.Verify.RequiredMatches)
	assert.Equal(t, 15*time.Second, cfg.Match.Verify.Timeout)
	assert.Equal(t, 0, cfg.Match.MaxMismatches)
	assert.Equal(t, 64, cfg.Biometric.CropSize)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("MATCH_VERIFY_THRESHOLD", "0.9")
	t.Setenv("LOCKOUT_DURATION", "2m")
	t.Setenv("SERVER_ALLOWED_ORIGINS", "http://kiosk.local, http://localhost:3000")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store)
	assert.InDelta(t, 0.9, cfg.Match.Verify.ConfidenceThreshold, 1e-9)
	assert.Equal(t, 2*time.Minute, cfg.Lockout.Duration)
	assert.Equal(t, []string{"http://kiosk.local", "http://localhost:3000"}, cfg.Server.AllowedOrigins)
}

func TestLoadDotenvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DATABASE_NAME=kiosk\nMATCH_IDENTIFY_REQUIRED=4\n"), 0o600))

	t.Run("file values apply", func(t *testing.T) {
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "kiosk", cfg.Database.Name)
		assert.Equal(t, 4, cfg.Match.Identify.RequiredMatches)
	})

	t.Run("environment wins over file", func(t *testing.T) {
		t.Setenv("DATABASE_NAME", "from_env")
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "from_env", cfg.Database.Name)
	})
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	assert.Equal(t, "iris_ballot", cfg.Database.Name)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "weak kdf", mutate: func(c *Config) { c.KDF.PBKDF2Iterations = 1000 }},
		{name: "unknown store", mutate: func(c *Config) { c.Store = "sqlite" }},
		{name: "threshold above one", mutate: func(c *Config) { c.Match.Identify.ConfidenceThreshold = 1.5 }},
		{name: "zero required matches", mutate: func(c *Config) { c.Match.Verify.RequiredMatches = 0 }},
		{name: "negative mismatches", mutate: func(c *Config) { c.Match.MaxMismatches = -1 }},
		{name: "zero lockout attempts", mutate: func(c *Config) { c.Lockout.MaxAttempts = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
