package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	cfg, err := New(zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, developmentBaseURL, cfg.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 3, cfg.RetryCount)
	assert.Equal(t, time.Second, cfg.RetryDelay)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 3, cfg.MaxSyncAttempts)
	assert.Equal(t, StoreSQLite, cfg.StoreDriver)
}

func TestNew_ProductionBaseURL(t *testing.T) {
	t.Setenv("IRISELLER_ENVIRONMENT", "production")

	cfg, err := New(zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, productionBaseURL, cfg.BaseURL)
}

func TestNew_BaseURLOverrideTrimmed(t *testing.T) {
	t.Setenv("IRISELLER_BASE_URL", "http://10.0.0.5:3001/api/")

	cfg, err := New(zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:3001/api", cfg.BaseURL)
}

func TestResolveDefaults_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"environment", func(c *Config) { c.Environment = "staging" }},
		{"store driver", func(c *Config) { c.StoreDriver = "postgres" }},
		{"sqlite without path", func(c *Config) { c.StoreDriver = StoreSQLite; c.StorePath = "" }},
		{"timeout", func(c *Config) { c.HTTPTimeout = 0 }},
		{"retry count", func(c *Config) { c.RetryCount = -1 }},
		{"max attempts", func(c *Config) { c.MaxSyncAttempts = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewForTesting()
			tc.mutate(cfg)
			assert.Error(t, cfg.ResolveDefaults())
		})
	}
}

func TestNewForTesting_Valid(t *testing.T) {
	cfg := NewForTesting()
	require.NoError(t, cfg.ResolveDefaults())
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
}

func TestNew_BlankDebugIsFalse(t *testing.T) {
	t.Setenv("IRISELLER_DEBUG", "")

	cfg, err := New(zerolog.Nop())
	require.NoError(t, err)
	assert.False(t, bool(cfg.Debug))
}

func TestNew_DebugFlagValues(t *testing.T) {
	for value, want := range map[string]bool{"true": true, "1": true, "false": false, "0": false} {
		t.Run(value, func(t *testing.T) {
			t.Setenv("IRISELLER_DEBUG", value)

			cfg, err := New(zerolog.Nop())
			require.NoError(t, err)
			assert.Equal(t, want, bool(cfg.Debug))
		})
	}
}

func TestNew_InvalidDebugRejected(t *testing.T) {
	t.Setenv("IRISELLER_DEBUG", "maybe")

	_, err := New(zerolog.Nop())
	require.Error(t, err)
}
