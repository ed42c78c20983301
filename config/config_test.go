package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadWithEnv(t *testing.T, env map[string]string) (*Config, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	for k, v := range env {
		t.Setenv(k, v)
	}
	return Load()
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadWithEnv(t, nil)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "reliability", cfg.Routing.Mode)
	assert.Equal(t, []string{"runway", "pika", "luma", "stability"}, cfg.Routing.FallbackOrder)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 1000, cfg.Cache.MaxEntries)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 5*time.Minute, cfg.Health.Interval)
	assert.Equal(t, 10*time.Second, cfg.Health.ProbeTimeout)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Endpoint)
}

func TestLoadFromEnvironment(t *testing.T) {
	cfg, err := loadWithEnv(t, map[string]string{
		"PORT":            "9090",
		"ROUTING_MODE":    "cost",
		"FALLBACK_ORDER":  "pika, luma",
		"RUNWAY_API_KEY":  "key_abc",
		"PIKA_API_KEY":    "pk-def",
		"CACHE_TTL_HOURS": "6",
	})
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "cost", cfg.Routing.Mode)
	assert.Equal(t, []string{"pika", "luma"}, cfg.Routing.FallbackOrder)
	assert.Equal(t, "key_abc", cfg.Providers.Runway.APIKey)
	assert.Equal(t, 6*time.Hour, cfg.Cache.TTL)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad routing mode", map[string]string{"ROUTING_MODE": "random"}},
		{"bad cache backend", map[string]string{"CACHE_BACKEND": "memcached"}},
		{"redis without url", map[string]string{"CACHE_BACKEND": "redis"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadWithEnv(t, tt.env)
			assert.Error(t, err)
		})
	}
}

func TestConfiguredProviders(t *testing.T) {
	cfg, err := loadWithEnv(t, map[string]string{
		"RUNWAY_API_KEY":    "key_abc",
		"STABILITY_API_KEY": "sk-xyz",
	})
	require.NoError(t, err)

	// Only credentialed providers, in fallback order.
	assert.Equal(t, []string{"runway", "stability"}, cfg.ConfiguredProviders())

	pc, ok := cfg.Provider("runway")
	require.True(t, ok)
	assert.Equal(t, "key_abc", pc.APIKey)

	_, ok = cfg.Provider("unknown")
	assert.False(t, ok)
}
