// Package config provides configuration management for the application.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LoggingConfig
	Routing   RoutingConfig
	Providers ProvidersConfig
	Cache     CacheConfig
	Health    HealthConfig
	Metrics   MetricsConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string
}

// LoggingConfig holds log output configuration.
type LoggingConfig struct {
	Level string
}

// RoutingConfig controls how the dispatcher orders fallback candidates.
type RoutingConfig struct {
	// Mode is one of "reliability", "cost", "quality".
	Mode string

	// FallbackOrder is the configured provider order used for
	// registration and deterministic tie-breaking.
	FallbackOrder []string
}

// ProviderConfig holds one provider's credentials and endpoint override.
// An empty APIKey means the provider is simply not registered.
type ProviderConfig struct {
	APIKey  string
	BaseURL string
}

// ProvidersConfig holds per-provider configuration.
type ProvidersConfig struct {
	Runway    ProviderConfig
	Pika      ProviderConfig
	Luma      ProviderConfig
	Stability ProviderConfig
}

// CacheConfig holds response cache configuration.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend    string
	MaxEntries int
	TTL        time.Duration
	RedisURL   string
}

// HealthConfig holds health monitor configuration.
type HealthConfig struct {
	Interval     time.Duration
	ProbeTimeout time.Duration

	// AlertUptimeThreshold is a percentage; zero disables alerting.
	AlertUptimeThreshold float64

	// AlertResponseTimeMs is in milliseconds.
	AlertResponseTimeMs int64
}

// MetricsConfig holds Prometheus exposure configuration.
type MetricsConfig struct {
	Enabled  bool
	Endpoint string
}

// Load reads configuration from an optional .env file and the
// environment.
func Load() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if .env file doesn't exist

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("ROUTING_MODE", "reliability")
	viper.SetDefault("FALLBACK_ORDER", "runway,pika,luma,stability")
	viper.SetDefault("CACHE_BACKEND", "memory")
	viper.SetDefault("CACHE_MAX_ENTRIES", 1000)
	viper.SetDefault("CACHE_TTL_HOURS", 24)
	viper.SetDefault("HEALTH_CHECK_INTERVAL_MINUTES", 5)
	viper.SetDefault("HEALTH_PROBE_TIMEOUT_SECONDS", 10)
	viper.SetDefault("ALERT_UPTIME_THRESHOLD", 95.0)
	viper.SetDefault("ALERT_RESPONSE_TIME_MS", 5000)
	viper.SetDefault("METRICS_ENABLED", true)
	viper.SetDefault("METRICS_ENDPOINT", "/metrics")

	viper.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetString("PORT"),
		},
		Logging: LoggingConfig{
			Level: viper.GetString("LOG_LEVEL"),
		},
		Routing: RoutingConfig{
			Mode:          viper.GetString("ROUTING_MODE"),
			FallbackOrder: splitList(viper.GetString("FALLBACK_ORDER")),
		},
		Providers: ProvidersConfig{
			Runway: ProviderConfig{
				APIKey:  viper.GetString("RUNWAY_API_KEY"),
				BaseURL: viper.GetString("RUNWAY_BASE_URL"),
			},
			Pika: ProviderConfig{
				APIKey:  viper.GetString("PIKA_API_KEY"),
				BaseURL: viper.GetString("PIKA_BASE_URL"),
			},
			Luma: ProviderConfig{
				APIKey:  viper.GetString("LUMA_API_KEY"),
				BaseURL: viper.GetString("LUMA_BASE_URL"),
			},
			Stability: ProviderConfig{
				APIKey:  viper.GetString("STABILITY_API_KEY"),
				BaseURL: viper.GetString("STABILITY_BASE_URL"),
			},
		},
		Cache: CacheConfig{
			Backend:    viper.GetString("CACHE_BACKEND"),
			MaxEntries: viper.GetInt("CACHE_MAX_ENTRIES"),
			TTL:        time.Duration(viper.GetInt("CACHE_TTL_HOURS")) * time.Hour,
			RedisURL:   viper.GetString("REDIS_URL"),
		},
		Health: HealthConfig{
			Interval:             time.Duration(viper.GetInt("HEALTH_CHECK_INTERVAL_MINUTES")) * time.Minute,
			ProbeTimeout:         time.Duration(viper.GetInt("HEALTH_PROBE_TIMEOUT_SECONDS")) * time.Second,
			AlertUptimeThreshold: viper.GetFloat64("ALERT_UPTIME_THRESHOLD"),
			AlertResponseTimeMs:  viper.GetInt64("ALERT_RESPONSE_TIME_MS"),
		},
		Metrics: MetricsConfig{
			Enabled:  viper.GetBool("METRICS_ENABLED"),
			Endpoint: viper.GetString("METRICS_ENDPOINT"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Routing.Mode {
	case "reliability", "cost", "quality":
	default:
		return fmt.Errorf("invalid ROUTING_MODE %q", c.Routing.Mode)
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid CACHE_BACKEND %q", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisURL == "" {
		return fmt.Errorf("CACHE_BACKEND=redis requires REDIS_URL")
	}
	return nil
}

// ConfiguredProviders returns the names of providers with a credential
// set, in fallback order.
func (c *Config) ConfiguredProviders() []string {
	byName := map[string]ProviderConfig{
		"runway":    c.Providers.Runway,
		"pika":      c.Providers.Pika,
		"luma":      c.Providers.Luma,
		"stability": c.Providers.Stability,
	}
	var out []string
	for _, name := range c.Routing.FallbackOrder {
		if pc, ok := byName[name]; ok && pc.APIKey != "" {
			out = append(out, name)
		}
	}
	return out
}

// Provider returns one provider's config by name.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	switch name {
	case "runway":
		return c.Providers.Runway, true
	case "pika":
		return c.Providers.Pika, true
	case "luma":
		return c.Providers.Luma, true
	case "stability":
		return c.Providers.Stability, true
	}
	return ProviderConfig{}, false
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
